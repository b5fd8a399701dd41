package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"

	"vtunerd/internal/logging"
)

const exporterName = "vtunerd"

// NewRegistry builds a Prometheus registry holding the device collector,
// the optional RPC instruments and the build info collector.
func NewRegistry(source Source, rpc *RPC) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		NewCollector(source),
		version.NewCollector(exporterName),
	}
	if rpc != nil {
		collectors = append(collectors, rpc)
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return reg, nil
}

// Server exposes a registry over HTTP.
type Server struct {
	bind     string
	path     string
	handler  http.Handler
	logger   *slog.Logger
	listener net.Listener
	srv      *http.Server
}

// NewServer prepares an exporter on bind serving path.
func NewServer(bind, path string, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`<html>
             <head><title>vtunerd</title></head>
             <body>
             <h1>vtunerd</h1>
             <p><a href='` + path + `'>Metrics</a></p>
             </body>
             </html>`))
	})
	return &Server{
		bind:    bind,
		path:    path,
		handler: mux,
		logger:  logging.NewComponentLogger(logger, "metrics"),
	}
}

// Start binds the listener and serves in the background until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.bind, err)
	}
	s.listener = listener
	s.srv = &http.Server{Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "metrics server stopped", "metrics_serve_failed", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("metrics exporter listening",
		logging.String("addr", listener.Addr().String()),
		logging.String("path", s.path),
	)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the HTTP server down.
func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}
