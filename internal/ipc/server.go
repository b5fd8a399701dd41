package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"vtunerd/internal/daemon"
	"vtunerd/internal/logging"
	"vtunerd/internal/registry"
)

const shutdownGrace = 2 * time.Second

// Server exposes the control, tuner and daemon services via JSON-RPC over a
// Unix domain socket. Each connection gets its own RPC server so control
// sessions are scoped to the connection that opened them.
type Server struct {
	path     string
	daemon   *daemon.Daemon
	logger   *slog.Logger
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[*connState]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:     path,
		daemon:   d,
		logger:   logging.NewComponentLogger(logger, "ipc"),
		listener: listener,
		ctx:      serverCtx,
		cancel:   cancel,
		conns:    make(map[*connState]struct{}),
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.serveConn(c)
			}(conn)
		}
	}()
}

func (s *Server) serveConn(c net.Conn) {
	state := newConnState(s.ctx, c, s.daemon, s.logger)
	s.mu.Lock()
	s.conns[state] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, state)
		s.mu.Unlock()
	}()

	rpcServer := rpc.NewServer()
	services := map[string]any{
		"Control": &controlService{conn: state},
		"Tuner":   &tunerService{conn: state},
		"Daemon":  &daemonService{conn: state},
	}
	for name, svc := range services {
		if err := rpcServer.RegisterName(name, svc); err != nil {
			logging.ErrorWithContext(s.logger, "register rpc service", "ipc_register_failed",
				logging.String("service", name), logging.Error(err))
			_ = c.Close()
			return
		}
	}

	codec := &watchedCodec{ServerCodec: jsonrpc.NewServerCodec(c), onClose: state.shutdown}
	rpcServer.ServeCodec(codec)
	state.shutdown()
}

// Close stops the server, ends every connection and removes the socket file.
// In-flight calls are unblocked and given a grace period to reply.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.mu.Lock()
	conns := make([]*connState, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.closeRead()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		for _, c := range conns {
			_ = c.conn.Close()
		}
		<-done
	}

	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun vtunerd stop"))
	}
}

// watchedCodec reports the end of the request stream before net/rpc waits
// for in-flight calls, so blocked calls can be cancelled.
type watchedCodec struct {
	rpc.ServerCodec
	onClose func()
}

func (w *watchedCodec) ReadRequestHeader(r *rpc.Request) error {
	err := w.ServerCodec.ReadRequestHeader(r)
	if err != nil {
		w.onClose()
	}
	return err
}

// connState tracks the control sessions opened over one connection.
type connState struct {
	conn   net.Conn
	daemon *daemon.Daemon
	peer   registry.Peer
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu       sync.Mutex
	sessions map[string]*registry.Device
}

func newConnState(parent context.Context, c net.Conn, d *daemon.Daemon, logger *slog.Logger) *connState {
	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(logging.WithCorrelationID(parent, connID))
	peer := peerCredentials(c)
	return &connState{
		conn:   c,
		daemon: d,
		peer:   peer,
		logger: logger.With(
			logging.String(logging.FieldCorrelationID, connID),
			logging.Int("peer_pid", int(peer.PID)),
		),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*registry.Device),
	}
}

// shutdown cancels in-flight calls and closes every session the connection
// still owns.
func (c *connState) shutdown() {
	c.once.Do(func() {
		c.cancel()
		c.mu.Lock()
		sessions := c.sessions
		c.sessions = make(map[string]*registry.Device)
		c.mu.Unlock()
		for id, dev := range sessions {
			if err := dev.CloseSession(id); err != nil && !errors.Is(err, registry.ErrNoSession) {
				c.logger.Warn("closing session of dropped connection failed",
					logging.Session(id),
					logging.Error(err))
			}
		}
		if len(sessions) > 0 {
			c.logger.Debug("connection closed", logging.Int("sessions_closed", len(sessions)))
		}
	})
}

func (c *connState) closeRead() {
	if cr, ok := c.conn.(interface{ CloseRead() error }); ok {
		if err := cr.CloseRead(); err == nil {
			return
		}
	}
	_ = c.conn.Close()
}

func (c *connState) addSession(id string, dev *registry.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[id] = dev
}

func (c *connState) removeSession(id string) (*registry.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dev, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrNoSession, id)
	}
	delete(c.sessions, id)
	return dev, nil
}

// session returns the device of an open session owned by this connection.
func (c *connState) session(id string) (*registry.Device, error) {
	c.mu.Lock()
	dev, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok || !dev.HasSession(id) {
		return nil, fmt.Errorf("%w: %s", registry.ErrNoSession, id)
	}
	return dev, nil
}

// callContext derives the context of one call, bounded by timeoutMillis when
// positive.
func (c *connState) callContext(timeoutMillis int) (context.Context, context.CancelFunc) {
	if timeoutMillis > 0 {
		return context.WithTimeout(c.ctx, time.Duration(timeoutMillis)*time.Millisecond)
	}
	return context.WithCancel(c.ctx)
}

func (c *connState) observe(method string, started time.Time, err error) {
	c.daemon.RPC().Observe(method, started, err)
	if err != nil {
		c.logger.Debug("rpc call failed", logging.String("method", method), logging.Error(err))
	}
}

func peerCredentials(c net.Conn) registry.Peer {
	uc, ok := c.(*net.UnixConn)
	if !ok {
		return registry.Peer{}
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return registry.Peer{}
	}
	var peer registry.Peer
	_ = raw.Control(func(fd uintptr) {
		cred, credErr := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if credErr == nil {
			peer = registry.Peer{PID: cred.Pid, UID: cred.Uid}
		}
	})
	return peer
}
