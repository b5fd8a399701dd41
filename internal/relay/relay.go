package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Comcast/gots/packet"

	"vtunerd/internal/ipc"
	"vtunerd/internal/logging"
	"vtunerd/internal/message"
)

const (
	defaultPoll         = 500 * time.Millisecond
	defaultChunkPackets = 348
)

// Client is the part of the daemon control surface the relay uses.
// *ipc.Client satisfies it.
type Client interface {
	OpenSession(device int) (*ipc.OpenSessionResponse, error)
	CloseSession(sessionID string) error
	GetMessage(sessionID string, timeout time.Duration) (*ipc.GetMessageResponse, error)
	SetResponse(sessionID string, msg message.Message) error
	SetType(sessionID, name string) error
	SetName(sessionID, name string) error
	WriteTS(sessionID string, data []byte) (int, error)
}

// Options configures a relay run.
type Options struct {
	Device int
	// Type and Name are applied after the session opens when non-empty.
	Type string
	Name string
	// TSFile is pushed to the device in ChunkPackets-sized writes.
	TSFile       string
	ChunkPackets int
	// Interval paces TS writes; zero writes as fast as the daemon accepts.
	Interval time.Duration
	// Loop rewinds TSFile at EOF until the context ends.
	Loop bool
	// Poll bounds each GetMessage wait so cancellation is noticed.
	Poll time.Duration
}

// Relay is a reference control process: it answers every request with a
// simulated tuner and optionally feeds a TS file back to the stack.
type Relay struct {
	client Client
	opts   Options
	tuner  *Tuner
	logger *slog.Logger

	sessionID string
}

// New binds a relay to a connected client.
func New(client Client, opts Options, logger *slog.Logger) *Relay {
	if opts.Poll <= 0 {
		opts.Poll = defaultPoll
	}
	if opts.ChunkPackets <= 0 {
		opts.ChunkPackets = defaultChunkPackets
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Relay{
		client: client,
		opts:   opts,
		tuner:  NewTuner(),
		logger: logging.NewComponentLogger(logger, "relay").With(logging.Device(opts.Device)),
	}
}

// Tuner exposes the simulated tuner.
func (r *Relay) Tuner() *Tuner {
	return r.tuner
}

// Run opens a control session and serves it until ctx ends or the daemon
// closes the session. The session is closed on return.
func (r *Relay) Run(ctx context.Context) error {
	sess, err := r.client.OpenSession(r.opts.Device)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	r.sessionID = sess.SessionID
	r.logger = r.logger.With(logging.Session(sess.SessionID))
	defer func() {
		if err := r.client.CloseSession(r.sessionID); err != nil {
			r.logger.Debug("close session", logging.Error(err))
		}
	}()

	if t := strings.TrimSpace(r.opts.Type); t != "" {
		if err := r.client.SetType(r.sessionID, t); err != nil {
			return fmt.Errorf("set type %q: %w", t, err)
		}
	}
	if n := strings.TrimSpace(r.opts.Name); n != "" {
		if err := r.client.SetName(r.sessionID, n); err != nil {
			return fmt.Errorf("set name: %w", err)
		}
	}
	r.logger.Info("relay session opened",
		logging.String(logging.FieldEventType, "relay_started"),
		logging.String("type", r.opts.Type),
		logging.String("ts_file", r.opts.TSFile),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	feedErr := make(chan error, 1)
	if r.opts.TSFile != "" {
		go func() {
			feedErr <- r.feed(runCtx)
		}()
	}

	err = r.serve(runCtx)
	cancel()
	if r.opts.TSFile != "" {
		if ferr := <-feedErr; ferr != nil && !errors.Is(ferr, context.Canceled) && err == nil {
			err = ferr
		}
	}
	return err
}

func (r *Relay) serve(ctx context.Context) error {
	for ctx.Err() == nil {
		resp, err := r.client.GetMessage(r.sessionID, r.opts.Poll)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("get message: %w", err)
		}
		if resp.Closed {
			r.logger.Info("session closed by daemon")
			return nil
		}
		if resp.Timeout {
			continue
		}

		answer, ok := r.tuner.Answer(resp.Message)
		if !ok {
			r.logger.Debug("pid list received",
				logging.PIDs(resp.Message.PIDs()))
			continue
		}
		r.logger.Debug("request answered", logging.String("kind", resp.Message.Kind.String()))
		if err := r.client.SetResponse(r.sessionID, answer); err != nil {
			logging.WarnWithContext(r.logger, "response not delivered", "relay_response_failed",
				logging.String("kind", resp.Message.Kind.String()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the stack call sees a missing answer"),
			)
		}
	}
	return nil
}

// feed pushes the TS file in whole-packet chunks.
func (r *Relay) feed(ctx context.Context) error {
	f, err := os.Open(r.opts.TSFile)
	if err != nil {
		return fmt.Errorf("open ts file: %w", err)
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil && info.Size() < packet.PacketSize {
		return fmt.Errorf("ts file %s holds no whole packet", r.opts.TSFile)
	}

	buf := make([]byte, r.opts.ChunkPackets*packet.PacketSize)
	var total int
	for ctx.Err() == nil {
		n, err := io.ReadFull(f, buf)
		if n >= packet.PacketSize {
			accepted, werr := r.client.WriteTS(r.sessionID, buf[:n])
			if werr != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("write ts: %w", werr)
			}
			total += accepted
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if !r.opts.Loop {
				r.logger.Info("ts file delivered", logging.Int("bytes", total))
				return nil
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind ts file: %w", err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("read ts file: %w", err)
		}
		if r.opts.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.opts.Interval):
			}
		}
	}
	return ctx.Err()
}
