package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"vtunerd/internal/logging"
	"vtunerd/internal/message"
)

var (
	// ErrNoConsumer reports that no control session is attached. Callers that
	// submitted fire-and-forget messages may treat it as a no-op.
	ErrNoConsumer = errors.New("no consumer attached")
	// ErrInterrupted reports that a wait was abandoned because its context ended.
	ErrInterrupted = errors.New("exchange interrupted")
	// ErrUnexpectedResponse reports a response posted while no taken request
	// is waiting for one.
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrProtocolViolation marks an internal-consistency failure of the slot
	// state machine. It is raised as a panic, never returned.
	ErrProtocolViolation = errors.New("mailbox protocol violation")
)

type slot struct {
	msg    message.Message
	filled bool
}

// Channel is the single-slot request/response mailbox shared by the stack
// side (producers) and the external control process (consumer) of one device.
//
// At most one exchange is in flight. A producer that expects a response owns
// the exchange token for the whole round trip; a fire-and-forget producer
// hands the token to the consumer, which returns it when it takes the request.
type Channel struct {
	token chan struct{}

	mu       sync.Mutex
	cond     *sync.Cond
	request  slot
	response slot

	// handoff is set while an untaken fire-and-forget request owns the token.
	handoff bool
	// awaiting is set while a taken request still expects a response.
	awaiting bool
	// waiting is set while a producer blocks on the response slot.
	waiting   bool
	consumers int

	exchanges atomic.Uint64
	logger    *slog.Logger
}

// New returns an empty channel with no consumer attached.
func New(logger *slog.Logger) *Channel {
	c := &Channel{
		token:  make(chan struct{}, 1),
		logger: logging.NewComponentLogger(logger, "mailbox"),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Submit posts msg to the consumer. With expectResponse the call blocks until
// the consumer answers and returns a copy of the answer; otherwise it returns
// (nil, nil) as soon as the request is posted.
func (c *Channel) Submit(ctx context.Context, msg message.Message, expectResponse bool) (*message.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.consumers == 0 {
		c.mu.Unlock()
		c.release()
		return nil, ErrNoConsumer
	}
	if c.request.filled || c.handoff || c.awaiting {
		c.mu.Unlock()
		c.release()
		panic(fmt.Errorf("%w: request slot busy while holding the exchange token (kind %s)", ErrProtocolViolation, msg.Kind))
	}

	c.request = slot{msg: msg, filled: true}
	c.response = slot{}
	c.exchanges.Add(1)
	c.cond.Broadcast()

	if !expectResponse {
		c.handoff = true
		c.mu.Unlock()
		return nil, nil
	}

	c.waiting = true
	stop := context.AfterFunc(ctx, c.wake)
	for !c.response.filled && ctx.Err() == nil {
		c.cond.Wait()
	}
	stop()
	c.waiting = false

	if !c.response.filled {
		// Abandoned: drop an untaken request and ignore a late answer.
		c.request = slot{}
		c.awaiting = false
		c.mu.Unlock()
		c.release()
		return nil, fmt.Errorf("%w: waiting for %s response: %w", ErrInterrupted, msg.Kind, ctx.Err())
	}

	resp := c.response.msg
	c.response = slot{}
	c.mu.Unlock()
	c.release()

	if resp.NoResponse() {
		return nil, ErrNoConsumer
	}
	return &resp, nil
}

// TakeRequest blocks until a request is available and returns a copy of it.
// It fails with ErrNoConsumer once the last session detaches.
func (c *Channel) TakeRequest(ctx context.Context) (message.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, c.wake)
	defer stop()
	for !c.request.filled && c.consumers > 0 && ctx.Err() == nil {
		c.cond.Wait()
	}
	if ctx.Err() != nil && !c.request.filled {
		return message.Message{}, fmt.Errorf("%w: waiting for request: %w", ErrInterrupted, ctx.Err())
	}
	if !c.request.filled {
		return message.Message{}, ErrNoConsumer
	}

	msg := c.request.msg
	c.request = slot{}
	if c.handoff {
		c.handoff = false
		c.release()
	} else {
		c.awaiting = true
	}
	return msg, nil
}

// PostResponse answers the request most recently taken.
func (c *Channel) PostResponse(msg message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.awaiting {
		c.logger.Debug("discarding response without pending request",
			logging.String("kind", msg.Kind.String()),
			logging.String(logging.FieldEventType, "mailbox_response_discarded"),
		)
		return ErrUnexpectedResponse
	}
	c.awaiting = false
	c.response = slot{msg: msg, filled: true}
	c.cond.Broadcast()
	return nil
}

// Attach registers a consumer session.
func (c *Channel) Attach() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers++
	return c.consumers
}

// Detach unregisters a consumer session. When the last one leaves, a producer
// waiting for a response is released with a synthetic answer and any untaken
// request is dropped.
func (c *Channel) Detach() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumers > 0 {
		c.consumers--
	}
	if c.consumers > 0 {
		return c.consumers
	}

	if c.request.filled {
		c.logger.Debug("dropping untaken request on shutdown",
			logging.String("kind", c.request.msg.Kind.String()),
			logging.String(logging.FieldEventType, "mailbox_request_dropped"),
		)
		c.request = slot{}
	}
	if c.handoff {
		c.handoff = false
		c.release()
	}
	c.awaiting = false
	if c.waiting {
		c.response = slot{msg: message.New(message.KindNone), filled: true}
	}
	c.cond.Broadcast()
	return 0
}

// Consumers returns the number of attached sessions.
func (c *Channel) Consumers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consumers
}

// Exchanges returns the number of requests posted since creation.
func (c *Channel) Exchanges() uint64 {
	return c.exchanges.Load()
}

func (c *Channel) acquire(ctx context.Context) error {
	select {
	case c.token <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: acquiring exchange: %w", ErrInterrupted, ctx.Err())
	}
}

func (c *Channel) release() {
	select {
	case <-c.token:
	default:
		panic(fmt.Errorf("%w: exchange token released twice", ErrProtocolViolation))
	}
}

func (c *Channel) wake() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}
