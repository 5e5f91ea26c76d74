package ackchan

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/agentward/internal/history"
	"github.com/loykin/agentward/internal/metrics"
)

// DefaultAckTimeout bounds a Send that carries no caller deadline.
const DefaultAckTimeout = 10 * time.Second

// Channel wraps one already-open Transport with per-message delivery
// confirmation. Exactly one Channel should wrap a given transport endpoint.
// The pending-message set is exclusively owned by the Channel.
type Channel struct {
	tr         Transport
	log        *slog.Logger
	name       string
	ackTimeout time.Duration
	sink       history.Sink
	idPrefix   string
	seq        atomic.Uint64

	mu         sync.Mutex
	pending    map[string]*pendingMsg
	disposed   bool
	unsubMsg   func()
	unsubClose func()

	done chan struct{}
}

// pendingMsg is the bookkeeping record for one outstanding Send. Its result
// channel is buffered and receives exactly one value: whoever settles the
// entry first wins, later settlement attempts are no-ops.
type pendingMsg struct {
	id     string
	sentAt time.Time
	result chan error
}

type Option func(*Channel)

// WithLogger supplies the channel's logger. Loggers are passed in
// explicitly; the package keeps no ambient logging state.
func WithLogger(l *slog.Logger) Option { return func(c *Channel) { c.log = l } }

// WithAckTimeout overrides the default deadline applied to sends whose
// context carries none.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.ackTimeout = d
		}
	}
}

// WithName sets the label used in log lines and metrics.
func WithName(name string) Option { return func(c *Channel) { c.name = name } }

// WithHistorySink records every send outcome (resolved or rejected) as an
// audit event, alongside the supervisor lifecycle events.
func WithHistorySink(s history.Sink) Option { return func(c *Channel) { c.sink = s } }

// New binds a Channel to tr, starting the transport and registering the
// message and close handlers. Transport closure disposes the channel.
func New(tr Transport, opts ...Option) (*Channel, error) {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	c := &Channel{
		tr:         tr,
		log:        slog.New(slog.DiscardHandler),
		name:       "channel",
		ackTimeout: DefaultAckTimeout,
		idPrefix:   hex.EncodeToString(buf),
		pending:    make(map[string]*pendingMsg),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if err := tr.Start(); err != nil {
		return nil, fmt.Errorf("start transport: %w", err)
	}
	c.unsubMsg = tr.OnMessage(c.handleFrame)
	c.unsubClose = tr.OnClose(func(error) { c.Dispose() })
	return c, nil
}

func (c *Channel) nextID() string {
	return c.idPrefix + "-" + strconv.FormatUint(c.seq.Add(1), 10)
}

// Send transmits payload as a data frame and blocks until the receiver
// acknowledges it, the deadline passes, or the channel is disposed. The
// returned error is nil on a clean ack, *RemoteError when the receiver
// acknowledged but reported a processing failure, and *AckTimeoutError
// otherwise. Sends are independently correlated; callers wanting ordering
// must serialize their own calls.
func (c *Channel) Send(ctx context.Context, payload any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	id := c.nextID()
	if err := ctx.Err(); err != nil {
		return &AckTimeoutError{ID: id, Cause: err}
	}
	if dl, ok := ctx.Deadline(); ok {
		if !time.Now().Before(dl) {
			return &AckTimeoutError{ID: id, Cause: context.DeadlineExceeded}
		}
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.ackTimeout)
		defer cancel()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	p := &pendingMsg{id: id, sentAt: time.Now(), result: make(chan error, 1)}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		metrics.IncAckRejected(c.name, "disposed")
		return &AckTimeoutError{ID: id, Cause: ErrDisposed}
	}
	c.pending[id] = p
	n := len(c.pending)
	c.mu.Unlock()
	metrics.SetPendingMessages(c.name, n)

	if err := c.tr.Send(Frame{Type: FrameData, ID: id, Payload: raw}); err != nil {
		c.settle(id, fmt.Errorf("transmit message %s: %w", id, err))
		return <-p.result
	}
	c.log.Debug("message sent", "channel", c.name, "id", id)

	select {
	case err := <-p.result:
		return err
	case <-ctx.Done():
		// The ack may land at this very moment; settle is first-wins, so
		// read the result channel for the actual outcome either way.
		c.settle(id, &AckTimeoutError{ID: id, Cause: context.Cause(ctx)})
		return <-p.result
	}
}

// settle resolves the pending entry for id with err, removing it from the
// tracking set. Exactly one settle per entry takes effect; the rest report
// false.
func (c *Channel) settle(id string, err error) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	n := len(c.pending)
	c.mu.Unlock()
	if !ok {
		return false
	}
	metrics.SetPendingMessages(c.name, n)
	c.observeOutcome(p, err)
	p.result <- err
	return true
}

func (c *Channel) observeOutcome(p *pendingMsg, err error) {
	switch err.(type) {
	case nil:
		metrics.IncAckResolved(c.name)
		metrics.ObserveAckLatency(c.name, time.Since(p.sentAt).Seconds())
		c.record(history.EventSendResolved, "")
	case *RemoteError:
		metrics.IncAckRejected(c.name, "remote")
		c.record(history.EventSendRejected, err.Error())
	case *AckTimeoutError:
		metrics.IncAckRejected(c.name, "timeout")
		c.record(history.EventSendRejected, err.Error())
	default:
		metrics.IncAckRejected(c.name, "transport")
		c.record(history.EventSendRejected, err.Error())
	}
}

// record ships one send outcome to the configured sink. Delivery happens
// off the settle path so a slow sink never delays a Send resolving.
func (c *Channel) record(t history.EventType, detail string) {
	if c.sink == nil {
		return
	}
	ev := history.Event{
		Type:       t,
		OccurredAt: time.Now(),
		Label:      c.name,
		Detail:     detail,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.sink.Send(ctx, ev); err != nil {
			c.log.Debug("history sink send failed", "event", string(t), "error", err)
		}
	}()
}

func (c *Channel) handleFrame(f Frame) {
	if f.Type != FrameAck {
		return
	}
	var res error
	if f.Error != "" {
		res = &RemoteError{ID: f.ID, Reason: f.Error}
	}
	if !c.settle(f.ID, res) {
		// Unknown or already-resolved id: late ack after a timeout won.
		c.log.Debug("ignoring ack for unknown message", "channel", c.name, "id", f.ID)
	}
}

// Handle wires the receiving side of the contract: for every incoming data
// frame, fn is run and exactly one ack frame is sent back, its error field
// populated only when fn failed. The returned function unsubscribes.
func (c *Channel) Handle(fn func(ctx context.Context, payload json.RawMessage) error) func() {
	return c.tr.OnMessage(func(f Frame) {
		if f.Type != FrameData {
			return
		}
		ack := Frame{Type: FrameAck, ID: f.ID}
		if err := fn(context.Background(), f.Payload); err != nil {
			ack.Error = err.Error()
		}
		if err := c.tr.Send(ack); err != nil {
			c.log.Debug("ack transmit failed", "channel", c.name, "id", f.ID, "error", err)
		}
	})
}

// Done returns a channel closed exactly once, when the Channel has been
// torn down.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Dispose tears the channel down: both transport handlers are
// deregistered, every still-pending send is rejected with an
// *AckTimeoutError wrapping ErrDisposed, and Done is closed. Dispose is
// idempotent. It fires automatically when the transport closes.
func (c *Channel) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	orphans := c.pending
	c.pending = make(map[string]*pendingMsg)
	unsubMsg, unsubClose := c.unsubMsg, c.unsubClose
	c.unsubMsg, c.unsubClose = nil, nil
	c.mu.Unlock()

	if unsubMsg != nil {
		unsubMsg()
	}
	if unsubClose != nil {
		unsubClose()
	}
	for id, p := range orphans {
		metrics.IncAckRejected(c.name, "disposed")
		c.record(history.EventSendRejected, "channel disposed")
		p.result <- &AckTimeoutError{ID: id, Cause: ErrDisposed}
	}
	metrics.SetPendingMessages(c.name, 0)
	c.log.Debug("channel disposed", "channel", c.name, "rejected", len(orphans))
	close(c.done)
}
