package ackchan

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

// Transport is a fire-and-forget frame carrier. It delivers outgoing frames
// best-effort and reports incoming frames and closure through explicitly
// registered handlers. Registration returns an unsubscribe function so that
// teardown is deterministic rather than left to garbage collection.
type Transport interface {
	// Start activates the transport. It must be called exactly once before
	// Send and is idempotent for implementations that need no activation.
	Start() error
	// Send transmits one frame. Delivery is not confirmed.
	Send(f Frame) error
	// OnMessage registers a handler for incoming frames.
	OnMessage(fn func(Frame)) (unsubscribe func())
	// OnClose registers a handler invoked exactly once when the transport
	// closes for any reason. A handler registered after closure is invoked
	// immediately.
	OnClose(fn func(err error)) (unsubscribe func())
	// Close tears the transport down, firing the close handlers.
	Close() error
}

var errTransportClosed = errors.New("transport closed")

// maxFrameSize bounds a single newline-delimited frame.
const maxFrameSize = 1 << 20

// PipeTransport frames newline-delimited JSON over any stream-like
// io.ReadWriteCloser: an os.Pipe pair, a socketpair end, or a net.Conn.
// A reader goroutine started by Start dispatches incoming frames; hitting
// EOF or a read error fires the close handlers exactly once.
type PipeTransport struct {
	rw io.ReadWriteCloser

	// wmu serializes writes to rw. It is never held together with mu:
	// a write may block until the peer reads, and the peer's reader may
	// be dispatching into handlers that write back, so holding mu across
	// a write would let the two endpoints deadlock each other.
	wmu sync.Mutex

	mu        sync.Mutex
	started   bool
	closed    bool
	closeErr  error
	nextSub   int
	msgSubs   map[int]func(Frame)
	closeSubs map[int]func(error)
}

func NewPipeTransport(rw io.ReadWriteCloser) *PipeTransport {
	return &PipeTransport{
		rw:        rw,
		msgSubs:   make(map[int]func(Frame)),
		closeSubs: make(map[int]func(error)),
	}
}

func (t *PipeTransport) Start() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errTransportClosed
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()
	go t.readLoop()
	return nil
}

func (t *PipeTransport) readLoop() {
	sc := bufio.NewScanner(t.rw)
	sc.Buffer(make([]byte, 0, 4096), maxFrameSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			// Malformed frames are dropped; the stream itself is still good.
			continue
		}
		for _, fn := range t.messageHandlers() {
			fn(f)
		}
	}
	t.fireClosed(sc.Err())
}

func (t *PipeTransport) messageHandlers() []func(Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fns := make([]func(Frame), 0, len(t.msgSubs))
	for _, fn := range t.msgSubs {
		fns = append(fns, fn)
	}
	return fns
}

func (t *PipeTransport) Send(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errTransportClosed
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	_, err = t.rw.Write(append(b, '\n'))
	return err
}

func (t *PipeTransport) OnMessage(fn func(Frame)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.msgSubs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.msgSubs, id)
		t.mu.Unlock()
	}
}

func (t *PipeTransport) OnClose(fn func(error)) func() {
	t.mu.Lock()
	if t.closed {
		err := t.closeErr
		t.mu.Unlock()
		fn(err)
		return func() {}
	}
	id := t.nextSub
	t.nextSub++
	t.closeSubs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.closeSubs, id)
		t.mu.Unlock()
	}
}

// Close closes the underlying stream. The reader goroutine observes the
// closure and fires the close handlers; when Start was never called the
// handlers are fired directly.
func (t *PipeTransport) Close() error {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	err := t.rw.Close()
	if !started {
		t.fireClosed(nil)
	}
	return err
}

func (t *PipeTransport) fireClosed(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.closeErr = err
	fns := make([]func(error), 0, len(t.closeSubs))
	for _, fn := range t.closeSubs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}
