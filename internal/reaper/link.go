package reaper

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/loykin/agentward/internal/ackchan"
)

// LinkFD is the descriptor the host places the inherited link on.
const LinkFD = 3

// ReadyMessageID correlates the readiness signal sent over the link.
const ReadyMessageID = "ready"

// ParentLink is the liveness tie to the parent process. Its existence is
// the signal: the far end going away for any reason (clean shutdown,
// crash, pipe error) is observed as a read returning EOF or an error.
type ParentLink struct {
	rw     io.ReadWriteCloser
	closed chan struct{}
	once   sync.Once
}

// OpenInherited wraps the link descriptor inherited from the parent.
// A missing or unopenable descriptor is a configuration error; the reaper
// cannot do its job without the link and must refuse to start.
func OpenInherited() (*ParentLink, error) {
	f := os.NewFile(uintptr(LinkFD), "parent-link")
	if f == nil {
		return nil, fmt.Errorf("no parent link on fd %d", LinkFD)
	}
	if _, err := f.Stat(); err != nil {
		return nil, fmt.Errorf("parent link fd %d is not open: %w", LinkFD, err)
	}
	return NewParentLink(f), nil
}

// NewParentLink wraps an open stream to the parent and starts watching it
// for closure. No heartbeats and no polling: the watcher blocks in a read
// that only returns when the far end goes away.
func NewParentLink(rw io.ReadWriteCloser) *ParentLink {
	l := &ParentLink{rw: rw, closed: make(chan struct{})}
	go l.watch()
	return l
}

func (l *ParentLink) watch() {
	buf := make([]byte, 512)
	for {
		if _, err := l.rw.Read(buf); err != nil {
			break
		}
	}
	l.once.Do(func() { close(l.closed) })
}

// Closed is closed exactly once, when the link to the parent is gone.
func (l *ParentLink) Closed() <-chan struct{} { return l.closed }

// AnnounceReady sends an empty acknowledgment frame to the parent,
// reusing the channel wire shape for the readiness signal.
func (l *ParentLink) AnnounceReady() error {
	b, err := json.Marshal(ackchan.Frame{Type: ackchan.FrameAck, ID: ReadyMessageID})
	if err != nil {
		return err
	}
	_, err = l.rw.Write(append(b, '\n'))
	return err
}

// Close releases the link from this side. Used by hosts embedding a
// session; the standalone reaper never closes its own link.
func (l *ParentLink) Close() error {
	err := l.rw.Close()
	l.once.Do(func() { close(l.closed) })
	return err
}
