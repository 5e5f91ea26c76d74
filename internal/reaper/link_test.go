package reaper

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/loykin/agentward/internal/ackchan"
)

func TestAnnounceReadyWireShape(t *testing.T) {
	local, peer := net.Pipe()
	link := NewParentLink(local)
	t.Cleanup(func() { _ = link.Close(); _ = peer.Close() })

	errCh := make(chan error, 1)
	go func() { errCh <- link.AnnounceReady() }()

	sc := bufio.NewScanner(peer)
	if !sc.Scan() {
		t.Fatalf("no frame received: %v", sc.Err())
	}
	var f ackchan.Frame
	if err := json.Unmarshal(sc.Bytes(), &f); err != nil {
		t.Fatalf("frame not valid JSON: %v", err)
	}
	if f.Type != ackchan.FrameAck || f.ID != ReadyMessageID {
		t.Fatalf("unexpected frame %+v", f)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("announce: %v", err)
	}
}

func TestLinkClosureObservedFromPeer(t *testing.T) {
	local, peer := net.Pipe()
	link := NewParentLink(local)
	t.Cleanup(func() { _ = link.Close() })

	select {
	case <-link.Closed():
		t.Fatal("link reported closed while peer is open")
	default:
	}

	_ = peer.Close()

	select {
	case <-link.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("peer closure not observed")
	}
}

func TestLinkCloseIsIdempotent(t *testing.T) {
	local, peer := net.Pipe()
	link := NewParentLink(local)
	t.Cleanup(func() { _ = peer.Close() })

	_ = link.Close()
	_ = link.Close()

	select {
	case <-link.Closed():
	case <-time.After(time.Second):
		t.Fatal("Closed not fired after Close")
	}
}
