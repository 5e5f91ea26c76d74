package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/agentward/internal/history"
)

func TestOpenSearchSinkSend(t *testing.T) {
	var gotPath string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type %q", ct)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := New(srv.URL, "agent-history")
	ev := history.Event{
		Type:       history.EventParentLost,
		OccurredAt: time.Now().UTC(),
		Label:      "os-agent",
		AgentPID:   321,
		ParentPID:  320,
		Detail:     "link closed",
	}
	if err := sink.Send(context.Background(), ev); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotPath != "/agent-history/_doc" {
		t.Errorf("path = %q, want /agent-history/_doc", gotPath)
	}

	var decoded history.Event
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Type != history.EventParentLost || decoded.Label != "os-agent" || decoded.Detail != "link closed" {
		t.Errorf("unexpected event payload: %+v", decoded)
	}
}

func TestOpenSearchSinkErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := New(srv.URL+"/", "agent-history")
	err := sink.Send(context.Background(), history.Event{Type: history.EventAgentStarted})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestOpenSearchSinkUnreachable(t *testing.T) {
	sink := New("http://127.0.0.1:1", "agent-history")
	if err := sink.Send(context.Background(), history.Event{}); err == nil {
		t.Fatal("expected connection error")
	}
}
