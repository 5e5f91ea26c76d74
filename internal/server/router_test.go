package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/agentward/internal/host"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeReaper acks readiness on the inherited link descriptor and blocks
// until the host closes it, standing in for the real reaper subcommand.
const fakeReaper = `printf '{"type":"ack","id":"ready"}\n' >&3; cat <&3 >/dev/null`

func newTestHandler(t *testing.T) (http.Handler, *host.Manager) {
	t.Helper()
	mgr := host.NewManager(nil)
	mgr.SetReaperCommand("/bin/sh", "-c", fakeReaper, "reaper")
	t.Cleanup(func() { mgr.StopAll(2 * time.Second) })
	return NewRouter(mgr, "/api").Handler(), mgr
}

func doRequest(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t)
	w := doRequest(h, http.MethodGet, "/api/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp okResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || !resp.OK {
		t.Fatalf("body = %s (%v)", w.Body.String(), err)
	}
}

func TestStatusEmpty(t *testing.T) {
	h, _ := newTestHandler(t)
	w := doRequest(h, http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var statuses []host.Status
	if err := json.Unmarshal(w.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 0 {
		t.Fatalf("statuses = %v", statuses)
	}
}

func TestStatusUnknownAgent(t *testing.T) {
	h, _ := newTestHandler(t)
	if w := doRequest(h, http.MethodGet, "/api/status?name=ghost", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestStartRejectsBadInput(t *testing.T) {
	h, _ := newTestHandler(t)

	cases := []struct {
		desc string
		body string
	}{
		{"invalid JSON", "{nope"},
		{"missing name", `{"command":"sleep 1"}`},
		{"unsafe name", `{"name":"../etc","command":"sleep 1"}`},
		{"relative workdir", `{"name":"w","command":"sleep 1","work_dir":"rel/dir"}`},
		{"traversal pidfile", `{"name":"w","command":"sleep 1","pid_file":"/var/../etc/pid"}`},
	}
	for _, tc := range cases {
		w := doRequest(h, http.MethodPost, "/api/start", tc.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.desc, w.Code)
		}
	}
}

func TestStopRequiresName(t *testing.T) {
	h, _ := newTestHandler(t)
	if w := doRequest(h, http.MethodPost, "/api/stop", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestStartStatusStopRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a Unix shell")
	}
	h, _ := newTestHandler(t)

	w := doRequest(h, http.MethodPost, "/api/start", `{"name":"web","command":"sleep 30","ready_timeout":5000000000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("start: status = %d body = %s", w.Code, w.Body.String())
	}

	w = doRequest(h, http.MethodGet, "/api/status?name=web", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d body = %s", w.Code, w.Body.String())
	}
	var st host.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Running || st.Name != "web" {
		t.Fatalf("status = %+v", st)
	}

	// Duplicate start of a live agent is rejected.
	if w = doRequest(h, http.MethodPost, "/api/start", `{"name":"web","command":"sleep 30"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("duplicate start: status = %d", w.Code)
	}

	if w = doRequest(h, http.MethodPost, "/api/stop?name=web&wait=2s", ""); w.Code != http.StatusOK {
		t.Fatalf("stop: status = %d body = %s", w.Code, w.Body.String())
	}
	// The registration stays visible with its final status.
	w = doRequest(h, http.MethodGet, "/api/status?name=web", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status after stop: %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Running {
		t.Fatalf("agent still reported running after stop: %+v", st)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	w := doRequest(h, http.MethodGet, "/api/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
