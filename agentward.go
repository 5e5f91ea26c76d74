package agentward

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/agentward/internal/ackchan"
	cfg "github.com/loykin/agentward/internal/config"
	"github.com/loykin/agentward/internal/history"
	"github.com/loykin/agentward/internal/history/factory"
	"github.com/loykin/agentward/internal/host"
	"github.com/loykin/agentward/internal/logger"
	"github.com/loykin/agentward/internal/metrics"
	iapi "github.com/loykin/agentward/internal/server"
	itls "github.com/loykin/agentward/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type AgentSpec = host.AgentSpec

type Status = host.Status

type HistorySink = history.Sink

type HistoryEvent = history.Event

type TLSConfig = itls.Config

// Manager is a thin facade over internal/host.Manager.
// It provides a stable public API for embedding.

type Manager struct{ inner *host.Manager }

func New() *Manager {
	return &Manager{inner: host.NewManager(logger.NewStderr(slog.LevelInfo))}
}

func NewWithLogger(log *slog.Logger) *Manager {
	return &Manager{inner: host.NewManager(log)}
}

func (m *Manager) SetGlobalEnv(kvs []string)          { m.inner.SetGlobalEnv(kvs) }
func (m *Manager) SetAckTimeout(d time.Duration)      { m.inner.SetAckTimeout(d) }
func (m *Manager) SetHistorySinks(sinks ...HistorySink) { m.inner.SetHistorySinks(sinks...) }
func (m *Manager) SetReaperCommand(exe string, args ...string) {
	m.inner.SetReaperCommand(exe, args...)
}
func (m *Manager) Start(spec AgentSpec) error {
	_, err := m.inner.Start(spec)
	return err
}
func (m *Manager) Stop(name string, wait time.Duration) error { return m.inner.Stop(name, wait) }
func (m *Manager) StopAll(wait time.Duration)                 { m.inner.StopAll(wait) }
func (m *Manager) Status(name string) (Status, error)         { return m.inner.Status(name) }
func (m *Manager) StatusAll() []Status                        { return m.inner.StatusAll() }

// Acknowledged channel facade.

type Channel = ackchan.Channel

type ChannelTransport = ackchan.Transport

type ChannelOption = ackchan.Option

type AckTimeoutError = ackchan.AckTimeoutError

type RemoteError = ackchan.RemoteError

var ErrChannelDisposed = ackchan.ErrDisposed

// NewChannel wraps a transport in an acknowledged channel. Every Send blocks
// until the receiving side acks the message, the context expires, or the
// channel is disposed.
func NewChannel(tr ChannelTransport, opts ...ChannelOption) (*Channel, error) {
	return ackchan.New(tr, opts...)
}

// NewPipeTransport frames newline-delimited JSON over any stream, such as a
// net.Conn or a socketpair end.
func NewPipeTransport(rw io.ReadWriteCloser) ChannelTransport {
	return ackchan.NewPipeTransport(rw)
}

func WithAckTimeout(d time.Duration) ChannelOption { return ackchan.WithAckTimeout(d) }
func WithChannelName(name string) ChannelOption    { return ackchan.WithName(name) }
func WithChannelLogger(l *slog.Logger) ChannelOption {
	return ackchan.WithLogger(l)
}

// WithChannelHistorySink audits every send outcome to the given sink.
func WithChannelHistorySink(s HistorySink) ChannelOption {
	return ackchan.WithHistorySink(s)
}

func LoadConfig(path string) (*cfg.Config, error) {
	return cfg.Load(path)
}

// NewHistorySink builds a history sink from a DSN. Supported schemes:
// sqlite://, postgres://, clickhouse://, opensearch://.
func NewHistorySink(dsn string) (HistorySink, error) {
	return factory.NewSinkFromDSN(dsn)
}

// NewHTTPServer starts an HTTP server exposing the internal API using the given manager.
func NewHTTPServer(addr, basePath string, m *Manager) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, m.inner)
}

// NewTLSServer starts an HTTPS server exposing the internal API. With
// AutoGenerate set, a self-signed certificate is created on first use.
func NewTLSServer(addr, basePath string, tc TLSConfig, m *Manager) (*http.Server, error) {
	return iapi.NewTLSServer(addr, basePath, tc, m.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
