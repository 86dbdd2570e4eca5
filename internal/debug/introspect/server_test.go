package introspect

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-ensync/internal/config"
	"github.com/dep2p/go-ensync/internal/protocol/subscription"
	"github.com/dep2p/go-ensync/pkg/types"
)

// ============================================================================
//                              测试替身
// ============================================================================

type fakeSession struct {
	mu      sync.Mutex
	state   types.ConnState
	session types.Session
}

func (f *fakeSession) Session() types.Session { return f.session }

func (f *fakeSession) State() types.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) setState(s types.ConnState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

type fakeHandle struct {
	subscription.Handle
	state types.SubscriptionState
	err   error
}

func (f fakeHandle) State() types.SubscriptionState { return f.state }

func (f fakeHandle) Err() error { return f.err }

type fakeSubscriptions map[string]types.SubscriptionState

func (f fakeSubscriptions) EventNames() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	return names
}

func (f fakeSubscriptions) Get(name string) (subscription.Handle, bool) {
	state, ok := f[name]
	if !ok {
		return nil, false
	}
	h := fakeHandle{state: state}
	if state == types.SubscriptionPending {
		h.err = types.ErrSubscribeRejected
	}
	return h, true
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	server := New(cfg)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { _ = server.Stop(context.Background()) })
	return server
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

// ============================================================================
//                              测试
// ============================================================================

func TestNew(t *testing.T) {
	server := New(Config{})
	assert.NotNil(t, server)
	assert.Equal(t, DefaultAddr, server.config.Addr)

	server = New(Config{Addr: "127.0.0.1:8080"})
	assert.Equal(t, "127.0.0.1:8080", server.config.Addr)
}

func TestServer_StartStop(t *testing.T) {
	server := New(Config{Addr: "127.0.0.1:0"})

	ctx := context.Background()
	require.NoError(t, server.Start(ctx))
	assert.True(t, server.running)

	addr := server.Addr()
	assert.NotEmpty(t, addr)
	assert.NotEqual(t, "127.0.0.1:0", addr)

	// 重复启动应该无效
	require.NoError(t, server.Start(ctx))

	require.NoError(t, server.Stop(ctx))
	assert.False(t, server.running)

	// 重复停止应该无效
	require.NoError(t, server.Stop(ctx))
}

func TestServer_HealthEndpoint(t *testing.T) {
	session := &fakeSession{state: types.StateReconnecting}
	server := startServer(t, Config{Session: session})

	var health HealthResponse
	require.Equal(t, http.StatusOK, getJSON(t, "http://"+server.Addr()+"/health", &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, types.StateReconnecting.String(), health.State)

	session.setState(types.StateReady)
	require.Equal(t, http.StatusOK, getJSON(t, "http://"+server.Addr()+"/health", &health))
	assert.Equal(t, "ok", health.Status)
}

func TestServer_HealthWithoutSession(t *testing.T) {
	server := startServer(t, Config{})

	var health HealthResponse
	require.Equal(t, http.StatusOK, getJSON(t, "http://"+server.Addr()+"/health", &health))
	assert.Equal(t, "degraded", health.Status)
	assert.NotEmpty(t, health.Uptime)
}

func TestServer_IntrospectEndpoint(t *testing.T) {
	server := startServer(t, Config{
		Session: &fakeSession{
			state: types.StateReady,
			session: types.Session{
				ClientID:        "client-1",
				AccessKey:       "secret-access-key",
				IsConnected:     true,
				IsAuthenticated: true,
			},
		},
		Subscriptions: fakeSubscriptions{
			"b/event": types.SubscriptionActive,
			"a/event": types.SubscriptionPending,
		},
	})

	resp, err := http.Get("http://" + server.Addr() + "/debug/introspect")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.NotContains(t, string(body), "secret-access-key")

	var report IntrospectResponse
	require.NoError(t, json.Unmarshal(body, &report))
	assert.NotEmpty(t, report.Uptime)
	require.NotNil(t, report.Session)
	assert.Equal(t, "client-1", report.Session.ClientID)
	assert.True(t, report.Session.IsAuthenticated)
	require.Len(t, report.Subscriptions, 2)
	assert.Equal(t, "a/event", report.Subscriptions[0].EventName)
	assert.NotEmpty(t, report.Subscriptions[0].Error)
	assert.Empty(t, report.Subscriptions[1].Error)
	assert.Equal(t, types.SubscriptionActive.String(), report.Subscriptions[1].State)
	assert.NotNil(t, report.Runtime)
}

func TestServer_UnavailableSources(t *testing.T) {
	server := startServer(t, Config{})

	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, "http://"+server.Addr()+"/debug/introspect/session", nil))
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, "http://"+server.Addr()+"/debug/introspect/subscriptions", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, "http://"+server.Addr()+"/metrics", nil))
}

func TestServer_RuntimeEndpoint(t *testing.T) {
	server := startServer(t, Config{})

	var info RuntimeInfo
	require.Equal(t, http.StatusOK, getJSON(t, "http://"+server.Addr()+"/debug/introspect/runtime", &info))
	assert.NotEmpty(t, info.GoVersion)
	assert.Greater(t, info.NumGoroutine, 0)
	assert.Greater(t, info.NumCPU, 0)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "ensync_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	server := startServer(t, Config{Gatherer: reg})

	resp, err := http.Get("http://" + server.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ensync_test_total 1")
}

func TestServer_MethodNotAllowed(t *testing.T) {
	server := startServer(t, Config{})

	resp, err := http.Post("http://"+server.Addr()+"/health", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_CustomHandlers(t *testing.T) {
	server := startServer(t, Config{
		CustomHandlers: map[string]http.HandlerFunc{
			"/custom": func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("custom response"))
			},
		},
	})

	resp, err := http.Get("http://" + server.Addr() + "/custom")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "custom response", string(body))
}

func TestConfigFromUnified(t *testing.T) {
	assert.Nil(t, ConfigFromUnified(nil))

	cfg := config.NewConfig()
	assert.Nil(t, ConfigFromUnified(cfg))

	cfg.Diagnostics.EnableIntrospect = true
	cfg.Diagnostics.IntrospectAddr = "127.0.0.1:7070"
	cfg.MetricsRegisterer = prometheus.NewRegistry()

	c := ConfigFromUnified(cfg)
	require.NotNil(t, c)
	assert.Equal(t, "127.0.0.1:7070", c.Addr)
	assert.NotNil(t, c.Gatherer)

	out := NewFromParams(IntrospectParams{UnifiedCfg: cfg})
	require.NotNil(t, out.Server)
	assert.Nil(t, out.Server.config.Session)
}
