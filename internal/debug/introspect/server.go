package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dep2p/go-ensync/internal/protocol/subscription"
	"github.com/dep2p/go-ensync/internal/util/logger"
	"github.com/dep2p/go-ensync/pkg/types"
)

var log = logger.Logger("debug/introspect")

// DefaultAddr 默认监听地址
const DefaultAddr = "127.0.0.1:6060"

// ============================================================================
//                              配置
// ============================================================================

// SessionSource 会话状态来源
type SessionSource interface {
	Session() types.Session
	State() types.ConnState
}

// SubscriptionSource 订阅来源
type SubscriptionSource interface {
	EventNames() []string
	Get(eventName string) (subscription.Handle, bool)
}

// Config 服务配置
type Config struct {
	// Addr 监听地址，默认 "127.0.0.1:6060"
	Addr string

	// Session 可选的会话来源
	Session SessionSource

	// Subscriptions 可选的订阅来源
	Subscriptions SubscriptionSource

	// Gatherer 可选的指标采集器，设置后提供 /metrics
	Gatherer prometheus.Gatherer

	// CustomHandlers 自定义处理器
	CustomHandlers map[string]http.HandlerFunc
}

// ============================================================================
//                              Server
// ============================================================================

// Server 本地自省 HTTP 服务
type Server struct {
	config Config

	server   *http.Server
	listener net.Listener

	running   bool
	startTime time.Time

	mu sync.Mutex
}

// New 创建自省服务
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	return &Server{
		config: cfg,
	}
}

// Start 启动服务
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/debug/introspect", s.handleIntrospect)
	mux.HandleFunc("/debug/introspect/session", s.handleSession)
	mux.HandleFunc("/debug/introspect/subscriptions", s.handleSubscriptions)
	mux.HandleFunc("/debug/introspect/runtime", s.handleRuntime)

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if s.config.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/health", s.handleHealth)

	for path, handler := range s.config.CustomHandlers {
		mux.HandleFunc(path, handler)
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("自省服务异常退出", "error", err)
		}
	}()

	s.running = true
	s.startTime = time.Now()
	log.Info("自省服务已启动", "addr", listener.Addr().String())
	return nil
}

// Stop 停止服务
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		log.Error("关闭自省服务失败", "error", err)
		return err
	}

	s.running = false
	log.Info("自省服务已停止")
	return nil
}

// Addr 返回实际监听地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// ============================================================================
//                              响应结构
// ============================================================================

// IntrospectResponse 完整诊断响应
type IntrospectResponse struct {
	Timestamp     time.Time          `json:"timestamp"`
	Uptime        string             `json:"uptime"`
	Session       *SessionInfo       `json:"session,omitempty"`
	Subscriptions []SubscriptionInfo `json:"subscriptions,omitempty"`
	Runtime       *RuntimeInfo       `json:"runtime,omitempty"`
}

// SessionInfo 会话信息，不包含访问密钥
type SessionInfo struct {
	State             string `json:"state"`
	ClientID          string `json:"client_id,omitempty"`
	IsConnected       bool   `json:"is_connected"`
	IsAuthenticated   bool   `json:"is_authenticated"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	ShouldReconnect   bool   `json:"should_reconnect"`
}

// SubscriptionInfo 订阅信息
type SubscriptionInfo struct {
	EventName string `json:"event_name"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

// RuntimeInfo 运行时信息
type RuntimeInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc"`
	MemSys       uint64 `json:"mem_sys"`
	NumGC        uint32 `json:"num_gc"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string    `json:"status"`
	State     string    `json:"state,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime,omitempty"`
}

// ============================================================================
//                              HTTP 处理器
// ============================================================================

// handleIntrospect 处理完整诊断请求
func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := IntrospectResponse{
		Timestamp:     time.Now(),
		Uptime:        time.Since(s.startTime).String(),
		Session:       s.collectSessionInfo(),
		Subscriptions: s.collectSubscriptionInfo(),
		Runtime:       s.collectRuntimeInfo(),
	}

	s.writeJSON(w, response)
}

// handleSession 处理会话信息请求
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := s.collectSessionInfo()
	if info == nil {
		http.Error(w, "Session info not available", http.StatusServiceUnavailable)
		return
	}

	s.writeJSON(w, info)
}

// handleSubscriptions 处理订阅列表请求
func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.config.Subscriptions == nil {
		http.Error(w, "Subscription info not available", http.StatusServiceUnavailable)
		return
	}

	s.writeJSON(w, s.collectSubscriptionInfo())
}

// handleRuntime 处理运行时信息请求
func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, s.collectRuntimeInfo())
}

// handleHealth 处理健康检查请求
//
// 会话 Ready 时为 ok，否则为 degraded。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := HealthResponse{
		Status:    "degraded",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).String(),
	}

	if s.config.Session != nil {
		state := s.config.Session.State()
		health.State = state.String()
		if state == types.StateReady {
			health.Status = "ok"
		}
	}

	s.writeJSON(w, health)
}

// ============================================================================
//                              数据收集
// ============================================================================

// collectSessionInfo 收集会话信息
func (s *Server) collectSessionInfo() *SessionInfo {
	if s.config.Session == nil {
		return nil
	}

	session := s.config.Session.Session()
	return &SessionInfo{
		State:             s.config.Session.State().String(),
		ClientID:          session.ClientID,
		IsConnected:       session.IsConnected,
		IsAuthenticated:   session.IsAuthenticated,
		ReconnectAttempts: session.ReconnectAttempts,
		ShouldReconnect:   session.ShouldReconnect,
	}
}

// collectSubscriptionInfo 收集订阅信息，按事件名排序
func (s *Server) collectSubscriptionInfo() []SubscriptionInfo {
	if s.config.Subscriptions == nil {
		return nil
	}

	names := s.config.Subscriptions.EventNames()
	sort.Strings(names)

	infos := make([]SubscriptionInfo, 0, len(names))
	for _, name := range names {
		sub, ok := s.config.Subscriptions.Get(name)
		if !ok {
			continue
		}
		info := SubscriptionInfo{
			EventName: name,
			State:     sub.State().String(),
		}
		if err := sub.Err(); err != nil {
			info.Error = err.Error()
		}
		infos = append(infos, info)
	}
	return infos
}

// collectRuntimeInfo 收集运行时信息
func (s *Server) collectRuntimeInfo() *RuntimeInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &RuntimeInfo{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     memStats.Alloc,
		MemSys:       memStats.Sys,
		NumGC:        memStats.NumGC,
	}
}

// ============================================================================
//                              辅助方法
// ============================================================================

// writeJSON 写入 JSON 响应
func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		log.Error("JSON 编码失败", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
