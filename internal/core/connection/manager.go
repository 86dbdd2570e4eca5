package connection

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/dep2p/go-ensync/internal/config"
	"github.com/dep2p/go-ensync/internal/core/metrics"
	"github.com/dep2p/go-ensync/internal/util/logger"
	"github.com/dep2p/go-ensync/pkg/interfaces"
	"github.com/dep2p/go-ensync/pkg/types"
	"github.com/dep2p/go-ensync/pkg/wire"
)

var log = logger.Logger("core/connection")

// StateChangeFunc 状态变更回调
//
// 在状态锁内同步调用，不得阻塞，也不得回调 Manager。
type StateChangeFunc func(from, to types.ConnState)

// pendingRequest 等待应答的请求
type pendingRequest struct {
	done chan result
}

type result struct {
	frame *wire.Frame
	err   error
}

// ============================================================================
//                              Manager
// ============================================================================

// Manager 连接管理器
type Manager struct {
	cfg       *config.ConnectionConfig
	transport interfaces.Transport
	clock     clock.Clock
	metrics   *metrics.Metrics

	// mu 保护以下会话状态，是唯一的状态变更点
	mu            sync.Mutex
	state         types.ConnState
	session       types.Session
	gen           uint64
	ch            interfaces.Channel
	stopLoops     context.CancelFunc
	stopReconnect context.CancelFunc
	readyCh       chan struct{} // 进入 Ready 时关闭
	closedCh      chan struct{} // 进入 Closed 时关闭
	closeCause    error         // 非主动关闭的原因

	// writeMu 串行化写入
	writeMu sync.Mutex

	// pending 请求 ID → *pendingRequest
	pending sync.Map

	hooksMu      sync.RWMutex
	eventHandler interfaces.EventHandler
	readyHooks   []interfaces.ReadyHook
	stateHooks   []StateChangeFunc

	wg sync.WaitGroup
}

var _ interfaces.Connection = (*Manager)(nil)

// NewManager 创建连接管理器
func NewManager(cfg *config.ConnectionConfig, transport interfaces.Transport, clk clock.Clock, m *metrics.Metrics) *Manager {
	if cfg == nil {
		c := config.DefaultConnectionConfig()
		cfg = &c
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Manager{
		cfg:       cfg,
		transport: transport,
		clock:     clk,
		metrics:   m,
		state:     types.StateDisconnected,
		readyCh:   make(chan struct{}),
		closedCh:  make(chan struct{}),
	}
}

// ============================================================================
//                              连接
// ============================================================================

// Connect 建立通道并认证
//
// 认证失败不重试，会话进入 Closed。Disconnected 或 Closed 状态下可以调用。
func (m *Manager) Connect(ctx context.Context, accessKey string) (types.Session, error) {
	if accessKey == "" {
		return types.Session{}, types.ErrInvalidAccessKey.Wrapf("empty access key")
	}

	m.mu.Lock()
	if m.state != types.StateDisconnected && m.state != types.StateClosed {
		state := m.state
		m.mu.Unlock()
		return types.Session{}, ErrAlreadyConnected.Wrapf("state %s", state)
	}
	m.gen++
	gen := m.gen
	m.session = types.Session{
		AccessKey:       accessKey,
		ShouldReconnect: m.cfg.MaxReconnectAttempts > 0,
	}
	if m.state == types.StateClosed {
		m.closedCh = make(chan struct{})
	}
	m.closeCause = nil
	m.setStateLocked(types.StateConnecting)
	m.mu.Unlock()

	log.Info("正在连接 Broker")

	sess, err := m.establish(ctx, gen, false)
	if err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.session.IsConnected = false
			m.session.IsAuthenticated = false
			m.setStateLocked(types.StateClosed)
		}
		m.mu.Unlock()

		log.Warn("连接 Broker 失败", "err", err)
		return types.Session{}, err
	}

	log.Info("已连接 Broker", "clientId", sess.ClientID)
	return sess, nil
}

// establish 拨号、认证并启动循环
//
// reconnect 为 true 时保持 Reconnecting 状态直到成功。
func (m *Manager) establish(ctx context.Context, gen uint64, reconnect bool) (types.Session, error) {
	dialCtx, cancel := m.clock.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	ch, err := m.transport.Open(dialCtx)
	if err != nil {
		return types.Session{}, types.ErrConnection.Wrapf("open channel: %w", err)
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = ch.Close()
		return types.Session{}, types.ErrConnectionClosed
	}
	if !reconnect {
		m.setStateLocked(types.StateAuthenticating)
	}
	accessKey := m.session.AccessKey
	m.mu.Unlock()

	auth, err := m.authenticate(dialCtx, ch, accessKey)
	if err != nil {
		_ = ch.Close()
		return types.Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		_ = ch.Close()
		return types.Session{}, types.ErrConnectionClosed
	}

	loopCtx, stop := context.WithCancel(context.Background())
	m.ch = ch
	m.stopLoops = stop
	m.session.ClientID = auth.ClientID
	m.session.ClientHash = auth.ClientHash
	m.session.IsConnected = true
	m.session.IsAuthenticated = true
	m.session.ReconnectAttempts = 0
	m.setStateLocked(types.StateReady)

	m.wg.Add(2)
	go m.receiveLoop(loopCtx, gen, ch)
	go m.heartbeatLoop(loopCtx, gen)

	return m.session, nil
}

// authenticate 认证握手
//
// 接收循环尚未启动，直接在通道上等待应答。
func (m *Manager) authenticate(ctx context.Context, ch interfaces.Channel, accessKey string) (*wire.AuthenticateResult, error) {
	req, err := wire.NewRequest(wire.TypeAuthenticate, &wire.AuthenticateBody{AccessKey: accessKey})
	if err != nil {
		return nil, types.ErrAuthentication.Wrap(err)
	}
	req.ID = uuid.NewString()

	if err := ch.Send(ctx, req); err != nil {
		return nil, types.ErrConnection.Wrapf("send authenticate: %w", err)
	}
	m.metrics.Frame(metrics.DirectionOut, string(req.Type))

	for {
		f, err := ch.Receive(ctx)
		if err != nil {
			return nil, types.ErrConnection.Wrapf("await authenticate: %w", err)
		}
		m.metrics.Frame(metrics.DirectionIn, string(f.Type))

		if f.Type != wire.TypeResponse || f.ID != req.ID {
			log.Debug("认证完成前收到无关帧，已丢弃", "type", f.Type)
			continue
		}
		if err := f.Err(); err != nil {
			if wire.IsCode(err, wire.CodeUnauthorized) {
				return nil, types.ErrInvalidAccessKey.Wrap(err)
			}
			return nil, types.ErrAuthentication.Wrap(err)
		}

		var res wire.AuthenticateResult
		if err := f.DecodeBody(&res); err != nil {
			return nil, types.ErrAuthentication.Wrap(err)
		}
		return &res, nil
	}
}

// ============================================================================
//                              请求
// ============================================================================

// Request 发送请求帧并等待应答
//
// 会覆盖 frame.ID。会话未就绪时立即失败；Broker 的失败应答以
// *wire.RemoteError 返回；超时返回 types.ErrRequestTimeout。
func (m *Manager) Request(ctx context.Context, frame *wire.Frame, timeout time.Duration) (*wire.Frame, error) {
	if timeout <= 0 {
		timeout = m.cfg.RequestTimeout
	}
	frame.ID = uuid.NewString()
	p := &pendingRequest{done: make(chan result, 1)}

	m.mu.Lock()
	if m.state != types.StateReady {
		state := m.state
		cause := m.closeCause
		m.mu.Unlock()
		if state == types.StateClosed {
			return nil, closedErr(cause)
		}
		return nil, types.ErrNotConnected.Wrapf("state %s", state)
	}
	ch, gen := m.ch, m.gen
	m.pending.Store(frame.ID, p)
	m.mu.Unlock()

	defer m.pending.Delete(frame.ID)

	if err := m.send(ctx, ch, frame); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.connectionLost(gen, err)
		return nil, types.ErrConnection.Wrapf("send %s: %w", frame.Type, err)
	}

	timer := m.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.done:
		if r.err != nil {
			return nil, r.err
		}
		if err := r.frame.Err(); err != nil {
			return nil, err
		}
		return r.frame, nil
	case <-timer.C:
		return nil, types.ErrRequestTimeout.Wrapf("%s after %s", frame.Type, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send 单写者发送
func (m *Manager) send(ctx context.Context, ch interfaces.Channel, frame *wire.Frame) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := ch.Send(ctx, frame); err != nil {
		return err
	}
	m.metrics.Frame(metrics.DirectionOut, string(frame.Type))
	return nil
}

// receiveLoop 接收循环
func (m *Manager) receiveLoop(ctx context.Context, gen uint64, ch interfaces.Channel) {
	defer m.wg.Done()

	for {
		f, err := ch.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("接收失败，连接已断开", "err", err)
			m.connectionLost(gen, err)
			return
		}
		m.metrics.Frame(metrics.DirectionIn, string(f.Type))
		m.dispatch(f)
	}
}

// dispatch 分发入站帧
func (m *Manager) dispatch(f *wire.Frame) {
	switch f.Type {
	case wire.TypeResponse:
		v, ok := m.pending.LoadAndDelete(f.ID)
		if !ok {
			log.Debug("收到无人等待的应答", "id", f.ID)
			return
		}
		v.(*pendingRequest).done <- result{frame: f}

	case wire.TypeEvent:
		var body wire.EventBody
		if err := f.DecodeBody(&body); err != nil {
			log.Warn("事件帧解码失败", "err", err)
			return
		}
		m.hooksMu.RLock()
		handler := m.eventHandler
		m.hooksMu.RUnlock()
		if handler == nil {
			log.Debug("没有事件处理器，丢弃事件", "event", body.EventName)
			return
		}
		handler(&body)

	default:
		log.Debug("忽略未知帧", "type", f.Type)
	}
}

// ============================================================================
//                              断开与关闭
// ============================================================================

// connectionLost 通道失效，按配置重连或关闭
func (m *Manager) connectionLost(gen uint64, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen || m.state != types.StateReady {
		return
	}

	_ = m.teardownLocked(types.ErrConnectionClosed.Wrap(cause))

	if !m.session.ShouldReconnect {
		log.Warn("连接断开，未启用自动重连", "err", cause)
		m.setStateLocked(types.StateClosed)
		return
	}

	log.Warn("连接断开，开始重连", "err", cause)
	m.startReconnectLocked()
}

// Close 关闭会话
//
// shouldReconnect 为 false 时进入 Closed，不可恢复；为 true 时
// 立即进入 Reconnecting。两种情况下在途请求都以连接错误失败。
func (m *Manager) Close(shouldReconnect bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if shouldReconnect {
		switch {
		case m.state == types.StateClosed:
			return types.ErrConnectionClosed
		case m.session.AccessKey == "":
			return ErrNeverConnected
		}

		err := m.teardownLocked(types.ErrConnectionClosed.Wrapf("closed for reconnect"))
		m.session.ShouldReconnect = true
		log.Info("主动断开，立即重连")
		m.startReconnectLocked()
		return err
	}

	if m.state == types.StateClosed {
		return nil
	}
	m.cancelReconnectLocked()

	err := m.teardownLocked(types.ErrConnectionClosed)
	m.session.ShouldReconnect = false
	m.setStateLocked(types.StateClosed)

	log.Info("连接已关闭")
	return err
}

// Stop 关闭会话并等待后台循环退出
func (m *Manager) Stop(ctx context.Context) error {
	err := m.Close(false)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}
	return err
}

// teardownLocked 拆除当前通道
//
// 递增 generation，停止循环，并以 reason 让所有在途请求失败。
func (m *Manager) teardownLocked(reason error) error {
	m.gen++

	if m.stopLoops != nil {
		m.stopLoops()
		m.stopLoops = nil
	}

	var err error
	if m.ch != nil {
		if cerr := m.ch.Close(); cerr != nil {
			err = multierr.Append(err, cerr)
		}
		m.ch = nil
	}

	m.session.IsConnected = false
	m.session.IsAuthenticated = false

	m.pending.Range(func(key, _ any) bool {
		if v, ok := m.pending.LoadAndDelete(key); ok {
			v.(*pendingRequest).done <- result{err: reason}
		}
		return true
	})

	return err
}

// closedErr Closed 状态下返回给调用方的错误
func closedErr(cause error) error {
	if cause != nil {
		return cause
	}
	return types.ErrConnectionClosed
}

// setStateLocked 唯一的状态写入点
func (m *Manager) setStateLocked(state types.ConnState) {
	from := m.state
	if from == state {
		return
	}
	m.state = state
	m.metrics.SetState(state)

	if state == types.StateReady {
		close(m.readyCh)
	} else if from == types.StateReady {
		m.readyCh = make(chan struct{})
	}
	if state == types.StateClosed {
		close(m.closedCh)
	}

	log.Debug("连接状态变更", "from", from, "to", state)

	m.hooksMu.RLock()
	hooks := m.stateHooks
	m.hooksMu.RUnlock()
	for _, h := range hooks {
		h(from, state)
	}
}

// ============================================================================
//                              查询
// ============================================================================

// State 当前状态
func (m *Manager) State() types.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session 会话快照
func (m *Manager) Session() types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// IsConnected 通道是否建立
func (m *Manager) IsConnected() bool {
	return m.Session().IsConnected
}

// IsAuthenticated 是否已认证
func (m *Manager) IsAuthenticated() bool {
	return m.Session().IsAuthenticated
}

// ClientID Broker 分配的客户端 ID
func (m *Manager) ClientID() string {
	return m.Session().ClientID
}

// ClientHash Broker 分配的客户端哈希
func (m *Manager) ClientHash() string {
	return m.Session().ClientHash
}

// WaitReady 等待会话进入 Ready
func (m *Manager) WaitReady(ctx context.Context) error {
	for {
		m.mu.Lock()
		state, readyCh, closedCh, cause := m.state, m.readyCh, m.closedCh, m.closeCause
		m.mu.Unlock()

		switch state {
		case types.StateReady:
			return nil
		case types.StateClosed:
			return closedErr(cause)
		}

		select {
		case <-readyCh:
		case <-closedCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ============================================================================
//                              回调
// ============================================================================

// OnEvent 设置入站事件回调
func (m *Manager) OnEvent(handler interfaces.EventHandler) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.eventHandler = handler
}

// OnReady 注册重连成功回调
func (m *Manager) OnReady(hook interfaces.ReadyHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.readyHooks = append(m.readyHooks, hook)
}

// OnStateChange 注册状态变更回调
func (m *Manager) OnStateChange(hook StateChangeFunc) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.stateHooks = append(m.stateHooks, hook)
}

func (m *Manager) runReadyHooks(ctx context.Context) {
	m.hooksMu.RLock()
	hooks := make([]interfaces.ReadyHook, len(m.readyHooks))
	copy(hooks, m.readyHooks)
	m.hooksMu.RUnlock()

	for _, h := range hooks {
		h(ctx)
	}
}
