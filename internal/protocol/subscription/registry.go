package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dep2p/go-ensync/internal/config"
	"github.com/dep2p/go-ensync/internal/core/envelope"
	"github.com/dep2p/go-ensync/internal/core/metrics"
	"github.com/dep2p/go-ensync/internal/util/logger"
	"github.com/dep2p/go-ensync/pkg/interfaces"
	"github.com/dep2p/go-ensync/pkg/types"
	"github.com/dep2p/go-ensync/pkg/wire"
)

var log = logger.Logger("protocol/subscription")

// ErrorHook 重连后重新注册订阅最终失败时的回调
type ErrorHook func(eventName string, err error)

// Decrypter 解密事件载荷
type Decrypter interface {
	Decrypt(env *wire.Envelope, secretKey []byte) (any, error)
}

// ============================================================================
//                              Registry
// ============================================================================

// Registry 订阅注册表
type Registry struct {
	cfg       *config.SubscriptionConfig
	conn      interfaces.Connection
	crypto    Decrypter
	metrics   *metrics.Metrics
	appSecret []byte

	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool

	ledger *ledger
	flight singleflight.Group

	hooksMu    sync.RWMutex
	errorHooks []ErrorHook

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建订阅注册表并挂到连接的事件与重连回调上
//
// appSecretKey 为空时，未指定私钥的订阅收到的载荷都是 Opaque。
func New(cfg *config.SubscriptionConfig, conn interfaces.Connection, crypto Decrypter, appSecretKey string, m *metrics.Metrics) (*Registry, error) {
	if cfg == nil {
		c := config.DefaultSubscriptionConfig()
		cfg = &c
	}

	var secret []byte
	if appSecretKey != "" {
		var err error
		if secret, err = envelope.DecodeKey(appSecretKey); err != nil {
			return nil, err
		}
	}

	l, err := newLedger(cfg.AckHistorySize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:       cfg,
		conn:      conn,
		crypto:    crypto,
		metrics:   m,
		appSecret: secret,
		subs:      make(map[string]*subscription),
		ledger:    l,
		ctx:       ctx,
		cancel:    cancel,
	}

	conn.OnEvent(r.handleEvent)
	conn.OnReady(r.resubscribe)
	return r, nil
}

// Subscribe 订阅事件
//
// 同一事件名已有未取消的订阅时返回 ErrAlreadySubscribed。
func (r *Registry) Subscribe(ctx context.Context, eventName string, opts types.SubscribeOptions) (Handle, error) {
	if eventName == "" {
		return nil, types.ErrSubscription.Wrapf("event name is empty")
	}

	secret := r.appSecret
	if opts.SecretKey != "" {
		var err error
		if secret, err = envelope.DecodeKey(opts.SecretKey); err != nil {
			return nil, err
		}
	}

	s := newSubscription(r, eventName, opts.AutoAck, secret)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, types.ErrConnectionClosed
	}
	if _, exists := r.subs[eventName]; exists {
		r.mu.Unlock()
		return nil, types.ErrAlreadySubscribed.Wrapf("%s", eventName)
	}
	r.subs[eventName] = s
	r.wg.Add(1)
	go s.run(r.ctx)
	r.mu.Unlock()

	if err := r.sendSubscribe(ctx, eventName); err != nil {
		s.stop()
		r.remove(s)
		return nil, err
	}
	if !s.setState(types.SubscriptionActive) {
		return nil, types.ErrUnsubscribed.Wrapf("%s", eventName)
	}

	log.Info("订阅成功", "event", eventName, "autoAck", opts.AutoAck)
	return s, nil
}

// OnError 注册重新订阅失败的回调
//
// 回调在重连协程中调用，不要在回调里阻塞。
func (r *Registry) OnError(hook ErrorHook) {
	if hook == nil {
		return
	}
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.errorHooks = append(r.errorHooks, hook)
}

// Get 查找事件名对应的订阅
func (r *Registry) Get(eventName string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[eventName]
	if !ok {
		return nil, false
	}
	return s, true
}

// EventNames 当前订阅的事件名
func (r *Registry) EventNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.subs))
	for name := range r.subs {
		names = append(names, name)
	}
	return names
}

// Close 在本地取消所有订阅并等待分发协程退出
//
// 不向 Broker 发送 unsubscribe，连接关闭后 Broker 自行清理。
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.subs = make(map[string]*subscription)
	r.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// remove 从注册表移除订阅
func (r *Registry) remove(s *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.subs[s.eventName]; ok && cur == s {
		delete(r.subs, s.eventName)
	}
}

// ============================================================================
//                              入站事件
// ============================================================================

// handleEvent 在接收循环中调用，只做登记和入队
func (r *Registry) handleEvent(body *wire.EventBody) {
	if body.Idem == "" {
		log.Warn("事件缺少 idem，丢弃", "event", body.EventName)
		return
	}

	r.mu.RLock()
	s := r.subs[body.EventName]
	r.mu.RUnlock()
	if s == nil {
		log.Debug("没有对应订阅，忽略事件", "event", body.EventName, "idem", body.Idem)
		return
	}

	redelivered, resolved := r.ledger.observe(body.EventName, body.Idem, body.Block)
	if resolved {
		log.Debug("事件已终结，忽略重复投递", "event", body.EventName, "idem", body.Idem)
		return
	}
	s.enqueue(delivery{body: body, redelivered: redelivered})
}

// open 把帧体转换为事件并解密载荷
//
// 解密失败的事件以 Opaque 形式交给处理器，由处理器决定 discard。
func (r *Registry) open(body *wire.EventBody, secretKey []byte) *types.Event {
	event := newEvent(body)
	if body.Envelope == nil {
		r.metrics.Delivery(false)
		return event
	}

	payload, err := r.crypto.Decrypt(body.Envelope, secretKey)
	switch {
	case err != nil:
		log.Warn("事件解密失败", "event", body.EventName, "idem", body.Idem, "error", err)
		event.Payload = types.OpaqueMarker{Size: len(body.Envelope.Ciphertext)}
		event.Opaque = true
	default:
		_, event.Opaque = payload.(types.OpaqueMarker)
		event.Payload = payload
	}

	r.metrics.Delivery(event.Opaque)
	return event
}

// resubscribe 重连成功后重新注册所有活跃订阅
//
// 每个订阅并发重试，最多 ResubscribeAttempts 次，间隔
// ResubscribeInterval。最终失败的订阅退回 Pending，错误记录在
// Handle.Err 并通知 OnError 回调；下次重连时再次尝试。
func (r *Registry) resubscribe(ctx context.Context) {
	r.mu.RLock()
	subs := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		if s.needsResubscribe() {
			subs = append(subs, s)
		}
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			r.resubscribeOne(ctx, s)
		}(s)
	}
	wg.Wait()
}

// resubscribeOne 重新注册单个订阅
func (r *Registry) resubscribeOne(ctx context.Context, s *subscription) {
	var err error
	for attempt := 1; attempt <= r.cfg.ResubscribeAttempts; attempt++ {
		if attempt > 1 && !r.wait(ctx, r.cfg.ResubscribeInterval) {
			return
		}

		if err = r.sendSubscribe(ctx, s.eventName); err == nil {
			if s.setState(types.SubscriptionActive) {
				log.Debug("已重新订阅", "event", s.eventName, "attempt", attempt)
			}
			return
		}

		// 连接再次断开，由下一次重连处理
		if errors.Is(err, types.ErrConnection) {
			log.Debug("重新订阅时连接断开", "event", s.eventName, "error", err)
			return
		}
		log.Warn("重新订阅失败", "event", s.eventName, "attempt", attempt, "error", err)
	}

	if !s.fail(err) {
		return
	}
	log.Error("重新订阅失败，订阅退回 Pending", "event", s.eventName, "error", err)

	r.hooksMu.RLock()
	hooks := make([]ErrorHook, len(r.errorHooks))
	copy(hooks, r.errorHooks)
	r.hooksMu.RUnlock()
	for _, h := range hooks {
		h(s.eventName, err)
	}
}

// wait 等待 d，ctx 或注册表关闭时返回 false
func (r *Registry) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-r.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ============================================================================
//                              Broker 请求
// ============================================================================

func (r *Registry) sendSubscribe(ctx context.Context, eventName string) error {
	frame, err := wire.NewRequest(wire.TypeSubscribe, &wire.SubscribeBody{EventName: eventName})
	if err != nil {
		return types.ErrSubscription.Wrap(err)
	}
	if _, err := r.conn.Request(ctx, frame, 0); err != nil {
		return subscriptionError(err, types.ErrSubscribeRejected)
	}
	return nil
}

func (r *Registry) sendUnsubscribe(ctx context.Context, eventName string) error {
	// 会话不可用时 Broker 端的订阅随连接一起失效
	if r.conn.State() != types.StateReady {
		return nil
	}
	frame, err := wire.NewRequest(wire.TypeUnsubscribe, &wire.SubscribeBody{EventName: eventName})
	if err != nil {
		return types.ErrSubscription.Wrap(err)
	}
	if _, err := r.conn.Request(ctx, frame, 0); err != nil {
		return subscriptionError(err, types.ErrSubscription)
	}
	log.Info("已取消订阅", "event", eventName)
	return nil
}

// replay 向 Broker 取回已保留的事件
func (r *Registry) replay(ctx context.Context, s *subscription, idem string) (*types.Event, error) {
	if idem == "" {
		return nil, types.ErrSubscription.Wrapf("replay: idem is empty")
	}

	frame, err := wire.NewRequest(wire.TypeReplay, &wire.ReplayBody{EventName: s.eventName, Idem: idem})
	if err != nil {
		return nil, types.ErrSubscription.Wrap(err)
	}
	resp, err := r.conn.Request(ctx, frame, 0)
	if err != nil {
		if wire.IsCode(err, wire.CodeNotFound) {
			return nil, types.ErrReplayUnavailable.Wrapf("%s", idem)
		}
		return nil, subscriptionError(err, types.ErrSubscription)
	}

	var body wire.EventBody
	if err := resp.DecodeBody(&body); err != nil {
		return nil, types.ErrSubscription.Wrap(err)
	}
	if body.Idem == "" {
		body.Idem = idem
	}
	if body.EventName == "" {
		body.EventName = s.eventName
	}

	r.ledger.observe(s.eventName, body.Idem, body.Block)
	return r.open(&body, s.secretKey), nil
}

// subscriptionError 转换订阅类请求的错误
func subscriptionError(err error, rejected *types.Error) error {
	var remote *wire.RemoteError
	switch {
	case errors.Is(err, types.ErrRequestTimeout):
		return types.ErrSubscription.Wrapf("%v", err)
	case errors.As(err, &remote):
		return rejected.Wrap(remote)
	default:
		return err
	}
}
