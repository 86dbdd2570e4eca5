package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dep2p/go-ensync/pkg/types"
	"github.com/dep2p/go-ensync/pkg/wire"
)

// ============================================================================
//                              接口定义
// ============================================================================

// Handler 事件处理器
//
// 返回错误（或 panic）时事件保持未确认，由 Broker 按策略重投。
type Handler func(ctx context.Context, event *types.Event) error

// Handle 订阅句柄
type Handle interface {
	// EventName 订阅的事件名
	EventName() string

	// State 订阅状态
	State() types.SubscriptionState

	// Err 最近一次重连后重新注册失败的原因；成功后清空
	Err() error

	// On 追加处理器，按注册顺序调用
	//
	// 第一个处理器注册之前到达的投递在队列中等待，注册后按顺序分发。
	On(handler Handler)

	// Ack 确认投递成功
	Ack(ctx context.Context, idem string, block int64) (types.AckResult, error)

	// Defer 请求延迟重投
	Defer(ctx context.Context, idem string, delay time.Duration, reason string) (types.AckResult, error)

	// Discard 永久丢弃
	Discard(ctx context.Context, idem string, reason string) (types.AckResult, error)

	// Replay 从 Broker 取回一个已保留的事件
	Replay(ctx context.Context, idem string) (*types.Event, error)

	// Unsubscribe 取消订阅；正在执行的处理器会运行完，排队的投递被丢弃
	Unsubscribe(ctx context.Context) error
}

// ============================================================================
//                              subscription
// ============================================================================

// subscription Handle 实现
type subscription struct {
	registry  *Registry
	eventName string
	autoAck   bool
	secretKey []byte

	mu       sync.RWMutex
	state    types.SubscriptionState
	err      error
	handlers []Handler

	queue *deliveryQueue
	done  chan struct{}
}

var _ Handle = (*subscription)(nil)

func newSubscription(r *Registry, eventName string, autoAck bool, secretKey []byte) *subscription {
	return &subscription{
		registry:  r,
		eventName: eventName,
		autoAck:   autoAck,
		secretKey: secretKey,
		state:     types.SubscriptionPending,
		queue:     newDeliveryQueue(),
		done:      make(chan struct{}),
	}
}

// EventName 订阅的事件名
func (s *subscription) EventName() string {
	return s.eventName
}

// State 订阅状态
func (s *subscription) State() types.SubscriptionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err 重新注册失败的原因
func (s *subscription) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// On 追加处理器
func (s *subscription) On(handler Handler) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	if s.state == types.SubscriptionUnsubscribed {
		s.mu.Unlock()
		return
	}
	s.handlers = append(s.handlers, handler)
	first := len(s.handlers) == 1
	s.mu.Unlock()

	if first {
		s.queue.wake()
	}
}

// Ack 确认投递成功
func (s *subscription) Ack(ctx context.Context, idem string, block int64) (types.AckResult, error) {
	return s.registry.acknowledge(ctx, s.eventName, types.AckRecord{
		Idem:    idem,
		Block:   block,
		Outcome: types.OutcomeAck,
	})
}

// Defer 请求延迟重投
func (s *subscription) Defer(ctx context.Context, idem string, delay time.Duration, reason string) (types.AckResult, error) {
	if delay < 0 {
		delay = 0
	}
	return s.registry.acknowledge(ctx, s.eventName, types.AckRecord{
		Idem:    idem,
		Outcome: types.OutcomeDefer,
		DelayMs: delay.Milliseconds(),
		Reason:  reason,
	})
}

// Discard 永久丢弃
func (s *subscription) Discard(ctx context.Context, idem string, reason string) (types.AckResult, error) {
	return s.registry.acknowledge(ctx, s.eventName, types.AckRecord{
		Idem:    idem,
		Outcome: types.OutcomeDiscard,
		Reason:  reason,
	})
}

// Replay 取回已保留的事件
//
// 回放的事件会登记到确认账本，之后可以对它 ack/defer/discard。
func (s *subscription) Replay(ctx context.Context, idem string) (*types.Event, error) {
	if s.State() == types.SubscriptionUnsubscribed {
		return nil, types.ErrUnsubscribed.Wrapf("%s", s.eventName)
	}
	return s.registry.replay(ctx, s, idem)
}

// Unsubscribe 取消订阅
func (s *subscription) Unsubscribe(ctx context.Context) error {
	if !s.stop() {
		return nil
	}
	s.registry.remove(s)
	return s.registry.sendUnsubscribe(ctx, s.eventName)
}

// setState 更新状态并清除错误，已取消的订阅不再变化
func (s *subscription) setState(state types.SubscriptionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.SubscriptionUnsubscribed {
		return false
	}
	s.state = state
	s.err = nil
	return true
}

// fail 重新注册失败，退回 Pending 并记录原因
func (s *subscription) fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.SubscriptionUnsubscribed {
		return false
	}
	s.state = types.SubscriptionPending
	s.err = err
	return true
}

// needsResubscribe Active 或重新注册失败过的订阅在重连后需要重新注册
func (s *subscription) needsResubscribe() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case types.SubscriptionActive:
		return true
	case types.SubscriptionPending:
		return s.err != nil
	default:
		return false
	}
}

// stop 进入 Unsubscribed 并停止分发；重复调用返回 false
func (s *subscription) stop() bool {
	s.mu.Lock()
	if s.state == types.SubscriptionUnsubscribed {
		s.mu.Unlock()
		return false
	}
	s.state = types.SubscriptionUnsubscribed
	close(s.done)
	s.mu.Unlock()

	if n := s.queue.clear(); n > 0 {
		log.Debug("取消订阅，丢弃排队投递", "event", s.eventName, "dropped", n)
	}
	return true
}

// enqueue 放入分发队列
func (s *subscription) enqueue(d delivery) bool {
	if s.State() == types.SubscriptionUnsubscribed {
		return false
	}
	s.queue.push(d)
	return true
}

// ============================================================================
//                              分发
// ============================================================================

// run 分发协程，按入队顺序逐个处理
func (s *subscription) run(ctx context.Context) {
	defer s.registry.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.queue.notify:
		}

		for {
			// 每次分发前检查状态；没有处理器时投递留在队列里
			handlers, ok := s.dispatchable()
			if !ok || len(handlers) == 0 {
				break
			}
			d, ok := s.queue.pop()
			if !ok {
				break
			}
			s.deliver(ctx, d, handlers)
		}
	}
}

// dispatchable 返回处理器快照；已取消时返回 false
func (s *subscription) dispatchable() ([]Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == types.SubscriptionUnsubscribed {
		return nil, false
	}
	handlers := make([]Handler, len(s.handlers))
	copy(handlers, s.handlers)
	return handlers, true
}

// deliver 解密并依次调用处理器
func (s *subscription) deliver(ctx context.Context, d delivery, handlers []Handler) {
	event := s.registry.open(d.body, s.secretKey)
	event.Redelivered = d.redelivered

	for i, h := range handlers {
		if err := invoke(ctx, h, event); err != nil {
			log.Warn("事件处理失败，投递保持未确认",
				"event", s.eventName,
				"idem", event.Idem,
				"handler", i,
				"error", err)
			return
		}
	}

	if !s.autoAck {
		return
	}
	if _, err := s.Ack(ctx, event.Idem, event.Block); err != nil {
		log.Warn("自动确认失败", "event", s.eventName, "idem", event.Idem, "error", err)
	}
}

// invoke 调用单个处理器，panic 转为错误
func invoke(ctx context.Context, h Handler, event *types.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, event)
}

// ============================================================================
//                              帧体辅助
// ============================================================================

// eventTime 毫秒时间戳转换为 time.Time，0 表示未知
func eventTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// newEvent 从帧体构建事件（不含载荷）
func newEvent(body *wire.EventBody) *types.Event {
	return &types.Event{
		Idem:      body.Idem,
		EventName: body.EventName,
		Block:     body.Block,
		Sender:    body.Sender,
		Metadata:  body.Metadata,
		Timestamp: eventTime(body.Timestamp),
	}
}
