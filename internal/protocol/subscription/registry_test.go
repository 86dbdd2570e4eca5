package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-ensync/internal/config"
	"github.com/dep2p/go-ensync/internal/core/connection"
	"github.com/dep2p/go-ensync/internal/core/envelope"
	"github.com/dep2p/go-ensync/internal/testutil/brokertest"
	"github.com/dep2p/go-ensync/pkg/types"
	"github.com/dep2p/go-ensync/pkg/wire"
)

const (
	accessKey = "validKey"
	eventName = "x/y"
	waitFor   = 2 * time.Second
	tick      = 5 * time.Millisecond
)

// ============================================================================
//                              测试辅助
// ============================================================================

type harness struct {
	broker   *brokertest.Broker
	conn     *connection.Manager
	sealer   *envelope.Sealer
	registry *Registry
	keys     *envelope.KeyPair
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Connection.HeartbeatInterval = time.Hour
	cfg.Connection.ReconnectInterval = 20 * time.Millisecond
	cfg.Subscription.ResubscribeInterval = 10 * time.Millisecond

	keys, err := envelope.GenerateKeyPair()
	require.NoError(t, err)

	broker := brokertest.New(accessKey)
	conn := connection.NewManager(&cfg.Connection, broker, nil, nil)

	sealer, err := envelope.New(&cfg.Crypto)
	require.NoError(t, err)

	registry, err := New(&cfg.Subscription, conn, sealer, keys.SecretKeyString(), nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = registry.Close(ctx)
		_ = conn.Stop(ctx)
		_ = sealer.Close()
	})

	h := &harness{
		broker:   broker,
		conn:     conn,
		sealer:   sealer,
		registry: registry,
		keys:     keys,
	}
	_, err = conn.Connect(context.Background(), accessKey)
	require.NoError(t, err)
	return h
}

func (h *harness) body(t *testing.T, idem string, payload any) *wire.EventBody {
	t.Helper()
	env, err := h.sealer.Encrypt(payload, [][]byte{h.keys.PublicKey})
	require.NoError(t, err)
	return &wire.EventBody{
		Idem:      idem,
		EventName: eventName,
		Block:     7,
		Sender:    "sender-key",
		Envelope:  env,
		Timestamp: 1700000000000,
	}
}

func (h *harness) subscribe(t *testing.T, opts types.SubscribeOptions) (Handle, chan *types.Event) {
	t.Helper()
	handle, err := h.registry.Subscribe(context.Background(), eventName, opts)
	require.NoError(t, err)

	events := make(chan *types.Event, 100)
	handle.On(func(_ context.Context, ev *types.Event) error {
		events <- ev
		return nil
	})
	return handle, events
}

func recv(t *testing.T, events <-chan *types.Event) *types.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// ============================================================================
//                              订阅
// ============================================================================

func TestRegistry_SubscribeDeliver(t *testing.T) {
	h := newHarness(t)
	handle, events := h.subscribe(t, types.SubscribeOptions{})

	assert.Equal(t, eventName, handle.EventName())
	assert.Equal(t, types.SubscriptionActive, handle.State())
	assert.Equal(t, 1, h.broker.SubscribeCount(eventName))

	require.Equal(t, 1, h.broker.Deliver(h.body(t, "e1", map[string]any{"a": 1})))

	ev := recv(t, events)
	assert.Equal(t, "e1", ev.Idem)
	assert.Equal(t, eventName, ev.EventName)
	assert.Equal(t, int64(7), ev.Block)
	assert.Equal(t, "sender-key", ev.Sender)
	assert.Equal(t, time.UnixMilli(1700000000000), ev.Timestamp)
	assert.False(t, ev.Opaque)
	assert.False(t, ev.Redelivered)

	payload, ok := ev.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("1"), payload["a"])

	// 未开启自动确认
	assert.Empty(t, h.broker.Acks())
}

func TestRegistry_DuplicateSubscribe(t *testing.T) {
	h := newHarness(t)
	handle, _ := h.subscribe(t, types.SubscribeOptions{})

	_, err := h.registry.Subscribe(context.Background(), eventName, types.SubscribeOptions{})
	assert.True(t, errors.Is(err, types.ErrAlreadySubscribed))

	require.NoError(t, handle.Unsubscribe(context.Background()))

	again, err := h.registry.Subscribe(context.Background(), eventName, types.SubscribeOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionActive, again.State())
}

func TestRegistry_SubscribeRejected(t *testing.T) {
	h := newHarness(t)
	h.broker.RejectSubscribe("deny")

	_, err := h.registry.Subscribe(context.Background(), "deny", types.SubscribeOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSubscribeRejected))
	assert.True(t, wire.IsCode(err, wire.CodeRejected))

	_, ok := h.registry.Get("deny")
	assert.False(t, ok)

	// 失败的订阅不占用事件名
	_, err = h.registry.Subscribe(context.Background(), "deny", types.SubscribeOptions{})
	assert.True(t, errors.Is(err, types.ErrSubscribeRejected))
}

func TestRegistry_SubscribeValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.registry.Subscribe(context.Background(), "", types.SubscribeOptions{})
	assert.True(t, errors.Is(err, types.ErrSubscription))

	_, err = h.registry.Subscribe(context.Background(), eventName, types.SubscribeOptions{SecretKey: "not base64!"})
	assert.True(t, errors.Is(err, types.ErrInvalidKey))
}

func TestRegistry_SubscribeNotConnected(t *testing.T) {
	cfg := config.NewConfig()
	broker := brokertest.New(accessKey)
	conn := connection.NewManager(&cfg.Connection, broker, nil, nil)
	sealer, err := envelope.New(nil)
	require.NoError(t, err)
	defer sealer.Close()

	registry, err := New(nil, conn, sealer, "", nil)
	require.NoError(t, err)
	defer registry.Close(context.Background())

	_, err = registry.Subscribe(context.Background(), eventName, types.SubscribeOptions{})
	assert.True(t, errors.Is(err, types.ErrNotConnected))
	assert.Empty(t, registry.EventNames())
}

func TestRegistry_InvalidAppSecret(t *testing.T) {
	cfg := config.NewConfig()
	conn := connection.NewManager(&cfg.Connection, brokertest.New(), nil, nil)

	_, err := New(nil, conn, nil, "%%%", nil)
	assert.True(t, errors.Is(err, types.ErrInvalidKey))
}

// ============================================================================
//                              分发
// ============================================================================

func TestRegistry_OrderedDispatch(t *testing.T) {
	h := newHarness(t)
	handle, err := h.registry.Subscribe(context.Background(), eventName, types.SubscribeOptions{})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		calls []string
	)
	handle.On(func(_ context.Context, ev *types.Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, "h1:"+ev.Idem)
		return nil
	})
	handle.On(func(_ context.Context, ev *types.Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, "h2:"+ev.Idem)
		return nil
	})

	idems := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, idem := range idems {
		h.broker.Deliver(h.body(t, idem, idem))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2*len(idems)
	}, waitFor, tick)

	want := make([]string, 0, 2*len(idems))
	for _, idem := range idems {
		want = append(want, "h1:"+idem, "h2:"+idem)
	}
	mu.Lock()
	assert.Equal(t, want, calls)
	mu.Unlock()
}

func TestRegistry_SlowSubscriptionDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t)

	slow, err := h.registry.Subscribe(context.Background(), eventName, types.SubscribeOptions{})
	require.NoError(t, err)
	release := make(chan struct{})
	defer close(release)
	slow.On(func(context.Context, *types.Event) error {
		<-release
		return nil
	})

	fast, err := h.registry.Subscribe(context.Background(), "other", types.SubscribeOptions{})
	require.NoError(t, err)
	events := make(chan *types.Event, 1)
	fast.On(func(_ context.Context, ev *types.Event) error {
		events <- ev
		return nil
	})

	h.broker.Deliver(h.body(t, "s1", 1))
	other := h.body(t, "o1", 2)
	other.EventName = "other"
	h.broker.Deliver(other)

	assert.Equal(t, "o1", recv(t, events).Idem)
}

func TestRegistry_AutoAck(t *testing.T) {
	h := newHarness(t)
	_, events := h.subscribe(t, types.SubscribeOptions{AutoAck: true})

	h.broker.Deliver(h.body(t, "e1", "hello"))
	recv(t, events)

	require.Eventually(t, func() bool { return len(h.broker.Acks()) == 1 }, waitFor, tick)
	ack := h.broker.Acks()[0]
	assert.Equal(t, wire.TypeAck, ack.Type)
	assert.Equal(t, "e1", ack.Idem)
	assert.Equal(t, int64(7), ack.Block)
}

func TestRegistry_AutoAckSkippedOnFailure(t *testing.T) {
	h := newHarness(t)
	handle, err := h.registry.Subscribe(context.Background(), eventName, types.SubscribeOptions{AutoAck: true})
	require.NoError(t, err)

	handle.On(func(_ context.Context, ev *types.Event) error {
		switch ev.Idem {
		case "panics":
			panic("boom")
		case "fails":
			return errors.New("handler failed")
		}
		return nil
	})

	h.broker.Deliver(h.body(t, "panics", 1))
	h.broker.Deliver(h.body(t, "fails", 2))
	h.broker.Deliver(h.body(t, "ok", 3))

	require.Eventually(t, func() bool { return len(h.broker.Acks()) == 1 }, waitFor, tick)
	assert.Equal(t, "ok", h.broker.Acks()[0].Idem)
}

func TestRegistry_OpaquePayload(t *testing.T) {
	h := newHarness(t)

	other, err := envelope.GenerateKeyPair()
	require.NoError(t, err)

	handle, err := h.registry.Subscribe(context.Background(), eventName, types.SubscribeOptions{
		SecretKey: other.SecretKeyString(),
	})
	require.NoError(t, err)
	events := make(chan *types.Event, 2)
	handle.On(func(_ context.Context, ev *types.Event) error {
		events <- ev
		return nil
	})

	h.broker.Deliver(h.body(t, "e1", "secret"))
	ev := recv(t, events)
	assert.True(t, ev.Opaque)
	assert.IsType(t, types.OpaqueMarker{}, ev.Payload)

	// 损坏的信封同样以 Opaque 交付
	broken := h.body(t, "e2", "secret")
	broken.Envelope.Version = 99
	h.broker.Deliver(broken)
	ev = recv(t, events)
	assert.True(t, ev.Opaque)
	assert.Equal(t, "e2", ev.Idem)
}

// TestRegistry_EventsWaitForFirstHandler 第一个处理器注册前的投递留在队列里
func TestRegistry_EventsWaitForFirstHandler(t *testing.T) {
	h := newHarness(t)
	handle, err := h.registry.Subscribe(context.Background(), eventName, types.SubscribeOptions{AutoAck: true})
	require.NoError(t, err)

	require.Equal(t, 1, h.broker.Deliver(h.body(t, "early1", 1)))
	require.Equal(t, 1, h.broker.Deliver(h.body(t, "early2", 2)))

	queue := handle.(*subscription).queue
	require.Eventually(t, func() bool { return queue.Len() == 2 }, waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, queue.Len())
	assert.Empty(t, h.broker.Acks())

	events := make(chan *types.Event, 10)
	handle.On(func(_ context.Context, ev *types.Event) error {
		events <- ev
		return nil
	})

	assert.Equal(t, "early1", recv(t, events).Idem)
	assert.Equal(t, "early2", recv(t, events).Idem)
	require.Eventually(t, func() bool { return len(h.broker.Acks()) == 2 }, waitFor, tick)
	assert.Equal(t, "early1", h.broker.Acks()[0].Idem)
	assert.Equal(t, 0, queue.Len())
}

// ============================================================================
//                              确认
// ============================================================================

func TestRegistry_RedeliveryAckedOnce(t *testing.T) {
	h := newHarness(t)
	handle, events := h.subscribe(t, types.SubscribeOptions{})

	body := h.body(t, "e1", "x")
	h.broker.Deliver(body)
	h.broker.Deliver(body)

	first := recv(t, events)
	second := recv(t, events)
	assert.False(t, first.Redelivered)
	assert.True(t, second.Redelivered)
	assert.Equal(t, 1, h.registry.ledger.Len())

	res, err := handle.Ack(context.Background(), second.Idem, second.Block)
	require.NoError(t, err)
	assert.Equal(t, types.AckResult{Idem: "e1", Outcome: types.OutcomeAck, OK: true}, res)

	again, err := handle.Ack(context.Background(), first.Idem, first.Block)
	require.NoError(t, err)
	assert.Equal(t, res, again)

	assert.Len(t, h.broker.Acks(), 1)
}

func TestRegistry_ConcurrentAcksCollapse(t *testing.T) {
	h := newHarness(t)
	handle, events := h.subscribe(t, types.SubscribeOptions{})

	h.broker.Deliver(h.body(t, "e1", "x"))
	recv(t, events)

	var wg sync.WaitGroup
	results := make([]types.AckResult, 10)
	errs := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = handle.Ack(context.Background(), "e1", 7)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.True(t, results[i].OK)
	}
	assert.Len(t, h.broker.Acks(), 1)
}

func TestRegistry_DiscardThenConflict(t *testing.T) {
	h := newHarness(t)
	handle, events := h.subscribe(t, types.SubscribeOptions{})

	h.broker.Deliver(h.body(t, "e1", "x"))
	recv(t, events)

	res, err := handle.Discard(context.Background(), "e1", "bad payload")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeDiscard, res.Outcome)

	again, err := handle.Discard(context.Background(), "e1", "bad payload")
	require.NoError(t, err)
	assert.Equal(t, res, again)

	_, err = handle.Ack(context.Background(), "e1", 7)
	assert.True(t, errors.Is(err, types.ErrAlreadyResolved))
	_, err = handle.Defer(context.Background(), "e1", time.Second, "later")
	assert.True(t, errors.Is(err, types.ErrAlreadyResolved))

	acks := h.broker.Acks()
	require.Len(t, acks, 1)
	assert.Equal(t, wire.TypeDiscard, acks[0].Type)
	assert.Equal(t, "bad payload", acks[0].Reason)
}

func TestRegistry_DeferThenRedeliver(t *testing.T) {
	h := newHarness(t)
	handle, events := h.subscribe(t, types.SubscribeOptions{})

	body := h.body(t, "e1", "x")
	h.broker.Deliver(body)
	recv(t, events)

	res, err := handle.Defer(context.Background(), "e1", 1500*time.Millisecond, "busy")
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeDefer, res.Outcome)

	// 重投前重复 defer 不再发帧
	again, err := handle.Defer(context.Background(), "e1", 1500*time.Millisecond, "busy")
	require.NoError(t, err)
	assert.Equal(t, res, again)
	require.Len(t, h.broker.Acks(), 1)
	assert.Equal(t, int64(1500), h.broker.Acks()[0].DelayMs)

	h.broker.Deliver(body)
	ev := recv(t, events)
	assert.True(t, ev.Redelivered)

	_, err = handle.Ack(context.Background(), "e1", ev.Block)
	require.NoError(t, err)

	acks := h.broker.Acks()
	require.Len(t, acks, 2)
	assert.Equal(t, wire.TypeDefer, acks[0].Type)
	assert.Equal(t, wire.TypeAck, acks[1].Type)
}

func TestRegistry_ResolvedRedeliveryDropped(t *testing.T) {
	h := newHarness(t)
	handle, events := h.subscribe(t, types.SubscribeOptions{})

	body := h.body(t, "e1", "x")
	h.broker.Deliver(body)
	recv(t, events)
	_, err := handle.Ack(context.Background(), "e1", 7)
	require.NoError(t, err)

	h.broker.Deliver(body)
	h.broker.Deliver(h.body(t, "e2", "y"))

	assert.Equal(t, "e2", recv(t, events).Idem)
}

func TestRegistry_UnknownIdem(t *testing.T) {
	h := newHarness(t)
	handle, events := h.subscribe(t, types.SubscribeOptions{})

	_, err := handle.Ack(context.Background(), "never-delivered", 1)
	assert.True(t, errors.Is(err, types.ErrUnknownIdem))
	_, err = handle.Ack(context.Background(), "", 1)
	assert.True(t, errors.Is(err, types.ErrUnknownIdem))
	assert.Empty(t, h.broker.Acks())

	// Broker 端不认识的 idem
	h.broker.MarkUnknown("e1")
	h.broker.Deliver(h.body(t, "e1", "x"))
	recv(t, events)

	_, err = handle.Ack(context.Background(), "e1", 7)
	assert.True(t, errors.Is(err, types.ErrUnknownIdem))
	assert.True(t, wire.IsCode(err, wire.CodeUnknownIdem))
}

// TestRegistry_AckScopedToSubscription 不能确认投递给其他订阅的 idem
func TestRegistry_AckScopedToSubscription(t *testing.T) {
	h := newHarness(t)
	handle, events := h.subscribe(t, types.SubscribeOptions{})

	other, err := h.registry.Subscribe(context.Background(), "other", types.SubscribeOptions{})
	require.NoError(t, err)

	h.broker.Deliver(h.body(t, "e1", "x"))
	recv(t, events)

	_, err = other.Ack(context.Background(), "e1", 7)
	assert.True(t, errors.Is(err, types.ErrUnknownIdem))
	_, err = other.Discard(context.Background(), "e1", "wrong subscription")
	assert.True(t, errors.Is(err, types.ErrUnknownIdem))
	assert.Empty(t, h.broker.Acks())

	res, err := handle.Ack(context.Background(), "e1", 7)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Len(t, h.broker.Acks(), 1)
}

// TestRegistry_AckCallerCancelDoesNotFailOthers 合并的确认不随第一个调用方取消
func TestRegistry_AckCallerCancelDoesNotFailOthers(t *testing.T) {
	h := newHarness(t)
	handle, events := h.subscribe(t, types.SubscribeOptions{})

	h.broker.Deliver(h.body(t, "e1", "x"))
	recv(t, events)

	release := h.broker.HoldAcks()
	t.Cleanup(release)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := handle.Ack(firstCtx, "e1", 7)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return h.broker.Requests(wire.TypeAck) == 1 }, waitFor, tick)

	type result struct {
		res types.AckResult
		err error
	}
	second := make(chan result, 1)
	go func() {
		res, err := handle.Ack(context.Background(), "e1", 7)
		second <- result{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(waitFor):
		t.Fatal("取消的调用方没有返回")
	}

	release()
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.True(t, r.res.OK)
	case <-time.After(waitFor):
		t.Fatal("第二个调用方没有返回")
	}

	assert.Equal(t, 1, h.broker.Requests(wire.TypeAck))
	assert.Len(t, h.broker.Acks(), 1)
}

// ============================================================================
//                              回放 / 取消 / 重订阅
// ============================================================================

func TestRegistry_Replay(t *testing.T) {
	h := newHarness(t)
	handle, _ := h.subscribe(t, types.SubscribeOptions{})

	h.broker.Retain(h.body(t, "r1", map[string]any{"k": "v"}))

	ev, err := handle.Replay(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", ev.Idem)
	assert.Equal(t, map[string]any{"k": "v"}, ev.Payload)

	// 回放的事件可以确认
	_, err = handle.Ack(context.Background(), "r1", ev.Block)
	require.NoError(t, err)

	_, err = handle.Replay(context.Background(), "missing")
	assert.True(t, errors.Is(err, types.ErrReplayUnavailable))
}

func TestRegistry_Unsubscribe(t *testing.T) {
	h := newHarness(t)
	handle, err := h.registry.Subscribe(context.Background(), eventName, types.SubscribeOptions{})
	require.NoError(t, err)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var (
		mu      sync.Mutex
		handled []string
	)
	handle.On(func(_ context.Context, ev *types.Event) error {
		started <- struct{}{}
		<-release
		mu.Lock()
		handled = append(handled, ev.Idem)
		mu.Unlock()
		return nil
	})

	h.broker.Deliver(h.body(t, "e1", 1))
	h.broker.Deliver(h.body(t, "e2", 2))

	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("handler not started")
	}

	require.NoError(t, handle.Unsubscribe(context.Background()))
	assert.Equal(t, types.SubscriptionUnsubscribed, handle.State())
	close(release)

	// 正在执行的处理器运行完，排队的 e2 不再分发
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1
	}, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"e1"}, handled)
	mu.Unlock()

	assert.Equal(t, 1, h.broker.UnsubscribeCount(eventName))
	require.NoError(t, handle.Unsubscribe(context.Background()))
	assert.Equal(t, 1, h.broker.UnsubscribeCount(eventName))

	_, ok := h.registry.Get(eventName)
	assert.False(t, ok)
	assert.Equal(t, 0, h.broker.Deliver(h.body(t, "e3", 3)))

	_, err = handle.Replay(context.Background(), "e1")
	assert.True(t, errors.Is(err, types.ErrUnsubscribed))
}

func TestRegistry_ResubscribeAfterReconnect(t *testing.T) {
	h := newHarness(t)
	_, events := h.subscribe(t, types.SubscribeOptions{})

	gone, err := h.registry.Subscribe(context.Background(), "gone", types.SubscribeOptions{})
	require.NoError(t, err)
	require.NoError(t, gone.Unsubscribe(context.Background()))

	h.broker.Drop()

	body := h.body(t, "after", "x")
	require.Eventually(t, func() bool {
		return h.broker.Deliver(body) > 0
	}, waitFor, tick)

	assert.Equal(t, "after", recv(t, events).Idem)
	assert.Equal(t, 2, h.broker.SubscribeCount(eventName))
	assert.Equal(t, 1, h.broker.SubscribeCount("gone"))
}

func TestRegistry_Close(t *testing.T) {
	h := newHarness(t)
	handle, _ := h.subscribe(t, types.SubscribeOptions{})

	require.NoError(t, h.registry.Close(context.Background()))
	assert.Equal(t, types.SubscriptionUnsubscribed, handle.State())

	_, err := h.registry.Subscribe(context.Background(), "later", types.SubscribeOptions{})
	assert.True(t, errors.Is(err, types.ErrConnectionClosed))

	require.NoError(t, h.registry.Close(context.Background()))
}

// TestRegistry_ResubscribeRetriesRejection 重新注册被拒绝后按间隔重试
func TestRegistry_ResubscribeRetriesRejection(t *testing.T) {
	h := newHarness(t)
	handle, events := h.subscribe(t, types.SubscribeOptions{})

	var failures atomic.Int32
	h.registry.OnError(func(string, error) { failures.Add(1) })

	h.broker.RejectNextSubscribes(eventName, 2)
	require.NoError(t, h.conn.Close(true))

	body := h.body(t, "after", "x")
	require.Eventually(t, func() bool {
		return h.broker.Deliver(body) > 0
	}, waitFor, tick)

	assert.Equal(t, "after", recv(t, events).Idem)
	assert.Equal(t, 2, h.broker.SubscribeCount(eventName))
	assert.Equal(t, 1+3, h.broker.Requests(wire.TypeSubscribe))
	assert.Equal(t, types.SubscriptionActive, handle.State())
	assert.NoError(t, handle.Err())
	assert.Zero(t, failures.Load())
}

// TestRegistry_ResubscribeFailureSurfaces 重新注册最终失败时退回 Pending 并通知
func TestRegistry_ResubscribeFailureSurfaces(t *testing.T) {
	h := newHarness(t)
	handle, events := h.subscribe(t, types.SubscribeOptions{})

	failures := make(chan error, 4)
	h.registry.OnError(func(name string, err error) {
		if name == eventName {
			failures <- err
		}
	})

	h.broker.RejectSubscribe(eventName)
	require.NoError(t, h.conn.Close(true))

	var err error
	select {
	case err = <-failures:
	case <-time.After(waitFor):
		t.Fatal("没有收到重新订阅失败通知")
	}
	assert.True(t, errors.Is(err, types.ErrSubscribeRejected))
	assert.Equal(t, types.SubscriptionPending, handle.State())
	assert.True(t, errors.Is(handle.Err(), types.ErrSubscribeRejected))
	assert.Equal(t, types.StateReady, h.conn.State())
	assert.Equal(t, 1+config.DefaultResubscribeAttempts, h.broker.Requests(wire.TypeSubscribe))
	assert.Equal(t, 0, h.broker.Deliver(h.body(t, "lost", "x")))

	// 下一次重连再次尝试
	h.broker.AllowSubscribe(eventName)
	require.NoError(t, h.conn.Close(true))

	require.Eventually(t, func() bool {
		return handle.State() == types.SubscriptionActive
	}, waitFor, tick)
	assert.NoError(t, handle.Err())
	require.Equal(t, 1, h.broker.Deliver(h.body(t, "back", "x")))
	assert.Equal(t, "back", recv(t, events).Idem)
}
