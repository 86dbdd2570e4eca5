package brokertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dep2p/go-ensync/pkg/interfaces"
	"github.com/dep2p/go-ensync/pkg/wire"
)

var (
	// ErrDialFailed 注入的拨号失败
	ErrDialFailed = errors.New("brokertest: dial failed")

	// ErrChannelClosed 通道已关闭
	ErrChannelClosed = errors.New("brokertest: channel closed")
)

// PublishHandler 处理发布请求，返回错误时 Broker 以 rejected 应答
type PublishHandler func(body *wire.PublishBody) (idem string, err error)

// AckCall 一次确认类请求
type AckCall struct {
	Type    wire.FrameType
	Idem    string
	Block   int64
	DelayMs int64
	Reason  string
}

// Broker 内存 Broker
type Broker struct {
	mu sync.Mutex

	accessKeys map[string]struct{}
	conns      map[*serverConn]struct{}
	clientSeq  int

	publishHandler PublishHandler
	published      []*wire.PublishBody
	blockSeq       int64

	subscribes   map[string]int
	unsubscribes map[string]int
	rejectSubs   map[string]int
	acks         []AckCall
	ackGate      chan struct{}
	unknownIdems map[string]struct{}
	retained     map[string]*wire.EventBody
	directory    map[string]string
	requests     map[wire.FrameType]int

	dials       atomic.Int32
	failDials   atomic.Int32
	failAll     atomic.Bool
	heartbeatOK atomic.Bool

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

// New 创建 Broker，默认接受给定的访问密钥并应答心跳
func New(accessKeys ...string) *Broker {
	b := &Broker{
		accessKeys:   make(map[string]struct{}),
		conns:        make(map[*serverConn]struct{}),
		subscribes:   make(map[string]int),
		unsubscribes: make(map[string]int),
		rejectSubs:   make(map[string]int),
		unknownIdems: make(map[string]struct{}),
		retained:     make(map[string]*wire.EventBody),
		directory:    make(map[string]string),
		requests:     make(map[wire.FrameType]int),
	}
	for _, k := range accessKeys {
		b.accessKeys[k] = struct{}{}
	}
	b.heartbeatOK.Store(true)
	return b
}

var _ interfaces.Transport = (*Broker)(nil)

// ============================================================================
//                              脚本化
// ============================================================================

// AcceptKey 接受访问密钥
func (b *Broker) AcceptKey(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessKeys[key] = struct{}{}
}

// RevokeKey 撤销访问密钥，之后的认证会被拒绝
func (b *Broker) RevokeKey(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.accessKeys, key)
}

// FailNextDials 让接下来 n 次拨号失败
func (b *Broker) FailNextDials(n int) {
	b.failDials.Store(int32(n))
}

// FailDials 让所有拨号失败
func (b *Broker) FailDials(fail bool) {
	b.failAll.Store(fail)
}

// SetHeartbeats 设置是否应答心跳
func (b *Broker) SetHeartbeats(enabled bool) {
	b.heartbeatOK.Store(enabled)
}

// SetPublishHandler 设置发布处理函数
func (b *Broker) SetPublishHandler(h PublishHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishHandler = h
}

// RejectSubscribe 拒绝对 eventName 的订阅请求，直到 AllowSubscribe
func (b *Broker) RejectSubscribe(eventName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectSubs[eventName] = -1
}

// RejectNextSubscribes 拒绝接下来 n 次对 eventName 的订阅请求
func (b *Broker) RejectNextSubscribes(eventName string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 {
		delete(b.rejectSubs, eventName)
		return
	}
	b.rejectSubs[eventName] = n
}

// AllowSubscribe 取消对 eventName 的拒绝
func (b *Broker) AllowSubscribe(eventName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rejectSubs, eventName)
}

// HoldAcks 暂缓确认类请求的应答，调用返回的函数后继续
//
// 被暂缓的请求在放行前不计入 Acks。
func (b *Broker) HoldAcks() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.ackGate = gate
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.ackGate == gate {
				b.ackGate = nil
			}
			b.mu.Unlock()
			close(gate)
		})
	}
}

// MarkUnknown 让对 idem 的确认请求以 unknown_idem 应答
func (b *Broker) MarkUnknown(idem string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unknownIdems[idem] = struct{}{}
}

// Retain 保留事件，供 replay 使用
func (b *Broker) Retain(body *wire.EventBody) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retained[body.Idem] = body
}

// RegisterKey 在目录中登记收件人公钥
func (b *Broker) RegisterKey(identifier, publicKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.directory[identifier] = publicKey
}

// Deliver 把事件推送给所有订阅了该事件名的连接，返回推送数
func (b *Broker) Deliver(body *wire.EventBody) int {
	frame, err := wire.NewEvent(body)
	if err != nil {
		panic(fmt.Sprintf("brokertest: encode event: %v", err))
	}

	b.mu.Lock()
	targets := make([]*serverConn, 0, len(b.conns))
	for c := range b.conns {
		if c.subscribed(body.EventName) {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.push(frame)
	}
	return len(targets)
}

// Drop 断开所有连接
func (b *Broker) Drop() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[*serverConn]struct{})
	b.mu.Unlock()

	for c := range conns {
		c.close()
	}
}

// ============================================================================
//                              观测
// ============================================================================

// Dials 拨号次数（含失败）
func (b *Broker) Dials() int {
	return int(b.dials.Load())
}

// Connections 当前连接数
func (b *Broker) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// SubscribeCount 事件名收到的 subscribe 次数
func (b *Broker) SubscribeCount(eventName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes[eventName]
}

// UnsubscribeCount 事件名收到的 unsubscribe 次数
func (b *Broker) UnsubscribeCount(eventName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubscribes[eventName]
}

// Acks 已收到的确认类请求
func (b *Broker) Acks() []AckCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]AckCall, len(b.acks))
	copy(out, b.acks)
	return out
}

// Published 已接受的发布请求
func (b *Broker) Published() []*wire.PublishBody {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*wire.PublishBody, len(b.published))
	copy(out, b.published)
	return out
}

// Requests 指定类型的请求数
func (b *Broker) Requests(t wire.FrameType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[t]
}

// MaxConcurrentPublishes 观察到的最大并发发布数
func (b *Broker) MaxConcurrentPublishes() int {
	return int(b.maxInflight.Load())
}

// ============================================================================
//                              Transport
// ============================================================================

// Open 建立一条内存通道
func (b *Broker) Open(ctx context.Context) (interfaces.Channel, error) {
	b.dials.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.failAll.Load() {
		return nil, ErrDialFailed
	}
	for {
		n := b.failDials.Load()
		if n <= 0 {
			break
		}
		if b.failDials.CompareAndSwap(n, n-1) {
			return nil, ErrDialFailed
		}
	}

	c := newServerConn(b)
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()
	return &channel{conn: c}, nil
}

func (b *Broker) remove(c *serverConn) {
	b.mu.Lock()
	delete(b.conns, c)
	b.mu.Unlock()
}

// ============================================================================
//                              请求处理
// ============================================================================

func (b *Broker) handle(c *serverConn, f *wire.Frame) {
	b.mu.Lock()
	b.requests[f.Type]++
	b.mu.Unlock()

	if f.Type != wire.TypeAuthenticate && !c.isAuthenticated() {
		c.push(wire.NewErrorResponse(f.ID, wire.CodeUnauthorized, "not authenticated"))
		return
	}

	switch f.Type {
	case wire.TypeAuthenticate:
		b.handleAuthenticate(c, f)
	case wire.TypeHeartbeat:
		if b.heartbeatOK.Load() {
			c.respond(f.ID, nil)
		}
	case wire.TypePublish:
		b.handlePublish(c, f)
	case wire.TypeSubscribe, wire.TypeUnsubscribe:
		b.handleSubscribe(c, f)
	case wire.TypeAck, wire.TypeDefer, wire.TypeDiscard:
		b.handleAck(c, f)
	case wire.TypeReplay:
		b.handleReplay(c, f)
	case wire.TypeResolveKey:
		b.handleResolveKey(c, f)
	default:
		c.push(wire.NewErrorResponse(f.ID, wire.CodeRejected, "unsupported frame "+string(f.Type)))
	}
}

func (b *Broker) handleAuthenticate(c *serverConn, f *wire.Frame) {
	var body wire.AuthenticateBody
	if err := f.DecodeBody(&body); err != nil {
		c.push(wire.NewErrorResponse(f.ID, wire.CodeRejected, err.Error()))
		return
	}

	b.mu.Lock()
	_, ok := b.accessKeys[body.AccessKey]
	if ok {
		b.clientSeq++
	}
	seq := b.clientSeq
	b.mu.Unlock()

	if !ok {
		c.push(wire.NewErrorResponse(f.ID, wire.CodeUnauthorized, "invalid access key"))
		return
	}

	clientID := fmt.Sprintf("client-%d", seq)
	c.setAuthenticated(clientID)
	c.respond(f.ID, &wire.AuthenticateResult{
		ClientID:   clientID,
		ClientHash: uuid.NewString(),
	})
}

func (b *Broker) handlePublish(c *serverConn, f *wire.Frame) {
	n := b.inflight.Add(1)
	for {
		peak := b.maxInflight.Load()
		if n <= peak || b.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}

	var body wire.PublishBody
	if err := f.DecodeBody(&body); err != nil {
		b.inflight.Add(-1)
		c.push(wire.NewErrorResponse(f.ID, wire.CodeRejected, err.Error()))
		return
	}

	b.mu.Lock()
	handler := b.publishHandler
	b.mu.Unlock()

	idem := uuid.NewString()
	var err error
	if handler != nil {
		idem, err = handler(&body)
	}

	// 应答前先减计数，客户端收到应答后立即补位不会被误计
	b.inflight.Add(-1)

	if err != nil {
		c.push(wire.NewErrorResponse(f.ID, wire.CodeRejected, err.Error()))
		return
	}

	b.mu.Lock()
	b.published = append(b.published, &body)
	b.blockSeq++
	block := b.blockSeq
	b.mu.Unlock()
	c.respond(f.ID, &wire.PublishResult{Idem: idem})

	// 转发给订阅者
	if idem != "" {
		b.Deliver(&wire.EventBody{
			Idem:      idem,
			EventName: body.EventName,
			Block:     block,
			Sender:    c.id(),
			Envelope:  body.Envelope,
			Metadata:  body.Headers,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func (b *Broker) handleSubscribe(c *serverConn, f *wire.Frame) {
	var body wire.SubscribeBody
	if err := f.DecodeBody(&body); err != nil {
		c.push(wire.NewErrorResponse(f.ID, wire.CodeRejected, err.Error()))
		return
	}

	b.mu.Lock()
	remaining, reject := b.rejectSubs[body.EventName]
	if reject && f.Type == wire.TypeSubscribe {
		switch {
		case remaining == 1:
			delete(b.rejectSubs, body.EventName)
		case remaining > 1:
			b.rejectSubs[body.EventName] = remaining - 1
		}
		b.mu.Unlock()
		c.push(wire.NewErrorResponse(f.ID, wire.CodeRejected, "subscription denied"))
		return
	}
	if f.Type == wire.TypeSubscribe {
		b.subscribes[body.EventName]++
	} else {
		b.unsubscribes[body.EventName]++
	}
	b.mu.Unlock()

	if f.Type == wire.TypeSubscribe {
		c.subscribe(body.EventName, true)
		c.respond(f.ID, &wire.SubscribeResult{Token: uuid.NewString()})
		return
	}
	c.subscribe(body.EventName, false)
	c.respond(f.ID, nil)
}

func (b *Broker) handleAck(c *serverConn, f *wire.Frame) {
	call := AckCall{Type: f.Type}
	switch f.Type {
	case wire.TypeAck:
		var body wire.AckBody
		if err := f.DecodeBody(&body); err != nil {
			c.push(wire.NewErrorResponse(f.ID, wire.CodeRejected, err.Error()))
			return
		}
		call.Idem, call.Block = body.Idem, body.Block
	case wire.TypeDefer:
		var body wire.DeferBody
		if err := f.DecodeBody(&body); err != nil {
			c.push(wire.NewErrorResponse(f.ID, wire.CodeRejected, err.Error()))
			return
		}
		call.Idem, call.DelayMs, call.Reason = body.Idem, body.DelayMs, body.Reason
	case wire.TypeDiscard:
		var body wire.DiscardBody
		if err := f.DecodeBody(&body); err != nil {
			c.push(wire.NewErrorResponse(f.ID, wire.CodeRejected, err.Error()))
			return
		}
		call.Idem, call.Reason = body.Idem, body.Reason
	}

	b.mu.Lock()
	gate := b.ackGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	_, unknown := b.unknownIdems[call.Idem]
	if !unknown {
		b.acks = append(b.acks, call)
	}
	b.mu.Unlock()

	if unknown {
		c.push(wire.NewErrorResponse(f.ID, wire.CodeUnknownIdem, call.Idem))
		return
	}
	c.respond(f.ID, nil)
}

func (b *Broker) handleReplay(c *serverConn, f *wire.Frame) {
	var body wire.ReplayBody
	if err := f.DecodeBody(&body); err != nil {
		c.push(wire.NewErrorResponse(f.ID, wire.CodeRejected, err.Error()))
		return
	}

	b.mu.Lock()
	event, ok := b.retained[body.Idem]
	b.mu.Unlock()

	if !ok {
		c.push(wire.NewErrorResponse(f.ID, wire.CodeNotFound, "event not retained"))
		return
	}
	c.respond(f.ID, event)
}

func (b *Broker) handleResolveKey(c *serverConn, f *wire.Frame) {
	var body wire.ResolveKeyBody
	if err := f.DecodeBody(&body); err != nil {
		c.push(wire.NewErrorResponse(f.ID, wire.CodeRejected, err.Error()))
		return
	}

	b.mu.Lock()
	key, ok := b.directory[body.Identifier]
	b.mu.Unlock()

	if !ok {
		c.push(wire.NewErrorResponse(f.ID, wire.CodeNotFound, body.Identifier))
		return
	}
	c.respond(f.ID, &wire.ResolveKeyResult{PublicKey: key})
}
