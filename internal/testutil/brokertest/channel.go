package brokertest

import (
	"context"
	"sync"

	"github.com/dep2p/go-ensync/pkg/interfaces"
	"github.com/dep2p/go-ensync/pkg/wire"
)

const outboxSize = 1024

// serverConn Broker 侧的连接状态
type serverConn struct {
	b *Broker

	out       chan *wire.Frame
	done      chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	authenticated bool
	clientID      string
	subs          map[string]struct{}
}

func newServerConn(b *Broker) *serverConn {
	return &serverConn{
		b:    b,
		out:  make(chan *wire.Frame, outboxSize),
		done: make(chan struct{}),
		subs: make(map[string]struct{}),
	}
}

func (c *serverConn) push(f *wire.Frame) {
	select {
	case c.out <- f:
	case <-c.done:
	}
}

func (c *serverConn) respond(id string, body any) {
	f, err := wire.NewResponse(id, body)
	if err != nil {
		f = wire.NewErrorResponse(id, wire.CodeInternal, err.Error())
	}
	c.push(f)
}

func (c *serverConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *serverConn) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *serverConn) setAuthenticated(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	c.clientID = clientID
}

func (c *serverConn) id() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *serverConn) subscribe(eventName string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.subs[eventName] = struct{}{}
	} else {
		delete(c.subs, eventName)
	}
}

func (c *serverConn) subscribed(eventName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[eventName]
	return ok && c.authenticated
}

// channel 客户端侧通道
type channel struct {
	conn *serverConn
}

var _ interfaces.Channel = (*channel)(nil)

// Send 经过一次编解码后交给 Broker 异步处理
func (ch *channel) Send(ctx context.Context, f *wire.Frame) error {
	select {
	case <-ch.conn.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := wire.Marshal(f)
	if err != nil {
		return err
	}
	copied, err := wire.Unmarshal(data)
	if err != nil {
		return err
	}

	go ch.conn.b.handle(ch.conn, copied)
	return nil
}

// Receive 等待下一帧
func (ch *channel) Receive(ctx context.Context) (*wire.Frame, error) {
	select {
	case f := <-ch.conn.out:
		data, err := wire.Marshal(f)
		if err != nil {
			return nil, err
		}
		return wire.Unmarshal(data)
	case <-ch.conn.done:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close 关闭通道
func (ch *channel) Close() error {
	ch.conn.close()
	ch.conn.b.remove(ch.conn)
	return nil
}
