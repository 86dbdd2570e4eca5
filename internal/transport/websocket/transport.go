package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dep2p/go-ensync/internal/util/logger"
	"github.com/dep2p/go-ensync/pkg/interfaces"
	"github.com/dep2p/go-ensync/pkg/wire"
)

var log = logger.Logger("transport/websocket")

// 默认值
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultReadLimit        = 16 << 20

	closeGracePeriod = time.Second
)

// ErrInvalidURL 地址无效
var ErrInvalidURL = errors.New("invalid websocket url")

// Options 传输选项
type Options struct {
	// Header 握手附加头
	Header http.Header

	// HandshakeTimeout 握手超时
	// 默认值: 10s
	HandshakeTimeout time.Duration

	// WriteTimeout 单帧写超时（上下文没有截止时间时使用）
	// 默认值: 10s
	WriteTimeout time.Duration

	// ReadLimit 单条消息最大字节数
	// 默认值: 16 MB
	ReadLimit int64

	// TLSConfig wss 使用的 TLS 配置
	TLSConfig *tls.Config
}

// ============================================================================
//                              Transport
// ============================================================================

// Transport WebSocket 传输
type Transport struct {
	url    string
	opts   Options
	dialer *websocket.Dialer
}

var _ interfaces.Transport = (*Transport)(nil)

// New 创建 WebSocket 传输
//
// http/https 地址会被转换为 ws/wss。
func New(rawURL string, opts *Options) (*Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	var o Options
	if opts != nil {
		o = *opts
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}

	return &Transport{
		url:  u.String(),
		opts: o,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.HandshakeTimeout,
			TLSClientConfig:  o.TLSConfig,
		},
	}, nil
}

// URL 目标地址
func (t *Transport) URL() string {
	return t.url
}

// Open 建立 WebSocket 连接
func (t *Transport) Open(ctx context.Context) (interfaces.Channel, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", t.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.url, err)
	}

	conn.SetReadLimit(t.opts.ReadLimit)
	log.Debug("WebSocket 已连接", "url", t.url)

	return &channel{
		conn:         conn,
		writeTimeout: t.opts.WriteTimeout,
	}, nil
}

// ============================================================================
//                              channel
// ============================================================================

// channel 单条 WebSocket 连接上的帧通道
type channel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Send 发送一帧
func (c *channel) Send(ctx context.Context, f *wire.Frame) error {
	data, err := wire.Marshal(f)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive 读取下一帧
//
// 上下文取消会让连接的读操作永久失败，只应在拆除连接时取消。
func (c *channel) Receive(ctx context.Context) (*wire.Frame, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		f, err := wire.Unmarshal(data)
		if err != nil {
			log.Warn("丢弃无法解析的消息", "error", err, "size", len(data))
			continue
		}
		return f, nil
	}
}

// Close 发送关闭帧并关闭连接
func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
