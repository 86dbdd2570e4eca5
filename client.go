package ensync

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-ensync/internal/config"
	"github.com/dep2p/go-ensync/internal/core/connection"
	"github.com/dep2p/go-ensync/internal/core/envelope"
	"github.com/dep2p/go-ensync/internal/core/keycache"
	"github.com/dep2p/go-ensync/internal/core/metrics"
	"github.com/dep2p/go-ensync/internal/debug/introspect"
	"github.com/dep2p/go-ensync/internal/protocol/publish"
	"github.com/dep2p/go-ensync/internal/protocol/subscription"
	"github.com/dep2p/go-ensync/internal/util/logger"
	"github.com/dep2p/go-ensync/pkg/types"
)

var log = logger.Logger("ensync")

// ============================================================================
//                              Client
// ============================================================================

// Client EnSync 客户端
//
// 一个 Client 对应一个会话。所有方法并发安全。
type Client struct {
	cfg *config.Config
	app *fx.App

	conn     *connection.Manager
	pipeline *publish.Pipeline
	registry *subscription.Registry
	keys     *keycache.Cache
	metrics  *metrics.Metrics
	debug    *introspect.Server

	closeOnce sync.Once
	closeErr  error
}

// New 创建客户端
//
// 必须通过 WithURL 或 WithTransport 指定传输层。New 不建立连接，
// 调用 Connect 进行认证。
func New(opts ...Option) (*Client, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.SetEnabled(cfg.EnableLogging)

	c := &Client{cfg: cfg}
	app, err := buildFxApp(cfg, c)
	if err != nil {
		return nil, err
	}
	c.app = app

	ctx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, fmt.Errorf("start client: %w", err)
	}

	log.Debug("客户端已创建",
		"heartbeat", cfg.Connection.HeartbeatInterval,
		"maxReconnectAttempts", cfg.Connection.MaxReconnectAttempts)
	return c, nil
}

// buildFxApp 组装内部模块
//
// 加载顺序（按依赖）：config → metrics → connection → envelope → keycache → publish → subscription → introspect
func buildFxApp(cfg *config.Config, c *Client) (*fx.App, error) {
	app := fx.New(
		fx.Supply(cfg),

		config.Module(),
		metrics.Module,
		connection.Module(),
		envelope.Module(),
		keycache.Module(),
		publish.Module(),
		subscription.Module(),
		introspect.Module(),

		fx.Populate(&c.conn, &c.pipeline, &c.registry, &c.keys, &c.metrics, &c.debug),

		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build client: %w", err)
	}
	return app, nil
}

// ============================================================================
//                              连接
// ============================================================================

// Connect 用访问密钥建立连接并认证
//
// 认证失败返回 ErrAuthentication 类错误，不会重试。
func (c *Client) Connect(ctx context.Context, accessKey string) (Session, error) {
	return c.conn.Connect(ctx, accessKey)
}

// Disconnect 关闭当前通道
//
// shouldReconnect 为 true 时立即进入重连；否则会话进入 Closed，
// 之后可以再次 Connect。
func (c *Client) Disconnect(shouldReconnect bool) error {
	return c.conn.Close(shouldReconnect)
}

// WaitReady 阻塞直到会话 Ready；会话关闭时返回错误
func (c *Client) WaitReady(ctx context.Context) error {
	return c.conn.WaitReady(ctx)
}

// OnStateChange 注册连接状态回调
//
// 回调在状态锁内同步执行，不要在回调里调用 Client 的方法。
func (c *Client) OnStateChange(hook func(from, to ConnState)) {
	c.conn.OnStateChange(hook)
}

// Session 返回会话快照
func (c *Client) Session() Session {
	return c.conn.Session()
}

// State 返回连接状态
func (c *Client) State() ConnState {
	return c.conn.State()
}

// ClientID 返回 Broker 分配的客户端 ID
func (c *Client) ClientID() string {
	return c.conn.ClientID()
}

// ClientHash 返回 Broker 返回的客户端哈希
func (c *Client) ClientHash() string {
	return c.conn.ClientHash()
}

// IsConnected 通道是否可用
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// IsAuthenticated 会话是否已认证
func (c *Client) IsAuthenticated() bool {
	return c.conn.IsAuthenticated()
}

// ============================================================================
//                              发布
// ============================================================================

// PublishOption 单次发布选项
type PublishOption func(*PublishOptions)

// WithPersist 连接中断时等待重连后重新提交
func WithPersist() PublishOption {
	return func(o *PublishOptions) {
		o.Persist = true
	}
}

// WithHeaders 附加头，与已有头合并
func WithHeaders(headers map[string]string) PublishOption {
	return func(o *PublishOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			o.Headers[k] = v
		}
	}
}

// Publish 为收件人加密载荷并发布，返回 Broker 分配的 idem
//
// 收件人是 base64 公钥或已通过 AddRecipientKey 登记的标识。
// 未连接且未指定 WithPersist 时立即返回 ErrConnection 类错误。
func (c *Client) Publish(ctx context.Context, eventName string, recipients []string, payload any, opts ...PublishOption) (string, error) {
	req := PublishRequest{
		EventName:  eventName,
		Recipients: recipients,
		Payload:    payload,
	}
	for _, opt := range opts {
		opt(&req.Options)
	}

	res, err := c.PublishRequest(ctx, req)
	if err != nil {
		return "", err
	}
	return res.Idem, nil
}

// PublishRequest 发布完整请求
func (c *Client) PublishRequest(ctx context.Context, req PublishRequest) (PublishResult, error) {
	return c.pipeline.Publish(ctx, req)
}

// PublishMany 并发发布一批请求，结果与输入顺序一致
func (c *Client) PublishMany(ctx context.Context, reqs []PublishRequest) ([]PublishResult, error) {
	return c.pipeline.PublishMany(ctx, reqs)
}

// AddRecipientKey 登记收件人标识对应的 base64 公钥
func (c *Client) AddRecipientKey(identifier, publicKey string) error {
	if identifier == "" {
		return types.ErrInvalidKey.Wrapf("empty identifier")
	}
	key, err := envelope.DecodeKey(publicKey)
	if err != nil {
		return err
	}
	return c.keys.Put(identifier, key)
}

// ============================================================================
//                              订阅
// ============================================================================

// SubscribeOption 订阅选项
type SubscribeOption func(*SubscribeOptions)

// WithAutoAck 所有处理器成功后自动确认
func WithAutoAck() SubscribeOption {
	return func(o *SubscribeOptions) {
		o.AutoAck = true
	}
}

// WithSecretKey 指定本订阅的解密私钥（base64）
func WithSecretKey(secretKey string) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.SecretKey = secretKey
	}
}

// Subscribe 订阅事件
//
// 同一事件名已有订阅时返回 ErrAlreadySubscribed。处理器通过返回的
// Subscription.On 注册；第一个处理器注册前到达的事件在队列中等待。
func (c *Client) Subscribe(ctx context.Context, eventName string, opts ...SubscribeOption) (Subscription, error) {
	var o SubscribeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return c.registry.Subscribe(ctx, eventName, o)
}

// OnSubscriptionError 注册重连后重新订阅失败的回调
//
// 失败的订阅退回 Pending，Subscription.Err 返回原因，下次重连时再试。
func (c *Client) OnSubscriptionError(hook func(eventName string, err error)) {
	c.registry.OnError(hook)
}

// Subscription 返回事件名对应的订阅
func (c *Client) Subscription(eventName string) (Subscription, bool) {
	return c.registry.Get(eventName)
}

// Subscriptions 返回所有订阅的事件名
func (c *Client) Subscriptions() []string {
	return c.registry.EventNames()
}

// IntrospectAddr 返回自省服务的监听地址，未启用时为空
func (c *Client) IntrospectAddr() string {
	if c.debug == nil {
		return ""
	}
	return c.debug.Addr()
}

// ============================================================================
//                              生命周期
// ============================================================================

// Close 关闭客户端
//
// 停止所有订阅并关闭会话，在途请求以 ErrConnection 类错误失败。
// 重复调用返回第一次的结果。
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if err := c.app.Stop(ctx); err != nil {
			c.closeErr = fmt.Errorf("stop client: %w", err)
		}
		log.Debug("客户端已关闭")
	})
	return c.closeErr
}
