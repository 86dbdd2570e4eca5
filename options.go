package ensync

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-ensync/internal/config"
	"github.com/dep2p/go-ensync/internal/core/envelope"
	"github.com/dep2p/go-ensync/internal/transport/websocket"
	"github.com/dep2p/go-ensync/pkg/interfaces"
)

// Option 客户端配置选项
type Option func(*config.Config) error

// WebSocketOptions WebSocket 传输选项
type WebSocketOptions = websocket.Options

// applyOptions 在默认配置上依次应用选项
func applyOptions(opts []Option) (*config.Config, error) {
	cfg := config.NewConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ============================================================================
//                              传输
// ============================================================================

// WithTransport 使用自定义传输层
func WithTransport(t interfaces.Transport) Option {
	return func(cfg *config.Config) error {
		if t == nil {
			return fmt.Errorf("transport is nil")
		}
		cfg.Transport = t
		return nil
	}
}

// WithURL 使用 WebSocket 连接 Broker
func WithURL(url string, opts *WebSocketOptions) Option {
	return func(cfg *config.Config) error {
		t, err := websocket.New(url, opts)
		if err != nil {
			return err
		}
		cfg.Transport = t
		return nil
	}
}

// ============================================================================
//                              连接
// ============================================================================

// WithHeartbeatInterval 设置心跳间隔
func WithHeartbeatInterval(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.Connection.HeartbeatInterval = d
		return nil
	}
}

// WithMissedHeartbeats 设置连续丢失多少次心跳后重连
func WithMissedHeartbeats(n int) Option {
	return func(cfg *config.Config) error {
		cfg.Connection.MissedHeartbeats = n
		return nil
	}
}

// WithReconnectInterval 设置重连间隔
func WithReconnectInterval(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.Connection.ReconnectInterval = d
		return nil
	}
}

// WithMaxReconnectAttempts 设置最大重连次数，0 禁用自动重连
func WithMaxReconnectAttempts(n int) Option {
	return func(cfg *config.Config) error {
		cfg.Connection.MaxReconnectAttempts = n
		return nil
	}
}

// WithRequestTimeout 设置默认请求超时
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.Connection.RequestTimeout = d
		return nil
	}
}

// WithDialTimeout 设置建立通道与认证的超时
func WithDialTimeout(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.Connection.DialTimeout = d
		return nil
	}
}

// ============================================================================
//                              发布
// ============================================================================

// WithMaxInFlight 设置同时在途的发布数上限
func WithMaxInFlight(n int) Option {
	return func(cfg *config.Config) error {
		cfg.Publish.MaxInFlight = n
		return nil
	}
}

// WithPublishTimeout 设置等待发布确认的超时
func WithPublishTimeout(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.Publish.Timeout = d
		return nil
	}
}

// WithPublishRateLimit 限制每秒发布数
func WithPublishRateLimit(perSecond float64, burst int) Option {
	return func(cfg *config.Config) error {
		cfg.Publish.RateLimit = perSecond
		cfg.Publish.RateBurst = burst
		return nil
	}
}

// ============================================================================
//                              订阅
// ============================================================================

// WithAppSecretKey 设置默认解密私钥（base64）
func WithAppSecretKey(secretKey string) Option {
	return func(cfg *config.Config) error {
		if _, err := envelope.DecodeKey(secretKey); err != nil {
			return err
		}
		cfg.AppSecretKey = secretKey
		return nil
	}
}

// WithAckTimeout 设置确认请求超时
func WithAckTimeout(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.Subscription.AckTimeout = d
		return nil
	}
}

// WithAckHistorySize 设置确认账本容量
func WithAckHistorySize(n int) Option {
	return func(cfg *config.Config) error {
		cfg.Subscription.AckHistorySize = n
		return nil
	}
}

// WithResubscribe 设置重连后重新注册订阅的尝试次数和间隔
func WithResubscribe(attempts int, interval time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.Subscription.ResubscribeAttempts = attempts
		cfg.Subscription.ResubscribeInterval = interval
		return nil
	}
}

// ============================================================================
//                              密钥与加密
// ============================================================================

// WithRecipientCacheSize 设置收件人公钥缓存容量
func WithRecipientCacheSize(n int) Option {
	return func(cfg *config.Config) error {
		cfg.Keys.RecipientCacheSize = n
		return nil
	}
}

// WithKeyDirectory 设置收件人公钥目录
func WithKeyDirectory(dir interfaces.KeyDirectory) Option {
	return func(cfg *config.Config) error {
		cfg.Keys.Directory = dir
		return nil
	}
}

// WithKeyLookupTimeout 设置目录查询超时
func WithKeyLookupTimeout(d time.Duration) Option {
	return func(cfg *config.Config) error {
		cfg.Keys.LookupTimeout = d
		return nil
	}
}

// WithCompressThreshold 明文达到 n 字节时先压缩，0 关闭压缩
func WithCompressThreshold(n int) Option {
	return func(cfg *config.Config) error {
		cfg.Crypto.CompressThreshold = n
		return nil
	}
}

// ============================================================================
//                              可观测性与测试
// ============================================================================

// WithLogging 诊断日志开关
//
// 日志输出是进程级的，关闭后对同进程内的所有客户端生效。
func WithLogging(enabled bool) Option {
	return func(cfg *config.Config) error {
		cfg.EnableLogging = enabled
		return nil
	}
}

// WithMetricsRegisterer 在 reg 上注册 Prometheus 指标
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(cfg *config.Config) error {
		cfg.MetricsRegisterer = reg
		return nil
	}
}

// WithIntrospect 在 addr 上启动本地自省 HTTP 服务
//
// addr 为空时使用 127.0.0.1:6060。注册器是 *prometheus.Registry 时
// 同时提供 /metrics。
func WithIntrospect(addr string) Option {
	return func(cfg *config.Config) error {
		cfg.Diagnostics.EnableIntrospect = true
		if addr != "" {
			cfg.Diagnostics.IntrospectAddr = addr
		}
		return nil
	}
}

// WithClock 替换时钟，测试中配合 clock.NewMock 使用
func WithClock(clk clock.Clock) Option {
	return func(cfg *config.Config) error {
		if clk == nil {
			return fmt.Errorf("clock is nil")
		}
		cfg.Clock = clk
		return nil
	}
}
