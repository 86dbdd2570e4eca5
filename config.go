package ensync

import (
	"encoding/json"
	"time"

	"github.com/dep2p/go-ensync/internal/config"
)

// UserConfig 用户配置结构
//
// 字段名与其他语言客户端的选项保持一致，可以直接从 JSON 加载。
// 读取文件和环境变量由应用负责：
//
//	data, _ := os.ReadFile("ensync.json")
//	var uc ensync.UserConfig
//	if err := json.Unmarshal(data, &uc); err != nil {
//	    return err
//	}
//	client, err := ensync.New(uc.ToOptions()...)
type UserConfig struct {
	// URL Broker 的 WebSocket 地址
	URL string `json:"url,omitempty"`

	// HeartbeatInterval 心跳间隔
	HeartbeatInterval Duration `json:"heartbeatInterval,omitempty"`

	// ReconnectInterval 重连间隔
	ReconnectInterval Duration `json:"reconnectInterval,omitempty"`

	// MaxReconnectAttempts 最大重连次数，0 禁用自动重连
	MaxReconnectAttempts *int `json:"maxReconnectAttempts,omitempty"`

	// RecipientCacheSize 收件人公钥缓存容量
	RecipientCacheSize int `json:"recipientCacheSize,omitempty"`

	// AppSecretKey 默认解密私钥（base64）
	AppSecretKey string `json:"appSecretKey,omitempty"`

	// EnableLogging 诊断日志开关
	EnableLogging *bool `json:"enableLogging,omitempty"`

	// MaxInFlight 同时在途的发布数上限
	MaxInFlight int `json:"maxInFlight,omitempty"`

	// PublishTimeout 等待发布确认的超时
	PublishTimeout Duration `json:"publishTimeout,omitempty"`

	// RequestTimeout 默认请求超时
	RequestTimeout Duration `json:"requestTimeout,omitempty"`

	// PublishRateLimit 每秒发布数上限，0 不限速
	PublishRateLimit float64 `json:"publishRateLimit,omitempty"`

	// PublishRateBurst 限速突发量
	PublishRateBurst int `json:"publishRateBurst,omitempty"`

	// CompressThreshold 压缩阈值（字节）
	CompressThreshold int `json:"compressThreshold,omitempty"`

	// AckTimeout 确认请求超时
	AckTimeout Duration `json:"ackTimeout,omitempty"`

	// AckHistorySize 确认账本容量
	AckHistorySize int `json:"ackHistorySize,omitempty"`

	// ResubscribeAttempts 重连后重新注册订阅的最大尝试次数
	ResubscribeAttempts int `json:"resubscribeAttempts,omitempty"`

	// ResubscribeInterval 重新注册失败后的重试间隔
	ResubscribeInterval Duration `json:"resubscribeInterval,omitempty"`
}

// ============================================================================
//                              Duration 类型
// ============================================================================

// Duration JSON 友好的 time.Duration
//
// 接受 "15s" 这样的字符串，或毫秒整数。
type Duration time.Duration

// MarshalJSON 实现 json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON 实现 json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var ms int64
		if err := json.Unmarshal(data, &ms); err != nil {
			return err
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Duration 返回 time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ============================================================================
//                              配置转换
// ============================================================================

// ToOptions 将用户配置转换为选项列表，未设置的字段保持默认值
func (c *UserConfig) ToOptions() []Option {
	var opts []Option

	if c.URL != "" {
		opts = append(opts, WithURL(c.URL, nil))
	}

	// 连接
	if c.HeartbeatInterval > 0 {
		opts = append(opts, WithHeartbeatInterval(c.HeartbeatInterval.Duration()))
	}
	if c.ReconnectInterval > 0 {
		opts = append(opts, WithReconnectInterval(c.ReconnectInterval.Duration()))
	}
	if c.MaxReconnectAttempts != nil {
		opts = append(opts, WithMaxReconnectAttempts(*c.MaxReconnectAttempts))
	}
	if c.RequestTimeout > 0 {
		opts = append(opts, WithRequestTimeout(c.RequestTimeout.Duration()))
	}

	// 发布
	if c.MaxInFlight > 0 {
		opts = append(opts, WithMaxInFlight(c.MaxInFlight))
	}
	if c.PublishTimeout > 0 {
		opts = append(opts, WithPublishTimeout(c.PublishTimeout.Duration()))
	}
	if c.PublishRateLimit > 0 {
		burst := c.PublishRateBurst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, WithPublishRateLimit(c.PublishRateLimit, burst))
	}

	// 订阅
	if c.AppSecretKey != "" {
		opts = append(opts, WithAppSecretKey(c.AppSecretKey))
	}
	if c.AckTimeout > 0 {
		opts = append(opts, WithAckTimeout(c.AckTimeout.Duration()))
	}
	if c.AckHistorySize > 0 {
		opts = append(opts, WithAckHistorySize(c.AckHistorySize))
	}
	if c.ResubscribeAttempts > 0 || c.ResubscribeInterval > 0 {
		attempts, interval := c.ResubscribeAttempts, c.ResubscribeInterval.Duration()
		if attempts <= 0 {
			attempts = config.DefaultResubscribeAttempts
		}
		if interval <= 0 {
			interval = config.DefaultResubscribeInterval
		}
		opts = append(opts, WithResubscribe(attempts, interval))
	}

	// 密钥与加密
	if c.RecipientCacheSize > 0 {
		opts = append(opts, WithRecipientCacheSize(c.RecipientCacheSize))
	}
	if c.CompressThreshold > 0 {
		opts = append(opts, WithCompressThreshold(c.CompressThreshold))
	}

	if c.EnableLogging != nil {
		opts = append(opts, WithLogging(*c.EnableLogging))
	}

	return opts
}
