// Package config 提供 go-ensync 配置管理层
//
// config 包负责：
// - 定义内部配置结构
// - 提供默认值
// - 配置校验
// - 通过 fx 将各段配置分发给组件
package config

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-ensync/pkg/interfaces"
)

// Config 内部配置结构
//
// 用户配置（根包的 UserConfig / Option）会被转换为此结构。
type Config struct {
	// AppSecretKey 订阅解密使用的私钥（base64）
	AppSecretKey string

	// EnableLogging 诊断日志开关，不影响行为
	EnableLogging bool

	// Transport 传输层（必须）
	Transport interfaces.Transport

	// Clock 时钟，测试中可替换
	Clock clock.Clock

	// MetricsRegisterer 指标注册器，nil 表示不注册
	MetricsRegisterer prometheus.Registerer

	// Connection 连接管理配置
	Connection ConnectionConfig

	// Publish 发布管道配置
	Publish PublishConfig

	// Subscription 订阅注册表配置
	Subscription SubscriptionConfig

	// Keys 收件人公钥缓存配置
	Keys KeysConfig

	// Crypto 信封加密配置
	Crypto CryptoConfig

	// Diagnostics 诊断配置
	Diagnostics DiagnosticsConfig
}

// ConnectionConfig 连接管理配置
type ConnectionConfig struct {
	// HeartbeatInterval 心跳间隔
	// 默认值: 15s
	HeartbeatInterval time.Duration

	// MissedHeartbeats 连续丢失多少次心跳应答后进入重连
	// 默认值: 2
	MissedHeartbeats int

	// ReconnectInterval 重连间隔
	// 默认值: 3s
	ReconnectInterval time.Duration

	// MaxReconnectAttempts 最大重连次数，0 表示禁用自动重连
	// 默认值: 3
	MaxReconnectAttempts int

	// RequestTimeout 单个请求等待应答的默认超时
	// 默认值: 10s
	RequestTimeout time.Duration

	// DialTimeout 建立通道 + 认证的超时
	// 默认值: 10s
	DialTimeout time.Duration
}

// PublishConfig 发布管道配置
type PublishConfig struct {
	// MaxInFlight 同时在途的发布数上限
	// 默认值: 10
	MaxInFlight int

	// Timeout 等待 Broker 发布确认的超时
	// 默认值: 10s
	Timeout time.Duration

	// RateLimit 每秒发布数上限，0 表示不限速
	RateLimit float64

	// RateBurst 限速突发量
	// 默认值: 1
	RateBurst int
}

// SubscriptionConfig 订阅注册表配置
type SubscriptionConfig struct {
	// AckTimeout 确认类请求（ack/defer/discard）的超时
	// 默认值: 10s
	AckTimeout time.Duration

	// AckHistorySize 保留的确认记录上限（用于幂等判断）
	// 默认值: 10000
	AckHistorySize int

	// ResubscribeAttempts 重连后每个订阅重新注册的最大尝试次数
	// 默认值: 3
	ResubscribeAttempts int

	// ResubscribeInterval 重新注册失败后的重试间隔
	// 默认值: 1s
	ResubscribeInterval time.Duration
}

// KeysConfig 收件人公钥缓存配置
type KeysConfig struct {
	// RecipientCacheSize 缓存容量
	// 默认值: 1000
	RecipientCacheSize int

	// Directory 公钥目录，nil 时使用 "内联 base64 → Broker 目录" 链
	Directory interfaces.KeyDirectory

	// LookupTimeout 目录查询超时
	// 默认值: 5s
	LookupTimeout time.Duration
}

// CryptoConfig 信封加密配置
type CryptoConfig struct {
	// CompressThreshold 明文达到该字节数时先做 zstd 压缩，0 表示不压缩
	CompressThreshold int
}

// DiagnosticsConfig 诊断配置
type DiagnosticsConfig struct {
	// EnableIntrospect 启用本地自省 HTTP 服务
	EnableIntrospect bool

	// IntrospectAddr 自省服务监听地址
	// 默认值: 127.0.0.1:6060
	IntrospectAddr string
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		EnableLogging: true,
		Clock:         clock.New(),
		Connection:    DefaultConnectionConfig(),
		Publish:       DefaultPublishConfig(),
		Subscription:  DefaultSubscriptionConfig(),
		Keys:          DefaultKeysConfig(),
		Crypto:        DefaultCryptoConfig(),
		Diagnostics:   DefaultDiagnosticsConfig(),
	}
}
