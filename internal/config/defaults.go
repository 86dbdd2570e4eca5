package config

import "time"

// ============================================================================
//                              默认值
// ============================================================================

// 默认值常量
const (
	DefaultHeartbeatInterval    = 15 * time.Second
	DefaultMissedHeartbeats     = 2
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectAttempts = 3
	DefaultRequestTimeout       = 10 * time.Second
	DefaultDialTimeout          = 10 * time.Second

	DefaultMaxInFlight    = 10
	DefaultPublishTimeout = 10 * time.Second

	DefaultAckTimeout     = 10 * time.Second
	DefaultAckHistorySize = 10000

	DefaultResubscribeAttempts = 3
	DefaultResubscribeInterval = time.Second

	DefaultRecipientCacheSize = 1000
	DefaultKeyLookupTimeout   = 5 * time.Second

	DefaultIntrospectAddr = "127.0.0.1:6060"
)

// DefaultConnectionConfig 返回默认连接配置
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		HeartbeatInterval:    DefaultHeartbeatInterval,
		MissedHeartbeats:     DefaultMissedHeartbeats,
		ReconnectInterval:    DefaultReconnectInterval,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		RequestTimeout:       DefaultRequestTimeout,
		DialTimeout:          DefaultDialTimeout,
	}
}

// DefaultPublishConfig 返回默认发布配置
func DefaultPublishConfig() PublishConfig {
	return PublishConfig{
		MaxInFlight: DefaultMaxInFlight,
		Timeout:     DefaultPublishTimeout,
		RateBurst:   1,
	}
}

// DefaultSubscriptionConfig 返回默认订阅配置
func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		AckTimeout:          DefaultAckTimeout,
		AckHistorySize:      DefaultAckHistorySize,
		ResubscribeAttempts: DefaultResubscribeAttempts,
		ResubscribeInterval: DefaultResubscribeInterval,
	}
}

// DefaultKeysConfig 返回默认公钥缓存配置
func DefaultKeysConfig() KeysConfig {
	return KeysConfig{
		RecipientCacheSize: DefaultRecipientCacheSize,
		LookupTimeout:      DefaultKeyLookupTimeout,
	}
}

// DefaultCryptoConfig 返回默认加密配置
func DefaultCryptoConfig() CryptoConfig {
	return CryptoConfig{}
}

// DefaultDiagnosticsConfig 返回默认诊断配置
func DefaultDiagnosticsConfig() DiagnosticsConfig {
	return DiagnosticsConfig{
		IntrospectAddr: DefaultIntrospectAddr,
	}
}
