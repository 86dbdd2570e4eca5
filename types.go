package ensync

import (
	"github.com/dep2p/go-ensync/internal/core/envelope"
	"github.com/dep2p/go-ensync/internal/protocol/subscription"
	"github.com/dep2p/go-ensync/pkg/interfaces"
	"github.com/dep2p/go-ensync/pkg/types"
)

// ============================================================================
//                              类型别名
// ============================================================================

type (
	// Session 会话快照
	Session = types.Session

	// ConnState 连接状态
	ConnState = types.ConnState

	// Event 投递给订阅者的事件
	Event = types.Event

	// OpaqueMarker 不可解密载荷的占位值
	OpaqueMarker = types.OpaqueMarker

	// PublishRequest 发布请求
	PublishRequest = types.PublishRequest

	// PublishOptions 发布选项
	PublishOptions = types.PublishOptions

	// PublishResult 发布结果
	PublishResult = types.PublishResult

	// SubscribeOptions 订阅选项
	SubscribeOptions = types.SubscribeOptions

	// SubscriptionState 订阅状态
	SubscriptionState = types.SubscriptionState

	// AckOutcome 确认结果类型
	AckOutcome = types.AckOutcome

	// AckResult 确认结果
	AckResult = types.AckResult

	// Handler 事件处理器
	Handler = subscription.Handler

	// Subscription 订阅句柄
	Subscription = subscription.Handle

	// Transport 传输层
	Transport = interfaces.Transport

	// Channel 帧通道
	Channel = interfaces.Channel

	// KeyDirectory 收件人公钥目录
	KeyDirectory = interfaces.KeyDirectory

	// KeyPair X25519 密钥对
	KeyPair = envelope.KeyPair
)

// 连接状态
const (
	StateDisconnected   = types.StateDisconnected
	StateConnecting     = types.StateConnecting
	StateAuthenticating = types.StateAuthenticating
	StateReady          = types.StateReady
	StateReconnecting   = types.StateReconnecting
	StateClosed         = types.StateClosed
)

// 订阅状态
const (
	SubscriptionPending      = types.SubscriptionPending
	SubscriptionActive       = types.SubscriptionActive
	SubscriptionUnsubscribed = types.SubscriptionUnsubscribed
)

// 确认结果
const (
	OutcomeAck     = types.OutcomeAck
	OutcomeDefer   = types.OutcomeDefer
	OutcomeDiscard = types.OutcomeDiscard
)

// GenerateKeyPair 生成新的 X25519 密钥对
//
// 公钥的 base64 形式可以直接作为收件人标识，私钥的 base64 形式
// 用作 WithAppSecretKey 或 WithSecretKey。
func GenerateKeyPair() (*KeyPair, error) {
	return envelope.GenerateKeyPair()
}

// PublicKeyFromSecret 由 base64 私钥推导 base64 公钥
func PublicKeyFromSecret(secretKey string) (string, error) {
	secret, err := envelope.DecodeKey(secretKey)
	if err != nil {
		return "", err
	}
	pub, err := envelope.PublicKeyFromSecret(secret)
	if err != nil {
		return "", err
	}
	return envelope.EncodeKey(pub), nil
}
