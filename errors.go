package ensync

import "github.com/dep2p/go-ensync/pkg/types"

// Error 客户端错误，按 Kind 分类
type Error = types.Error

// 错误类别，errors.Is 匹配该类别下的任意错误
var (
	ErrAuthentication = types.ErrAuthentication
	ErrConnection     = types.ErrConnection
	ErrEncryption     = types.ErrEncryption
	ErrPublish        = types.ErrPublish
	ErrSubscription   = types.ErrSubscription
	ErrAck            = types.ErrAck
)

// 具体错误
var (
	// ────────────────────────────────────────────────────────────────────────
	// 连接
	// ────────────────────────────────────────────────────────────────────────

	ErrInvalidAccessKey   = types.ErrInvalidAccessKey
	ErrNotConnected       = types.ErrNotConnected
	ErrConnectionClosed   = types.ErrConnectionClosed
	ErrReconnectExhausted = types.ErrReconnectExhausted

	// ────────────────────────────────────────────────────────────────────────
	// 加密
	// ────────────────────────────────────────────────────────────────────────

	ErrInvalidKey = types.ErrInvalidKey
	ErrMissingKey = types.ErrMissingKey

	// ────────────────────────────────────────────────────────────────────────
	// 发布
	// ────────────────────────────────────────────────────────────────────────

	ErrPublishTimeout  = types.ErrPublishTimeout
	ErrPublishRejected = types.ErrPublishRejected
	ErrInvalidPublish  = types.ErrInvalidPublish

	// ────────────────────────────────────────────────────────────────────────
	// 订阅与确认
	// ────────────────────────────────────────────────────────────────────────

	ErrSubscribeRejected = types.ErrSubscribeRejected
	ErrAlreadySubscribed = types.ErrAlreadySubscribed
	ErrUnsubscribed      = types.ErrUnsubscribed
	ErrReplayUnavailable = types.ErrReplayUnavailable
	ErrUnknownIdem       = types.ErrUnknownIdem
	ErrAlreadyResolved   = types.ErrAlreadyResolved
	ErrAckTimeout        = types.ErrAckTimeout
)
