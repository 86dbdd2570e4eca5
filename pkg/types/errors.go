package types

import "fmt"

// ============================================================================
//                              错误分类
// ============================================================================

// ErrorKind 错误类别
type ErrorKind int

const (
	// KindAuthentication 访问密钥无效，connect 直接失败且不重试
	KindAuthentication ErrorKind = iota + 1

	// KindConnection 传输层故障，仅在重连耗尽或禁用时暴露给调用方
	KindConnection

	// KindEncryption 密钥材料缺失或无效
	KindEncryption

	// KindPublish Broker 拒绝发布，或等待确认超时
	KindPublish

	// KindSubscription 订阅/回放被拒绝
	KindSubscription

	// KindAck 引用了未知或已终结的 idem
	KindAck
)

// String 返回类别名称
func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindConnection:
		return "connection"
	case KindEncryption:
		return "encryption"
	case KindPublish:
		return "publish"
	case KindSubscription:
		return "subscription"
	case KindAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Error 客户端错误
//
// Message 为空的 Error 作为类别哨兵使用：
//
//	errors.Is(err, types.ErrConnection) // 匹配任意连接错误
//	errors.Is(err, types.ErrPublishTimeout) // 仅匹配发布超时
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 支持按类别或按具体错误匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// Wrap 以当前错误为模板附加原因
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Cause: cause}
}

// Wrapf 以当前错误为模板附加格式化原因
func (e *Error) Wrapf(format string, args ...any) *Error {
	return e.Wrap(fmt.Errorf(format, args...))
}

// NewError 创建指定类别的错误
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// ============================================================================
//                              类别哨兵
// ============================================================================

var (
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrConnection     = &Error{Kind: KindConnection}
	ErrEncryption     = &Error{Kind: KindEncryption}
	ErrPublish        = &Error{Kind: KindPublish}
	ErrSubscription   = &Error{Kind: KindSubscription}
	ErrAck            = &Error{Kind: KindAck}
)

// ============================================================================
//                              具体错误
// ============================================================================

var (
	// ErrInvalidAccessKey 访问密钥被 Broker 拒绝
	ErrInvalidAccessKey = &Error{Kind: KindAuthentication, Message: "access key rejected"}

	// ErrNotConnected 会话未就绪
	ErrNotConnected = &Error{Kind: KindConnection, Message: "not connected"}

	// ErrConnectionClosed 会话已关闭
	ErrConnectionClosed = &Error{Kind: KindConnection, Message: "connection closed"}

	// ErrRequestTimeout 等待应答超时，调用方按操作转换为具体错误
	ErrRequestTimeout = &Error{Kind: KindConnection, Message: "request timeout"}

	// ErrReconnectExhausted 重连次数耗尽
	ErrReconnectExhausted = &Error{Kind: KindConnection, Message: "reconnect attempts exhausted"}

	// ErrInvalidKey 密钥格式无效
	ErrInvalidKey = &Error{Kind: KindEncryption, Message: "invalid key material"}

	// ErrMissingKey 收件人公钥无法解析
	ErrMissingKey = &Error{Kind: KindEncryption, Message: "recipient key not found"}

	// ErrPublishTimeout 等待发布确认超时
	ErrPublishTimeout = &Error{Kind: KindPublish, Message: "publish ack timeout"}

	// ErrPublishRejected Broker 拒绝发布
	ErrPublishRejected = &Error{Kind: KindPublish, Message: "publish rejected"}

	// ErrInvalidPublish 发布请求参数无效
	ErrInvalidPublish = &Error{Kind: KindPublish, Message: "invalid publish request"}

	// ErrSubscribeRejected Broker 拒绝订阅
	ErrSubscribeRejected = &Error{Kind: KindSubscription, Message: "subscribe rejected"}

	// ErrAlreadySubscribed 同一事件名已有活跃订阅
	ErrAlreadySubscribed = &Error{Kind: KindSubscription, Message: "already subscribed"}

	// ErrUnsubscribed 订阅已取消
	ErrUnsubscribed = &Error{Kind: KindSubscription, Message: "subscription is unsubscribed"}

	// ErrReplayUnavailable Broker 没有保留该事件
	ErrReplayUnavailable = &Error{Kind: KindSubscription, Message: "event not retained"}

	// ErrUnknownIdem 未知的 idem
	ErrUnknownIdem = &Error{Kind: KindAck, Message: "unknown idem"}

	// ErrAlreadyResolved idem 已处于终结状态
	ErrAlreadyResolved = &Error{Kind: KindAck, Message: "event already resolved"}

	// ErrAckTimeout 等待确认响应超时
	ErrAckTimeout = &Error{Kind: KindAck, Message: "ack response timeout"}
)
