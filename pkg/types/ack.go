package types

// ============================================================================
//                              订阅状态
// ============================================================================

// SubscriptionState 订阅生命周期
type SubscriptionState int

const (
	// SubscriptionPending 正在向 Broker 注册
	SubscriptionPending SubscriptionState = iota
	// SubscriptionActive 活跃
	SubscriptionActive
	// SubscriptionUnsubscribed 已取消
	SubscriptionUnsubscribed
)

// String 返回状态名称
func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionPending:
		return "pending"
	case SubscriptionActive:
		return "active"
	case SubscriptionUnsubscribed:
		return "unsubscribed"
	default:
		return "unknown"
	}
}

// SubscribeOptions 订阅选项
type SubscribeOptions struct {
	// AutoAck 所有处理器成功后自动确认
	AutoAck bool

	// SecretKey 解密用私钥（base64），为空时使用客户端的 AppSecretKey
	SecretKey string
}

// ============================================================================
//                              确认
// ============================================================================

// AckOutcome 确认结果类型
type AckOutcome int

const (
	// OutcomeAck 投递成功
	OutcomeAck AckOutcome = iota + 1
	// OutcomeDefer 延迟重投
	OutcomeDefer
	// OutcomeDiscard 永久丢弃
	OutcomeDiscard
)

// String 返回结果名称
func (o AckOutcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeDefer:
		return "defer"
	case OutcomeDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// AckRecord 一次确认调用的内容
type AckRecord struct {
	Idem    string
	Block   int64
	Outcome AckOutcome
	DelayMs int64
	Reason  string
}

// AckResult 确认结果
//
// 对同一 idem 的重复 ack/discard 返回首次结果。
type AckResult struct {
	Idem    string
	Outcome AckOutcome
	OK      bool
}
