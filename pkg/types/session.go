package types

// ============================================================================
//                              连接状态
// ============================================================================

// ConnState 会话状态机状态
//
//	Disconnected → Connecting → Authenticating → Ready
//	Ready → Reconnecting → Ready | Closed
type ConnState int

const (
	// StateDisconnected 尚未连接
	StateDisconnected ConnState = iota
	// StateConnecting 正在建立传输通道
	StateConnecting
	// StateAuthenticating 正在认证
	StateAuthenticating
	// StateReady 已认证，可收发
	StateReady
	// StateReconnecting 正在重连
	StateReconnecting
	// StateClosed 已关闭（终态）
	StateClosed
)

// String 返回状态名称
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              Session
// ============================================================================

// Session 会话快照
//
// 每个客户端实例只有一个 Session，由连接管理器独占维护。
// 对外返回的是值拷贝。
type Session struct {
	// ClientID Broker 分配的客户端 ID
	ClientID string

	// ClientHash Broker 返回的客户端哈希
	ClientHash string

	// AccessKey 访问密钥
	AccessKey string

	// IsAuthenticated 是否已认证（蕴含 IsConnected）
	IsAuthenticated bool

	// IsConnected 传输通道是否可用
	IsConnected bool

	// ReconnectAttempts 当前连续重连次数
	ReconnectAttempts int

	// ShouldReconnect 最近一次 close 是否要求重连
	ShouldReconnect bool
}
