package wire

// ============================================================================
//                              认证 / 心跳
// ============================================================================

// AuthenticateBody authenticate 请求
type AuthenticateBody struct {
	AccessKey string `json:"accessKey"`
}

// AuthenticateResult authenticate 应答
type AuthenticateResult struct {
	ClientID   string `json:"clientId"`
	ClientHash string `json:"clientHash"`
}

// HeartbeatBody heartbeat 请求
type HeartbeatBody struct {
	ClientID string `json:"clientId,omitempty"`
}

// ============================================================================
//                              加密信封
// ============================================================================

// Envelope 混合加密信封：内容只加密一次，内容密钥按收件人分别封装
type Envelope struct {
	// Version 信封版本
	Version uint8 `json:"v"`

	// Compression 明文压缩算法，空表示未压缩
	Compression string `json:"c,omitempty"`

	// Nonce 内容加密 nonce
	Nonce []byte `json:"n"`

	// Ciphertext 内容密文
	Ciphertext []byte `json:"ct"`

	// Keys 每个收件人一条封装记录
	Keys []KeyWrap `json:"k"`
}

// KeyWrap 单个收件人的内容密钥封装
type KeyWrap struct {
	// Recipient 收件人公钥（base64）
	Recipient string `json:"r"`

	// Ephemeral 临时公钥
	Ephemeral []byte `json:"e"`

	// Nonce 封装 nonce
	Nonce []byte `json:"n"`

	// Wrapped 被封装的内容密钥
	Wrapped []byte `json:"w"`
}

// ============================================================================
//                              发布
// ============================================================================

// PublishBody publish 请求
type PublishBody struct {
	EventName  string            `json:"eventName"`
	Recipients []string          `json:"recipients"`
	Envelope   *Envelope         `json:"envelope"`
	Persist    bool              `json:"persist,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// PublishResult publish 应答
type PublishResult struct {
	Idem string `json:"idem"`
}

// ResolveKeyBody resolve_key 请求
type ResolveKeyBody struct {
	Identifier string `json:"identifier"`
}

// ResolveKeyResult resolve_key 应答
type ResolveKeyResult struct {
	PublicKey string `json:"publicKey"`
}

// ============================================================================
//                              订阅 / 确认
// ============================================================================

// SubscribeBody subscribe / unsubscribe 请求
type SubscribeBody struct {
	EventName string `json:"eventName"`
	AutoAck   bool   `json:"autoAck,omitempty"`
}

// SubscribeResult subscribe 应答
type SubscribeResult struct {
	Token string `json:"token"`
}

// AckBody ack 请求
type AckBody struct {
	Idem  string `json:"idem"`
	Block int64  `json:"block"`
}

// DeferBody defer 请求
type DeferBody struct {
	Idem    string `json:"idem"`
	DelayMs int64  `json:"delayMs"`
	Reason  string `json:"reason,omitempty"`
}

// DiscardBody discard 请求
type DiscardBody struct {
	Idem   string `json:"idem"`
	Reason string `json:"reason,omitempty"`
}

// ReplayBody replay 请求
type ReplayBody struct {
	EventName string `json:"eventName"`
	Idem      string `json:"idem"`
}

// EventBody 事件帧体，也是 replay 的应答
type EventBody struct {
	Idem      string            `json:"idem"`
	EventName string            `json:"eventName"`
	Block     int64             `json:"block"`
	Sender    string            `json:"sender,omitempty"`
	Envelope  *Envelope         `json:"envelope,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}
