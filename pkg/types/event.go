package types

import "time"

// Event 投递给订阅者的事件
type Event struct {
	// Idem Broker 分配的投递 ID，确认操作的唯一关联键
	Idem string

	// EventName 层级事件名，如 "a/b"
	EventName string

	// Block 确认时需要携带的序列/分区标记
	Block int64

	// Sender 发送者公钥（base64）
	Sender string

	// Payload 解密后的结构化值；无法解密时为 OpaqueMarker
	Payload any

	// Metadata 元数据
	Metadata map[string]string

	// Timestamp 事件时间
	Timestamp time.Time

	// Opaque 持有者没有可用密钥
	Opaque bool

	// Redelivered 同一 idem 在确认前再次投递
	Redelivered bool
}

// OpaqueMarker 表示载荷存在但不可读
type OpaqueMarker struct {
	// Size 密文长度
	Size int
}

// IsOpaque 检查载荷是否不可读
func (e *Event) IsOpaque() bool {
	return e.Opaque
}
