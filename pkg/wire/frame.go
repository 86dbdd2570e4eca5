// Package wire 定义客户端与 Broker 之间的逻辑帧
//
// 帧与传输无关：WebSocket 适配器按 JSON 文本消息收发，
// 其他传输可以自行选择字节编码。
//
// 请求帧携带 ID，Broker 以同 ID 的 response 帧应答；
// event 帧由 Broker 主动推送，没有 ID。
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ============================================================================
//                              帧类型
// ============================================================================

// FrameType 帧类型
type FrameType string

const (
	TypeAuthenticate FrameType = "authenticate"
	TypePublish      FrameType = "publish"
	TypeSubscribe    FrameType = "subscribe"
	TypeUnsubscribe  FrameType = "unsubscribe"
	TypeAck          FrameType = "ack"
	TypeDefer        FrameType = "defer"
	TypeDiscard      FrameType = "discard"
	TypeReplay       FrameType = "replay"
	TypeHeartbeat    FrameType = "heartbeat"
	TypeResolveKey   FrameType = "resolve_key"

	// TypeResponse Broker 对请求的应答
	TypeResponse FrameType = "response"

	// TypeEvent Broker 推送的事件
	TypeEvent FrameType = "event"
)

// 错误码（response 帧的 Code 字段）
const (
	CodeUnauthorized = "unauthorized"
	CodeRejected     = "rejected"
	CodeNotFound     = "not_found"
	CodeUnknownIdem  = "unknown_idem"
	CodeInternal     = "internal"
)

// Frame 逻辑帧
type Frame struct {
	// Type 帧类型
	Type FrameType `json:"type"`

	// ID 请求 ID，response 帧回填相同 ID
	ID string `json:"id,omitempty"`

	// Body 帧体，按 Type 解释
	Body json.RawMessage `json:"body,omitempty"`

	// OK response 帧：请求是否成功
	OK bool `json:"ok,omitempty"`

	// Code response 帧：失败时的错误码
	Code string `json:"code,omitempty"`

	// Error response 帧：失败描述
	Error string `json:"error,omitempty"`
}

// NewRequest 构建请求帧
func NewRequest(t FrameType, body any) (*Frame, error) {
	f := &Frame{Type: t}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", t, err)
		}
		f.Body = data
	}
	return f, nil
}

// NewResponse 构建成功应答
func NewResponse(id string, body any) (*Frame, error) {
	f, err := NewRequest(TypeResponse, body)
	if err != nil {
		return nil, err
	}
	f.ID = id
	f.OK = true
	return f, nil
}

// NewErrorResponse 构建失败应答
func NewErrorResponse(id, code, message string) *Frame {
	return &Frame{
		Type:  TypeResponse,
		ID:    id,
		Code:  code,
		Error: message,
	}
}

// NewEvent 构建事件帧
func NewEvent(body *EventBody) (*Frame, error) {
	return NewRequest(TypeEvent, body)
}

// DecodeBody 解码帧体
func (f *Frame) DecodeBody(v any) error {
	if len(f.Body) == 0 {
		return fmt.Errorf("%s frame has empty body", f.Type)
	}
	if err := json.Unmarshal(f.Body, v); err != nil {
		return fmt.Errorf("decode %s body: %w", f.Type, err)
	}
	return nil
}

// Err 失败应答转换为 *RemoteError，成功应答返回 nil
func (f *Frame) Err() error {
	if f.OK {
		return nil
	}
	return &RemoteError{Code: f.Code, Message: f.Error}
}

// RemoteError Broker 返回的失败应答
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "broker: " + e.Code
	}
	return fmt.Sprintf("broker: %s: %s", e.Code, e.Message)
}

// IsCode 检查错误链中是否有指定错误码的 RemoteError
func IsCode(err error, code string) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == code
}

// Marshal 序列化帧
func Marshal(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Unmarshal 反序列化帧
func Unmarshal(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame without type")
	}
	return &f, nil
}
