package interfaces

import (
	"context"

	"github.com/dep2p/go-ensync/pkg/wire"
)

// Transport 传输层
//
// 负责建立到 Broker 的双向通道（gRPC/WebSocket 帧、TLS 握手都在这一层之下）。
type Transport interface {
	// Open 建立一条新通道
	Open(ctx context.Context) (Channel, error)
}

// Channel 双向帧通道
//
// Send 不要求并发安全，调用方负责串行化写入。
// Receive 在通道关闭后返回错误。
type Channel interface {
	// Send 发送一帧
	Send(ctx context.Context, frame *wire.Frame) error

	// Receive 阻塞等待下一帧
	Receive(ctx context.Context) (*wire.Frame, error)

	// Close 关闭通道，解除阻塞中的 Receive
	Close() error
}
