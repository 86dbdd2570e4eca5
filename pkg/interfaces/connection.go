package interfaces

import (
	"context"
	"time"

	"github.com/dep2p/go-ensync/pkg/types"
	"github.com/dep2p/go-ensync/pkg/wire"
)

// EventHandler 入站事件回调，在接收循环中同步调用，不得阻塞
type EventHandler func(body *wire.EventBody)

// ReadyHook 重连成功后的回调
type ReadyHook func(ctx context.Context)

// Connection 连接管理器对上层暴露的能力
type Connection interface {
	// Request 发送请求帧并等待同 ID 的应答
	//
	// timeout <= 0 时使用默认请求超时。
	Request(ctx context.Context, frame *wire.Frame, timeout time.Duration) (*wire.Frame, error)

	// State 当前状态
	State() types.ConnState

	// WaitReady 等待会话进入 Ready；会话关闭时返回连接错误
	WaitReady(ctx context.Context) error

	// OnEvent 设置入站事件回调
	OnEvent(handler EventHandler)

	// OnReady 注册重连成功回调
	OnReady(hook ReadyHook)
}
