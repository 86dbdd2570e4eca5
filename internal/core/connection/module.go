package connection

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-ensync/internal/config"
	"github.com/dep2p/go-ensync/internal/core/metrics"
	"github.com/dep2p/go-ensync/pkg/interfaces"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	LC        fx.Lifecycle
	Config    *config.ConnectionConfig `optional:"true"`
	Transport interfaces.Transport
	Clock     clock.Clock      `optional:"true"`
	Metrics   *metrics.Metrics `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Manager    *Manager
	Connection interfaces.Connection
}

// ProvideManager 提供连接管理器
//
// 连接由调用方显式 Connect；应用停止时关闭会话。
func ProvideManager(input ModuleInput) ModuleOutput {
	m := NewManager(input.Config, input.Transport, input.Clock, input.Metrics)

	input.LC.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return m.Stop(ctx)
		},
	})

	return ModuleOutput{Manager: m, Connection: m}
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("connection",
		fx.Provide(ProvideManager),
	)
}
