package publish

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-ensync/internal/config"
	"github.com/dep2p/go-ensync/internal/core/envelope"
	"github.com/dep2p/go-ensync/internal/core/keycache"
	"github.com/dep2p/go-ensync/internal/core/metrics"
	"github.com/dep2p/go-ensync/pkg/interfaces"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Config  *config.PublishConfig `optional:"true"`
	Conn    interfaces.Connection
	Keys    *keycache.Cache
	Sealer  *envelope.Sealer
	Metrics *metrics.Metrics `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Pipeline *Pipeline
}

// ProvidePipeline 提供发布管道
func ProvidePipeline(input ModuleInput) ModuleOutput {
	return ModuleOutput{
		Pipeline: New(input.Config, input.Conn, input.Keys, input.Sealer, input.Metrics),
	}
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("publish",
		fx.Provide(ProvidePipeline),
	)
}
