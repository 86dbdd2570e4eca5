package subscription

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-ensync/internal/config"
	"github.com/dep2p/go-ensync/internal/core/envelope"
	"github.com/dep2p/go-ensync/internal/core/metrics"
	"github.com/dep2p/go-ensync/pkg/interfaces"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	LC           fx.Lifecycle
	Config       *config.SubscriptionConfig `optional:"true"`
	AppSecretKey config.AppSecretKey        `optional:"true"`
	Conn         interfaces.Connection
	Sealer       *envelope.Sealer
	Metrics      *metrics.Metrics `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Registry *Registry
}

// ProvideRegistry 提供订阅注册表
func ProvideRegistry(input ModuleInput) (ModuleOutput, error) {
	r, err := New(input.Config, input.Conn, input.Sealer, string(input.AppSecretKey), input.Metrics)
	if err != nil {
		return ModuleOutput{}, err
	}

	input.LC.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return r.Close(ctx)
		},
	})
	return ModuleOutput{Registry: r}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("subscription",
		fx.Provide(ProvideRegistry),
	)
}
