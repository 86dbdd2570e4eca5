package envelope

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-ensync/internal/config"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	LC     fx.Lifecycle
	Config *config.CryptoConfig `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Sealer *Sealer
}

// ProvideSealer 提供 Sealer
func ProvideSealer(input ModuleInput) (ModuleOutput, error) {
	sealer, err := New(input.Config)
	if err != nil {
		return ModuleOutput{}, err
	}

	input.LC.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return sealer.Close()
		},
	})

	return ModuleOutput{Sealer: sealer}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("envelope",
		fx.Provide(ProvideSealer),
	)
}
