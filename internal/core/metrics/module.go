package metrics

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-ensync/internal/config"
)

// Params Metrics 依赖参数
type Params struct {
	fx.In

	Config *config.Config `optional:"true"`
}

// Module 是 metrics 的 Fx 模块
var Module = fx.Module("metrics",
	fx.Provide(NewFromParams),
)

// NewFromParams 从参数创建 Metrics
func NewFromParams(p Params) *Metrics {
	if p.Config == nil {
		return New(nil)
	}
	return New(p.Config.MetricsRegisterer)
}
