package keycache

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-ensync/internal/config"
	"github.com/dep2p/go-ensync/pkg/interfaces"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Config *config.KeysConfig    `optional:"true"`
	Conn   interfaces.Connection `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Cache *Cache
}

// ProvideCache 提供公钥缓存
//
// 未配置目录时使用 "内联 base64 → Broker 目录" 链。
func ProvideCache(input ModuleInput) (ModuleOutput, error) {
	cfg := input.Config
	if cfg == nil {
		c := config.DefaultKeysConfig()
		cfg = &c
	}

	cache, err := New(cfg, DefaultDirectory(cfg, input.Conn))
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{Cache: cache}, nil
}

// DefaultDirectory 按配置选择目录
func DefaultDirectory(cfg *config.KeysConfig, conn interfaces.Connection) interfaces.KeyDirectory {
	if cfg != nil && cfg.Directory != nil {
		return cfg.Directory
	}
	if conn == nil {
		return InlineDirectory{}
	}
	timeout := config.DefaultKeyLookupTimeout
	if cfg != nil {
		timeout = cfg.LookupTimeout
	}
	return ChainDirectory{InlineDirectory{}, NewBrokerDirectory(conn, timeout)}
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("keycache",
		fx.Provide(ProvideCache),
	)
}
