package config

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-ensync/pkg/interfaces"
)

// ============================================================================
//                              fx 模块
// ============================================================================

// AppSecretKey 客户端默认解密私钥（base64），订阅未指定私钥时使用
type AppSecretKey string

// ProviderResult fx 提供者结果
//
// 各组件按需注入自己的配置段。
type ProviderResult struct {
	fx.Out

	ConnectionConfig   *ConnectionConfig
	PublishConfig      *PublishConfig
	SubscriptionConfig *SubscriptionConfig
	KeysConfig         *KeysConfig
	CryptoConfig       *CryptoConfig
	Clock              clock.Clock
	Transport          interfaces.Transport
	AppSecretKey       AppSecretKey
}

// ProvideConfig 校验并拆分配置
func ProvideConfig(config *Config) (ProviderResult, error) {
	if err := Validate(config); err != nil {
		return ProviderResult{}, err
	}

	return ProviderResult{
		ConnectionConfig:   &config.Connection,
		PublishConfig:      &config.Publish,
		SubscriptionConfig: &config.Subscription,
		KeysConfig:         &config.Keys,
		CryptoConfig:       &config.Crypto,
		Clock:              config.Clock,
		Transport:          config.Transport,
		AppSecretKey:       AppSecretKey(config.AppSecretKey),
	}, nil
}

// Module 返回配置 fx 模块
//
// 调用方需要通过 fx.Supply 提供 *Config。
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(ProvideConfig),
	)
}
