package config

import (
	"fmt"
	"strings"
)

// ValidationError 配置校验错误
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("配置错误 [%s]: %s", e.Field, e.Message)
}

// ValidationErrors 多个配置校验错误
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}

	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors 是否有错误
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator 配置校验器
type Validator struct {
	errors ValidationErrors
}

// NewValidator 创建校验器
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// addError 添加错误
func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// Errors 返回所有错误
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// Validate 校验配置
func Validate(config *Config) error {
	v := NewValidator()

	if config.Transport == nil {
		v.addError("transport", "必须指定传输层")
	}
	if config.Clock == nil {
		v.addError("clock", "不能为空")
	}

	v.validateConnection(&config.Connection)
	v.validatePublish(&config.Publish)
	v.validateSubscription(&config.Subscription)
	v.validateKeys(&config.Keys)

	if config.Diagnostics.EnableIntrospect && config.Diagnostics.IntrospectAddr == "" {
		v.addError("diagnostics.introspect_addr", "启用自省服务时不能为空")
	}
	if config.Crypto.CompressThreshold < 0 {
		v.addError("crypto.compress_threshold", "不能为负数")
	}

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// validateConnection 校验连接配置
func (v *Validator) validateConnection(cfg *ConnectionConfig) {
	if cfg.HeartbeatInterval <= 0 {
		v.addError("connection.heartbeat_interval", "必须大于 0")
	}
	if cfg.MissedHeartbeats <= 0 {
		v.addError("connection.missed_heartbeats", "必须大于 0")
	}
	if cfg.ReconnectInterval <= 0 {
		v.addError("connection.reconnect_interval", "必须大于 0")
	}
	if cfg.MaxReconnectAttempts < 0 {
		v.addError("connection.max_reconnect_attempts", "不能为负数")
	}
	if cfg.RequestTimeout <= 0 {
		v.addError("connection.request_timeout", "必须大于 0")
	}
	if cfg.DialTimeout <= 0 {
		v.addError("connection.dial_timeout", "必须大于 0")
	}
}

// validatePublish 校验发布配置
func (v *Validator) validatePublish(cfg *PublishConfig) {
	if cfg.MaxInFlight <= 0 {
		v.addError("publish.max_in_flight", "必须大于 0")
	}
	if cfg.Timeout <= 0 {
		v.addError("publish.timeout", "必须大于 0")
	}
	if cfg.RateLimit < 0 {
		v.addError("publish.rate_limit", "不能为负数")
	}
	if cfg.RateLimit > 0 && cfg.RateBurst <= 0 {
		v.addError("publish.rate_burst", "启用限速时必须大于 0")
	}
}

// validateSubscription 校验订阅配置
func (v *Validator) validateSubscription(cfg *SubscriptionConfig) {
	if cfg.AckTimeout <= 0 {
		v.addError("subscription.ack_timeout", "必须大于 0")
	}
	if cfg.AckHistorySize <= 0 {
		v.addError("subscription.ack_history_size", "必须大于 0")
	}
	if cfg.ResubscribeAttempts <= 0 {
		v.addError("subscription.resubscribe_attempts", "必须大于 0")
	}
	if cfg.ResubscribeInterval < 0 {
		v.addError("subscription.resubscribe_interval", "不能为负数")
	}
}

// validateKeys 校验公钥缓存配置
func (v *Validator) validateKeys(cfg *KeysConfig) {
	if cfg.RecipientCacheSize <= 0 {
		v.addError("keys.recipient_cache_size", "必须大于 0")
	}
	if cfg.LookupTimeout <= 0 {
		v.addError("keys.lookup_timeout", "必须大于 0")
	}
}
