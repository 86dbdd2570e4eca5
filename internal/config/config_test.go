package config

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-ensync/pkg/interfaces"
)

type nopTransport struct{}

func (nopTransport) Open(context.Context) (interfaces.Channel, error) {
	return nil, errors.New("nop")
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, DefaultHeartbeatInterval, cfg.Connection.HeartbeatInterval)
	assert.Equal(t, DefaultReconnectInterval, cfg.Connection.ReconnectInterval)
	assert.Equal(t, DefaultMaxReconnectAttempts, cfg.Connection.MaxReconnectAttempts)
	assert.Equal(t, DefaultRecipientCacheSize, cfg.Keys.RecipientCacheSize)
	assert.Equal(t, DefaultMaxInFlight, cfg.Publish.MaxInFlight)
	assert.Equal(t, DefaultResubscribeAttempts, cfg.Subscription.ResubscribeAttempts)
	assert.Equal(t, DefaultResubscribeInterval, cfg.Subscription.ResubscribeInterval)
	assert.True(t, cfg.EnableLogging)
	assert.NotNil(t, cfg.Clock)
	assert.False(t, cfg.Diagnostics.EnableIntrospect)
	assert.Equal(t, DefaultIntrospectAddr, cfg.Diagnostics.IntrospectAddr)
}

func TestValidate_IntrospectAddr(t *testing.T) {
	cfg := NewConfig()
	cfg.Transport = nopTransport{}
	cfg.Diagnostics.EnableIntrospect = true
	cfg.Diagnostics.IntrospectAddr = ""

	err := Validate(cfg)
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "diagnostics.introspect_addr", verrs[0].Field)
}

func TestValidate_MissingTransport(t *testing.T) {
	cfg := NewConfig()

	err := Validate(cfg)
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "transport", verrs[0].Field)
}

func TestValidate_InvalidValues(t *testing.T) {
	cfg := NewConfig()
	cfg.Transport = nopTransport{}
	cfg.Connection.HeartbeatInterval = 0
	cfg.Connection.MaxReconnectAttempts = -1
	cfg.Publish.MaxInFlight = 0
	cfg.Keys.RecipientCacheSize = 0
	cfg.Subscription.ResubscribeAttempts = 0

	err := Validate(cfg)
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 5)
}

func TestValidate_ZeroReconnectAttemptsAllowed(t *testing.T) {
	cfg := NewConfig()
	cfg.Transport = nopTransport{}
	cfg.Connection.MaxReconnectAttempts = 0

	assert.NoError(t, Validate(cfg))
}

func TestProvideConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.Transport = nopTransport{}
	cfg.AppSecretKey = "c2VjcmV0"

	out, err := ProvideConfig(cfg)
	require.NoError(t, err)
	assert.Same(t, &cfg.Connection, out.ConnectionConfig)
	assert.Same(t, &cfg.Keys, out.KeysConfig)
	assert.Equal(t, cfg.Clock, out.Clock)
	assert.Equal(t, cfg.Transport, out.Transport)
	assert.Equal(t, AppSecretKey("c2VjcmV0"), out.AppSecretKey)
}
