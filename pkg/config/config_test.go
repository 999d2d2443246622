package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "fulfillment-system", cfg.App.Name)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "outbox-relay", cfg.Relay.Group)

	// Топик change-stream зависит от сервиса, общего default нет —
	// иначе все сервисы читали бы один и тот же поток
	assert.Empty(t, cfg.Relay.ChangeTopic)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RELAY_CHANGE_TOPIC", "cdc.inventory.outbox")
	t.Setenv("CONSUMER_HANDLE_TIMEOUT", "45s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cdc.inventory.outbox", cfg.Relay.ChangeTopic)
	assert.Equal(t, "45s", cfg.Consumer.HandleTimeout.String())
}
