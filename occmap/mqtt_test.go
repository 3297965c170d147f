package occmap

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMQTT_DisabledWithoutBroker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	client, err := InitMQTT(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, client)

	client, err = InitMQTT(nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestMQTTClient_ConnectionState(t *testing.T) {
	mock := NewMockClient()
	c := newMQTTClientWithMock(mock, zerolog.Nop())
	assert.False(t, c.IsConnected())

	c.connectWithRetry()
	assert.True(t, c.IsConnected())
	assert.True(t, mock.IsConnected())

	c.onConnectionLost(mock, errors.New("broker went away"))
	assert.False(t, c.IsConnected())

	c.onConnect(mock)
	assert.True(t, c.IsConnected())

	c.Disconnect()
	assert.False(t, c.IsConnected())
	assert.False(t, mock.IsConnected())
	assert.Same(t, mock, c.Client())
}

func TestEnvOr(t *testing.T) {
	t.Setenv("CASEMAP_TEST_VALUE", "")
	assert.Equal(t, "fallback", envOr("CASEMAP_TEST_VALUE", "fallback"))
	t.Setenv("CASEMAP_TEST_VALUE", "set")
	assert.Equal(t, "set", envOr("CASEMAP_TEST_VALUE", "fallback"))
}
