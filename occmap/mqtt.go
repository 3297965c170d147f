package occmap

import (
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTClient owns the broker connection used for case events
type MQTTClient struct {
	client      mqtt.Client
	logger      zerolog.Logger
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT builds a client from config and connects in the background.
// MQTT_BROKER overrides cfg.MQTT.Broker; when neither is set MQTT is disabled and nil is returned.
func InitMQTT(cfg *Config, logger zerolog.Logger) (*MQTTClient, error) {
	var mc MQTTConfig
	if cfg != nil {
		mc = cfg.MQTT
	}

	broker := envOr("MQTT_BROKER", mc.Broker)
	if broker == "" {
		logger.Info().Msg("MQTT disabled: no broker configured")
		return nil, nil
	}

	c := &MQTTClient{logger: logger.With().Str("component", "mqtt").Logger()}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := envOr("MQTT_CLIENT_ID", mc.ClientID)
	if clientID == "" {
		clientID = "casemap"
	}
	opts.SetClientID(clientID)

	if username := envOr("MQTT_USERNAME", mc.Username); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(envOr("MQTT_PASSWORD", mc.Password))
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)

	go c.connectWithRetry()

	return c, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// connectWithRetry keeps dialing with exponential backoff until the first connect succeeds
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		c.logger.Info().Msg("connecting to MQTT broker")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.setConnected(true)
				return
			}
			c.logger.Warn().Err(token.Error()).Msg("MQTT connection failed")
		} else {
			c.logger.Warn().Msg("MQTT connection timeout")
		}

		c.logger.Info().Dur("retry_in", retryDelay).Msg("retrying MQTT connection")
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.logger.Info().Msg("MQTT connected")
	c.setConnected(true)
}

// onConnectionLost fires on transient drops; auto-reconnect handles recovery
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	c.logger.Warn().Err(err).Msg("MQTT connection interrupted, auto-reconnect will retry")
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	c.logger.Info().Msg("MQTT reconnecting")
}

// IsConnected reports the last known connection state
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect closes the broker connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.logger.Info().Msg("disconnecting from MQTT broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Client returns the underlying paho client for publishing
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock wraps a provided mqtt.Client for tests
func newMQTTClientWithMock(client mqtt.Client, logger zerolog.Logger) *MQTTClient {
	return &MQTTClient{client: client, logger: logger}
}
