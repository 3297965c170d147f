package occmap

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultHTTPAddr is the API listen address when none is configured
const DefaultHTTPAddr = ":8080"

// DefaultConfig returns a config that runs the service against ./cases with MQTT disabled
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{Root: "cases"},
		HTTP:    HTTPConfig{Addr: DefaultHTTPAddr},
		MQTT:    MQTTConfig{PublishPrefix: DefaultPublishPrefix, ClientID: "casemap"},
		Editor:  DefaultEditorConfig(),
		Media: MediaConfig{
			FetchTimeout: DefaultFetchTimeout.String(),
			MaxRetries:   DefaultMaxRetries,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig loads the service configuration from a YAML file.
// Fields absent from the file keep their DefaultConfig values; env overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	ApplyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnvOverrides replaces config values with any CASEMAP_* / MQTT_* env vars that are set
func ApplyEnvOverrides(config *Config) {
	config.Storage.Root = envOr("CASEMAP_STORAGE_ROOT", config.Storage.Root)
	config.HTTP.Addr = envOr("CASEMAP_HTTP_ADDR", config.HTTP.Addr)
	config.MQTT.Broker = envOr("MQTT_BROKER", config.MQTT.Broker)
	config.MQTT.PublishPrefix = envOr("MQTT_PUBLISH_PREFIX", config.MQTT.PublishPrefix)
	config.Log.Level = envOr("CASEMAP_LOG_LEVEL", config.Log.Level)
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.Contours.SimplifyTolerance < 0 {
		return fmt.Errorf("contours.simplifyTolerance must be >= 0, got %g", c.Contours.SimplifyTolerance)
	}

	e := c.Editor
	if e.PickRadius < 0 {
		return fmt.Errorf("editor.pickRadius must be >= 0, got %g", e.PickRadius)
	}
	if e.MinZoom < 0 || e.MaxZoom < 0 || e.ZoomStep < 0 || e.DefaultZoom < 0 {
		return fmt.Errorf("editor zoom settings must be >= 0")
	}
	if e.MinZoom > 0 && e.MaxZoom > 0 && e.MaxZoom < e.MinZoom {
		return fmt.Errorf("editor.maxZoom (%g) is below editor.minZoom (%g)", e.MaxZoom, e.MinZoom)
	}

	if _, err := c.Media.Timeout(); err != nil {
		return err
	}
	if c.Media.MaxRetries < 0 {
		return fmt.Errorf("media.maxRetries must be >= 0, got %d", c.Media.MaxRetries)
	}
	return nil
}

// Timeout parses FetchTimeout; empty means DefaultFetchTimeout
func (m MediaConfig) Timeout() (time.Duration, error) {
	if m.FetchTimeout == "" {
		return DefaultFetchTimeout, nil
	}
	d, err := time.ParseDuration(m.FetchTimeout)
	if err != nil {
		return 0, fmt.Errorf("media.fetchTimeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("media.fetchTimeout must be positive, got %s", m.FetchTimeout)
	}
	return d, nil
}

// FetchOptions converts the media section into FetchObject options
func (m MediaConfig) FetchOptions() []FetchOption {
	var opts []FetchOption
	if d, err := m.Timeout(); err == nil {
		opts = append(opts, WithTimeout(d))
	}
	if m.MaxRetries > 0 {
		opts = append(opts, WithMaxRetries(m.MaxRetries))
	}
	return opts
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
