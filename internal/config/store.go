package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// StoreConfig is the tool server's storefront configuration. It comes
// from the environment only; a .env file in the working directory is
// loaded by the command before decoding.
type StoreConfig struct {
	StoreHash   string        `env:"BIGCOMMERCE_STORE_HASH,required"`
	AccessToken string        `env:"BIGCOMMERCE_ACCESS_TOKEN,required"`
	APIURL      string        `env:"BIGCOMMERCE_API_URL,default=https://api.bigcommerce.com"`
	Timeout     time.Duration `env:"BIGCOMMERCE_TIMEOUT,default=30s"`
	LogLevel    string        `env:"STOREFRONT_LOG_LEVEL,default=info"`

	// HealthInterval is how often the store's reachability is polled
	// once the server is up. Zero disables the watch.
	HealthInterval time.Duration `env:"BIGCOMMERCE_HEALTH_INTERVAL,default=5m"`
}

// LoadStore decodes StoreConfig from the environment. Missing store
// credentials are a fatal startup error.
func LoadStore() (*StoreConfig, error) {
	var cfg StoreConfig
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("load store config: %w", err)
	}
	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// BaseURL returns the v3 REST root for the configured store.
func (c *StoreConfig) BaseURL() string {
	return fmt.Sprintf("%s/stores/%s/v3", c.APIURL, c.StoreHash)
}
