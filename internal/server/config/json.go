package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/osfrelay/internal/flagx"
	"github.com/dmitrijs2005/osfrelay/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "15s" and integer nanoseconds are accepted.
// Fields absent from the file leave the corresponding Config value alone.
type JsonConfig struct {
	HTTPAddr           *string         `json:"http_addr"`
	DatabaseDSN        *string         `json:"database_dsn"`
	SecretKey          *string         `json:"secret_key"`
	TokenEncryptionKey *string         `json:"token_encryption_key"`
	OSFBaseURL         *string         `json:"osf_base_url"`
	OSFRequestTimeout  *timex.Duration `json:"osf_request_timeout"`
	OSFRateLimit       *float64        `json:"osf_rate_limit"`
	RetryAttempts      *uint           `json:"retry_attempts"`
	RetryDelay         *timex.Duration `json:"retry_delay"`
	LogLevel           *string         `json:"log_level"`
}

// parseJson overlays values from the JSON file named by -c/-config (or
// $OSF_RELAY_CONFIG) onto config. No path means nothing is loaded. An
// unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFilePath()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	if err := LoadJSONFile(config, jsonConfigFile); err != nil {
		panic(err)
	}
}

// LoadJSONFile overlays the values present in the JSON file at path onto config.
func LoadJSONFile(config *Config, path string) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	setIf(&config.HTTPAddr, c.HTTPAddr)
	setIf(&config.DatabaseDSN, c.DatabaseDSN)
	setIf(&config.SecretKey, c.SecretKey)
	setIf(&config.TokenEncryptionKey, c.TokenEncryptionKey)
	setIf(&config.OSFBaseURL, c.OSFBaseURL)
	setIf(&config.OSFRateLimit, c.OSFRateLimit)
	setIf(&config.RetryAttempts, c.RetryAttempts)
	setIf(&config.LogLevel, c.LogLevel)

	if c.OSFRequestTimeout != nil {
		config.OSFRequestTimeout = c.OSFRequestTimeout.Duration
	}
	if c.RetryDelay != nil {
		config.RetryDelay = c.RetryDelay.Duration
	}
	return nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
