package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedQualities = map[string]struct{}{
	"best":  {},
	"320":   {},
	"256":   {},
	"192":   {},
	"128":   {},
	"worst": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateEncode(); err != nil {
		return err
	}
	if err := c.validateURLImport(); err != nil {
		return err
	}
	if err := c.validateTimings(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	parsed, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("server.base_url must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("server.base_url must include a host")
	}
	return nil
}

func (c *Config) validateEncode() error {
	if c.Encode.Bitrate <= 0 {
		return errors.New("encode.bitrate must be positive")
	}
	if c.Encode.MaxSources <= 0 {
		return errors.New("encode.max_sources must be positive")
	}
	if strings.Contains(c.Encode.DefaultDirectory, "..") {
		return errors.New("encode.default_directory must not contain '..'")
	}
	hasOutput := false
	for _, arg := range c.Encode.LocalEncoderArgs {
		if strings.Contains(arg, "{output}") {
			hasOutput = true
		}
	}
	if !hasOutput {
		return errors.New("encode.local_encoder_args must reference {output}")
	}
	return nil
}

func (c *Config) validateURLImport() error {
	if _, ok := supportedQualities[c.URLImport.Quality]; !ok {
		return fmt.Errorf("url_import.quality: unsupported value %q", c.URLImport.Quality)
	}
	if c.URLImport.MetadataCacheTTL < 0 {
		return errors.New("url_import.metadata_cache_ttl must be >= 0")
	}
	if c.URLImport.MetadataCacheTTL > 0 && c.URLImport.MetadataCacheSize <= 0 {
		return errors.New("url_import.metadata_cache_size must be positive when the cache is enabled")
	}
	return nil
}

func (c *Config) validateTimings() error {
	return ensurePositiveMap(map[string]int{
		"server.request_timeout":        c.Server.RequestTimeout,
		"server.upload_timeout":         c.Server.UploadTimeout,
		"events.retry_delay":            c.Events.RetryDelay,
		"events.resync_delay":           c.Events.ResyncDelay,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
