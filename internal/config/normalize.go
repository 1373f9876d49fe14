package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeServer()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEncode()
	c.normalizeURLImport()
	c.normalizeEvents()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeServer() {
	if value, ok := os.LookupEnv("TAFKIT_SERVER_URL"); ok && strings.TrimSpace(value) != "" {
		c.Server.BaseURL = value
	}
	c.Server.BaseURL = strings.TrimRight(strings.TrimSpace(c.Server.BaseURL), "/")
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = defaultServerURL
	}
	if !strings.Contains(c.Server.BaseURL, "://") {
		c.Server.BaseURL = "http://" + c.Server.BaseURL
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeEncode() {
	c.Encode.DefaultDirectory = strings.Trim(strings.TrimSpace(c.Encode.DefaultDirectory), "/")
	c.Encode.LocalEncoderBinary = strings.TrimSpace(c.Encode.LocalEncoderBinary)
	if c.Encode.LocalEncoderBinary == "" {
		c.Encode.LocalEncoderBinary = defaultLocalEncoderBinary
	}
	if len(c.Encode.LocalEncoderArgs) == 0 {
		c.Encode.LocalEncoderArgs = append([]string(nil), defaultLocalEncoderArgs...)
	}
}

func (c *Config) normalizeURLImport() {
	c.URLImport.Quality = strings.ToLower(strings.TrimSpace(c.URLImport.Quality))
	if c.URLImport.Quality == "" {
		c.URLImport.Quality = defaultQuality
	}
}

func (c *Config) normalizeEvents() {
	c.Events.Path = strings.TrimSpace(c.Events.Path)
	if c.Events.Path == "" {
		c.Events.Path = defaultEventsPath
	}
	if !strings.HasPrefix(c.Events.Path, "/") {
		c.Events.Path = "/" + c.Events.Path
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
