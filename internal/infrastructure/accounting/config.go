package accounting

import (
	"errors"
	"time"
)

const (
	// XeroProductionAPIURL is the Xero accounting API root
	XeroProductionAPIURL = "https://api.xero.com/api.xro/2.0"
	// FreeeProductionAPIURL is the freee accounting API root
	FreeeProductionAPIURL = "https://api.freee.co.jp/api/1"

	// XeroPageSize is fixed by the Xero API
	XeroPageSize = 100
	// FreeeMaxPageSize is the largest limit freee accepts
	FreeeMaxPageSize = 100

	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "operate-migrations/1.0"
	// maxResponseSize bounds a single page body (10MB)
	maxResponseSize = 10 * 1024 * 1024
)

// Errors for adapter configuration
var (
	ErrConfigMissingBaseURL     = errors.New("accounting: base URL is required")
	ErrConfigMissingCredentials = errors.New("accounting: credential provider is required")
)

// Config holds the HTTP settings of one platform adapter
type Config struct {
	// BaseURL is the API root (production, sandbox or a test server)
	BaseURL string
	// PageSize is the page size requested from paged endpoints
	PageSize  int
	Timeout   time.Duration
	UserAgent string
}

// NewXeroConfig creates a Xero configuration with defaults
func NewXeroConfig() *Config {
	return &Config{
		BaseURL:   XeroProductionAPIURL,
		PageSize:  XeroPageSize,
		Timeout:   defaultTimeout,
		UserAgent: defaultUserAgent,
	}
}

// NewFreeeConfig creates a freee configuration with defaults
func NewFreeeConfig() *Config {
	return &Config{
		BaseURL:   FreeeProductionAPIURL,
		PageSize:  FreeeMaxPageSize,
		Timeout:   defaultTimeout,
		UserAgent: defaultUserAgent,
	}
}

// Validate checks the configuration and fills unset optional values
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	return nil
}
