// Package accounting implements integration.AccountingPlatform for Xero and freee.
package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"go.uber.org/zap"
)

// ErrUnauthorized is returned when the platform rejects the access token
var ErrUnauthorized = errors.New("accounting: access token rejected")

// restClient is the HTTP plumbing shared by the adapters
type restClient struct {
	platform    integration.PlatformCode
	http        *resty.Client
	credentials integration.CredentialProvider
	logger      *zap.Logger
}

func newRestClient(
	platform integration.PlatformCode,
	cfg *Config,
	credentials integration.CredentialProvider,
	logger *zap.Logger,
) (*restClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if credentials == nil {
		return nil, ErrConfigMissingCredentials
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent)
	return &restClient{
		platform:    platform,
		http:        client,
		credentials: credentials,
		logger:      logger.Named(platform.String()),
	}, nil
}

// get performs an authorized GET and decodes the JSON body, keeping numbers exact
func (c *restClient) get(
	ctx context.Context,
	tenantID uuid.UUID,
	path string,
	query map[string]string,
	headers map[string]string,
) (map[string]any, error) {
	creds, err := c.credentials.Credentials(ctx, tenantID, c.platform)
	if err != nil {
		return nil, fmt.Errorf("%s credentials: %w", c.platform, err)
	}
	if creds.IsExpired(time.Now()) {
		return nil, fmt.Errorf("%s credentials: %w", c.platform, ErrCredentialsExpired)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		SetQueryParams(query).
		SetHeaders(headers).
		Get(path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &integration.TransientError{Platform: c.platform, Err: err}
	}
	if err := c.classify(resp); err != nil {
		c.logger.Debug("Platform request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode()),
			zap.Error(err))
		return nil, err
	}

	body := resp.Body()
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("%s: response of %d bytes exceeds limit", c.platform, len(body))
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", c.platform, path, err)
	}
	return out, nil
}

// classify maps an HTTP status to the error vocabulary of the fetch client
func (c *restClient) classify(resp *resty.Response) error {
	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &integration.RateLimitError{
			Platform:   c.platform,
			RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After"), time.Now()),
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d", ErrUnauthorized, c.platform, status)
	case status >= 500:
		return &integration.TransientError{
			Platform:   c.platform,
			StatusCode: status,
			Err:        errors.New(http.StatusText(status)),
		}
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", c.platform, status, truncate(resp.String(), 200))
	}
}

// parseRetryAfter accepts delay-seconds or an HTTP date; zero means absent
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
