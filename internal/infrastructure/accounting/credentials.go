package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/redis/go-redis/v9"
)

// ErrCredentialsExpired is returned when the stored access token is past its expiry.
// Refreshing it is the job of whoever writes the credential store.
var ErrCredentialsExpired = errors.New("accounting: access token expired")

const defaultCredentialKeyPrefix = "accounting:credentials:"

// StaticCredentialProvider serves one configured token per platform to every tenant.
// It is meant for single-tenant deployments and tests.
type StaticCredentialProvider struct {
	tokens map[integration.PlatformCode]string
}

// NewStaticCredentialProvider creates a provider from platform tokens; empty tokens are ignored
func NewStaticCredentialProvider(tokens map[integration.PlatformCode]string) *StaticCredentialProvider {
	p := &StaticCredentialProvider{tokens: make(map[integration.PlatformCode]string, len(tokens))}
	for code, token := range tokens {
		if token != "" {
			p.tokens[code] = token
		}
	}
	return p
}

// Credentials returns the platform token
func (p *StaticCredentialProvider) Credentials(_ context.Context, _ uuid.UUID, platform integration.PlatformCode) (*integration.Credentials, error) {
	token, ok := p.tokens[platform]
	if !ok {
		return nil, integration.ErrCredentialsNotFound
	}
	return &integration.Credentials{AccessToken: token}, nil
}

// storedCredentials is the JSON document kept per tenant and platform
type storedCredentials struct {
	AccessToken string     `json:"access_token"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// RedisCredentialProvider reads tokens written by the connection service.
// Keys are <prefix><tenant id>:<platform>.
type RedisCredentialProvider struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCredentialProvider creates a provider on an existing Redis client
func NewRedisCredentialProvider(client *redis.Client, keyPrefix string) *RedisCredentialProvider {
	if keyPrefix == "" {
		keyPrefix = defaultCredentialKeyPrefix
	}
	return &RedisCredentialProvider{client: client, keyPrefix: keyPrefix}
}

// Credentials loads the tenant's token for a platform
func (p *RedisCredentialProvider) Credentials(ctx context.Context, tenantID uuid.UUID, platform integration.PlatformCode) (*integration.Credentials, error) {
	data, err := p.client.Get(ctx, p.key(tenantID, platform)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, integration.ErrCredentialsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	var stored storedCredentials
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	if stored.AccessToken == "" {
		return nil, integration.ErrCredentialsNotFound
	}
	return &integration.Credentials{AccessToken: stored.AccessToken, ExpiresAt: stored.ExpiresAt}, nil
}

// Put stores credentials; the key expires with the token when an expiry is set
func (p *RedisCredentialProvider) Put(ctx context.Context, tenantID uuid.UUID, platform integration.PlatformCode, creds integration.Credentials) error {
	data, err := json.Marshal(storedCredentials{AccessToken: creds.AccessToken, ExpiresAt: creds.ExpiresAt})
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	var ttl time.Duration
	if creds.ExpiresAt != nil {
		ttl = time.Until(*creds.ExpiresAt)
		if ttl <= 0 {
			return ErrCredentialsExpired
		}
	}
	if err := p.client.Set(ctx, p.key(tenantID, platform), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

func (p *RedisCredentialProvider) key(tenantID uuid.UUID, platform integration.PlatformCode) string {
	return p.keyPrefix + tenantID.String() + ":" + platform.String()
}

var (
	_ integration.CredentialProvider = (*StaticCredentialProvider)(nil)
	_ integration.CredentialProvider = (*RedisCredentialProvider)(nil)
)
