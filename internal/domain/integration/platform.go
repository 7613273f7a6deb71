package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
)

var (
	ErrPlatformNotRegistered = errors.New("integration: platform not registered")
	ErrUnsupportedEntityType = errors.New("integration: entity type not supported by platform")
	ErrInvalidPageRequest    = errors.New("integration: invalid page request")
)

// ---------------------------------------------------------------------------
// PlatformCode
// ---------------------------------------------------------------------------

// PlatformCode identifies an external accounting platform
type PlatformCode string

const (
	PlatformCodeXero  PlatformCode = "xero"
	PlatformCodeFreee PlatformCode = "freee"
)

// IsValid returns true if the platform code is known
func (c PlatformCode) IsValid() bool {
	switch c {
	case PlatformCodeXero, PlatformCodeFreee:
		return true
	default:
		return false
	}
}

// String returns the string representation of PlatformCode
func (c PlatformCode) String() string {
	return string(c)
}

// DisplayName returns a human-readable name for the platform
func (c PlatformCode) DisplayName() string {
	switch c {
	case PlatformCodeXero:
		return "Xero"
	case PlatformCodeFreee:
		return "freee"
	default:
		return string(c)
	}
}

// ---------------------------------------------------------------------------
// ExternalRecord
// ---------------------------------------------------------------------------

// ExternalRecord is a single record fetched from a platform.
// Fields uses the canonical key vocabulary shared by all adapters;
// Raw keeps the platform payload for field-mapping overrides.
type ExternalRecord struct {
	ExternalID string
	EntityType ledger.EntityType
	UpdatedAt  *time.Time
	// Revision is an opaque change marker (e.g. a timestamp or etag) stored on the mapping
	Revision string
	Fields   map[string]any
	Raw      map[string]any
}

// Field returns a canonical field value
func (r ExternalRecord) Field(key string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[key]
}

// ---------------------------------------------------------------------------
// Paging
// ---------------------------------------------------------------------------

// PageRequest asks a platform for one page of an entity collection
type PageRequest struct {
	TenantID         uuid.UUID
	ExternalTenantID string
	EntityType       ledger.EntityType
	// Page is 1-based
	Page     int
	PageSize int
	// ModifiedSince restricts results to records modified at or after this time
	ModifiedSince *time.Time
}

// Validate checks the request
func (r PageRequest) Validate() error {
	if r.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidPageRequest)
	}
	if r.ExternalTenantID == "" {
		return fmt.Errorf("%w: external tenant id is required", ErrInvalidPageRequest)
	}
	if r.Page < 1 {
		return fmt.Errorf("%w: page must be >= 1", ErrInvalidPageRequest)
	}
	if r.PageSize < 1 {
		return fmt.Errorf("%w: page size must be >= 1", ErrInvalidPageRequest)
	}
	return nil
}

// Page is one page of records
type Page struct {
	Records []ExternalRecord
}

// ---------------------------------------------------------------------------
// AccountingPlatform Port Interface
// ---------------------------------------------------------------------------

// AccountingPlatform is the port for reading data from an external accounting system.
// Implementations live in the infrastructure layer.
type AccountingPlatform interface {
	// PlatformCode returns the platform this adapter handles
	PlatformCode() PlatformCode
	// PageSize is the fixed page size of the platform's list endpoints
	PageSize() int
	// Supports reports whether the platform exposes the entity type
	Supports(entityType ledger.EntityType) bool
	// FetchPage returns one page of records. Throttling is reported as *RateLimitError.
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}

// PlatformRegistry provides access to configured platform adapters
type PlatformRegistry interface {
	GetPlatform(code PlatformCode) (AccountingPlatform, error)
	ListPlatforms() []AccountingPlatform
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// Credentials are the tokens an adapter needs to call a platform on behalf of a tenant
type Credentials struct {
	AccessToken string
	ExpiresAt   *time.Time
}

// IsExpired reports whether the token is past its expiry
func (c *Credentials) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// CredentialProvider returns current credentials for a tenant's connection to a platform.
// Acquiring and refreshing tokens is the provider's concern.
type CredentialProvider interface {
	Credentials(ctx context.Context, tenantID uuid.UUID, platform PlatformCode) (*Credentials, error)
}

// ErrCredentialsNotFound is returned when no connection exists for the tenant
var ErrCredentialsNotFound = errors.New("integration: credentials not found")
