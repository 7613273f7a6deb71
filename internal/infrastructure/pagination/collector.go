// Package pagination materializes full entity collections from paged platform endpoints.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/fetch"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxPages stops a collection that never returns a short page
const DefaultMaxPages = 10000

// ErrTooManyPages is returned when a collection exceeds the page ceiling
var ErrTooManyPages = errors.New("pagination: page limit reached")

// FetchRequest describes one collection to materialize
type FetchRequest struct {
	TenantID         uuid.UUID
	ExternalTenantID string
	EntityType       ledger.EntityType
	// Since enables incremental mode: only records modified at or after it are requested
	Since *time.Time
	// ParallelRequests > 1 fetches pages in concurrent windows of that size
	ParallelRequests int
}

// ProgressFunc receives the cumulative record count after each page.
// total equals fetched until the collection finishes.
type ProgressFunc func(fetched, total int)

// Collector walks every page of an entity collection through the fetch client
type Collector struct {
	client   *fetch.Client
	logger   *zap.Logger
	maxPages int
}

// NewCollector creates a new Collector
func NewCollector(client *fetch.Client, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		client:   client,
		logger:   logger.Named("collector"),
		maxPages: DefaultMaxPages,
	}
}

// RateKey is the rate window key of an external tenant on a platform
func RateKey(platform integration.PlatformCode, externalTenantID string) string {
	return fmt.Sprintf("%s:%s", platform, externalTenantID)
}

// FetchAll requests pages starting at 1 until a page is shorter than the platform
// page size or empty, and returns the records in page order
func (c *Collector) FetchAll(
	ctx context.Context,
	platform integration.AccountingPlatform,
	req FetchRequest,
	onProgress ProgressFunc,
) ([]integration.ExternalRecord, error) {
	if !platform.Supports(req.EntityType) {
		return nil, fmt.Errorf("%w: %s on %s", integration.ErrUnsupportedEntityType, req.EntityType, platform.PlatformCode())
	}
	pageSize := platform.PageSize()
	if pageSize < 1 {
		return nil, fmt.Errorf("pagination: platform %s reports page size %d", platform.PlatformCode(), pageSize)
	}

	var (
		records []integration.ExternalRecord
		err     error
	)
	if req.ParallelRequests > 1 {
		records, err = c.fetchParallel(ctx, platform, req, pageSize, onProgress)
	} else {
		records, err = c.fetchSequential(ctx, platform, req, pageSize, onProgress)
	}
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Collection fetched",
		zap.String("platform", platform.PlatformCode().String()),
		zap.String("entity_type", req.EntityType.String()),
		zap.Int("records", len(records)),
		zap.Bool("incremental", req.Since != nil))
	return records, nil
}

func (c *Collector) fetchSequential(
	ctx context.Context,
	platform integration.AccountingPlatform,
	req FetchRequest,
	pageSize int,
	onProgress ProgressFunc,
) ([]integration.ExternalRecord, error) {
	var records []integration.ExternalRecord
	for page := 1; ; page++ {
		if page > c.maxPages {
			return nil, fmt.Errorf("%w: %d pages of %s", ErrTooManyPages, c.maxPages, req.EntityType)
		}
		result, err := c.fetchPage(ctx, platform, req, page, pageSize)
		if err != nil {
			return nil, err
		}
		records = append(records, result.Records...)
		if onProgress != nil {
			onProgress(len(records), len(records))
		}
		if len(result.Records) < pageSize {
			return records, nil
		}
	}
}

// fetchParallel requests windows of pages concurrently. All requests share the
// tenant's rate window; pages are assembled in order and collection stops at
// the first short page.
func (c *Collector) fetchParallel(
	ctx context.Context,
	platform integration.AccountingPlatform,
	req FetchRequest,
	pageSize int,
	onProgress ProgressFunc,
) ([]integration.ExternalRecord, error) {
	width := req.ParallelRequests
	var records []integration.ExternalRecord

	for first := 1; ; first += width {
		if first > c.maxPages {
			return nil, fmt.Errorf("%w: %d pages of %s", ErrTooManyPages, c.maxPages, req.EntityType)
		}
		pages := make([]*integration.Page, width)
		g, gctx := errgroup.WithContext(ctx)
		for i := range width {
			g.Go(func() error {
				p, err := c.fetchPage(gctx, platform, req, first+i, pageSize)
				if err != nil {
					return err
				}
				pages[i] = p
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, p := range pages {
			records = append(records, p.Records...)
			if onProgress != nil {
				onProgress(len(records), len(records))
			}
			if len(p.Records) < pageSize {
				return records, nil
			}
		}
	}
}

func (c *Collector) fetchPage(
	ctx context.Context,
	platform integration.AccountingPlatform,
	req FetchRequest,
	page, pageSize int,
) (*integration.Page, error) {
	pageReq := integration.PageRequest{
		TenantID:         req.TenantID,
		ExternalTenantID: req.ExternalTenantID,
		EntityType:       req.EntityType,
		Page:             page,
		PageSize:         pageSize,
		ModifiedSince:    req.Since,
	}
	key := RateKey(platform.PlatformCode(), req.ExternalTenantID)
	result, err := fetch.Call(ctx, c.client, key, func(ctx context.Context) (*integration.Page, error) {
		return platform.FetchPage(ctx, pageReq)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s page %d: %w", req.EntityType, page, err)
	}
	if result == nil {
		result = &integration.Page{}
	}
	return result, nil
}
