package migration

import (
	"fmt"
	"sort"
	"time"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
)

const (
	DefaultBatchSize        = 100
	MaxBatchSize            = 1000
	DefaultParallelRequests = 1
	MaxParallelRequests     = 8
	DefaultMaxErrors        = 1000
	// MaxEntityErrors caps the error list kept on each entity progress
	MaxEntityErrors = 100
	// MinLeaseTTL is the shortest job lease; renewal runs every third of it
	MinLeaseTTL = time.Second
)

// EntityTypeConfig configures how one entity type is migrated
type EntityTypeConfig struct {
	EntityType       ledger.EntityType `json:"entity_type"`
	Enabled          bool              `json:"enabled"`
	ConflictStrategy ConflictStrategy  `json:"conflict_strategy"`
	// Filter is a CEL expression evaluated against each external record; empty keeps all
	Filter string `json:"filter,omitempty"`
	// FieldMappings overrides internal field -> raw external key path (dot separated)
	FieldMappings map[string]string `json:"field_mappings,omitempty"`
}

// JobConfig is the immutable configuration of a migration job
type JobConfig struct {
	EntityTypes []EntityTypeConfig `json:"entity_types"`
	// StartDate switches collection to incremental mode (modified since)
	StartDate        *time.Time `json:"start_date,omitempty"`
	BatchSize        int        `json:"batch_size"`
	ParallelRequests int        `json:"parallel_requests"`
	MaxErrors        int        `json:"max_errors"`
}

// Normalize applies defaults and sorts entity types into processing order.
// An empty entity type list enables every type with the skip strategy.
func (c *JobConfig) Normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ParallelRequests <= 0 {
		c.ParallelRequests = DefaultParallelRequests
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = DefaultMaxErrors
	}
	if len(c.EntityTypes) == 0 {
		for _, t := range ledger.ProcessingOrder() {
			c.EntityTypes = append(c.EntityTypes, EntityTypeConfig{
				EntityType:       t,
				Enabled:          true,
				ConflictStrategy: ConflictStrategySkip,
			})
		}
	}
	for i := range c.EntityTypes {
		if c.EntityTypes[i].ConflictStrategy == "" {
			c.EntityTypes[i].ConflictStrategy = ConflictStrategySkip
		}
	}
	sort.SliceStable(c.EntityTypes, func(i, j int) bool {
		return c.EntityTypes[i].EntityType.Rank() < c.EntityTypes[j].EntityType.Rank()
	})
}

// Validate checks the configuration after Normalize
func (c *JobConfig) Validate() error {
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		return shared.NewDomainError("INVALID_BATCH_SIZE", fmt.Sprintf("Batch size must be between 1 and %d", MaxBatchSize))
	}
	if c.ParallelRequests < 1 || c.ParallelRequests > MaxParallelRequests {
		return shared.NewDomainError("INVALID_PARALLELISM", fmt.Sprintf("Parallel requests must be between 1 and %d", MaxParallelRequests))
	}
	seen := make(map[ledger.EntityType]struct{}, len(c.EntityTypes))
	enabled := 0
	for _, et := range c.EntityTypes {
		if !et.EntityType.IsValid() {
			return shared.NewDomainError("INVALID_ENTITY_TYPE", fmt.Sprintf("Invalid entity type: %s", et.EntityType))
		}
		if _, dup := seen[et.EntityType]; dup {
			return shared.NewDomainError("DUPLICATE_ENTITY_TYPE", fmt.Sprintf("Entity type configured twice: %s", et.EntityType))
		}
		seen[et.EntityType] = struct{}{}
		if !et.ConflictStrategy.IsValid() {
			return shared.NewDomainError("INVALID_CONFLICT_STRATEGY", fmt.Sprintf("Invalid conflict strategy: %s", et.ConflictStrategy))
		}
		if et.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return shared.NewDomainError("NO_ENTITY_TYPES", "At least one entity type must be enabled")
	}
	return nil
}

// EnabledEntityTypes returns the enabled entity type configs in processing order
func (c *JobConfig) EnabledEntityTypes() []EntityTypeConfig {
	result := make([]EntityTypeConfig, 0, len(c.EntityTypes))
	for _, et := range c.EntityTypes {
		if et.Enabled {
			result = append(result, et)
		}
	}
	return result
}

// ForEntityType returns the config of an entity type
func (c *JobConfig) ForEntityType(t ledger.EntityType) (EntityTypeConfig, bool) {
	for _, et := range c.EntityTypes {
		if et.EntityType == t {
			return et, true
		}
	}
	return EntityTypeConfig{}, false
}

func (c *JobConfig) disable(t ledger.EntityType) {
	for i := range c.EntityTypes {
		if c.EntityTypes[i].EntityType == t {
			c.EntityTypes[i].Enabled = false
		}
	}
}
