package migration

import "github.com/lukgber-glitch/operate-sub002/internal/domain/shared"

var (
	ErrJobNotFound       = shared.NewDomainError("JOB_NOT_FOUND", "Migration job not found")
	ErrMappingNotFound   = shared.NewDomainError("MAPPING_NOT_FOUND", "External id mapping not found")
	ErrMappingConflict   = shared.NewDomainError("MAPPING_CONFLICT", "External id is already mapped")
	ErrJobLocked         = shared.NewDomainError("JOB_LOCKED", "Migration job is being processed by another instance")
	ErrJobAlreadyActive  = shared.NewDomainError("JOB_ALREADY_ACTIVE", "An active migration already exists for this external tenant")
	ErrMissingReference  = shared.NewDomainError("MISSING_REFERENCE", "Referenced record has not been migrated")
	ErrStrategyViolation = shared.NewDomainError("INVALID_CONFLICT_STRATEGY", "Unknown conflict strategy")
)
