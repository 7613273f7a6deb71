package migration

// JobStatus is the lifecycle state of a migration job.
// Entity progress reuses the same vocabulary.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsValid checks if the status is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusPaused,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if no further transition is possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive returns true if the job holds or may resume a runner
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusInProgress || s == JobStatusPaused
}

// String returns the string representation of JobStatus
func (s JobStatus) String() string {
	return string(s)
}

// ActiveStatuses returns the non-terminal statuses
func ActiveStatuses() []JobStatus {
	return []JobStatus{JobStatusPending, JobStatusInProgress, JobStatusPaused}
}

// ConflictStrategy decides what happens when an external record was already migrated
type ConflictStrategy string

const (
	ConflictStrategySkip      ConflictStrategy = "skip"
	ConflictStrategyOverwrite ConflictStrategy = "overwrite"
	ConflictStrategyCreateNew ConflictStrategy = "create-new"
	ConflictStrategyMerge     ConflictStrategy = "merge"
)

// IsValid checks if the conflict strategy is valid
func (c ConflictStrategy) IsValid() bool {
	switch c {
	case ConflictStrategySkip, ConflictStrategyOverwrite, ConflictStrategyCreateNew, ConflictStrategyMerge:
		return true
	}
	return false
}

// String returns the string representation of ConflictStrategy
func (c ConflictStrategy) String() string {
	return string(c)
}

// RecordStatus is the outcome of mapping a single external record
type RecordStatus string

const (
	RecordStatusSuccess RecordStatus = "success"
	RecordStatusFailed  RecordStatus = "failed"
	RecordStatusSkipped RecordStatus = "skipped"
)

// ReconcilePolicy decides what happens to jobs found in_progress after a restart
type ReconcilePolicy string

const (
	ReconcilePolicyPause ReconcilePolicy = "pause"
	ReconcilePolicyFail  ReconcilePolicy = "fail"
)

// IsValid checks if the reconcile policy is valid
func (p ReconcilePolicy) IsValid() bool {
	return p == ReconcilePolicyPause || p == ReconcilePolicyFail
}
