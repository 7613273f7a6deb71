package migration

import (
	"time"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
)

// RecordError describes why a single external record (or a whole entity type) failed
type RecordError struct {
	EntityType ledger.EntityType `json:"entity_type"`
	ExternalID string            `json:"external_id,omitempty"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Counters are the aggregate record counts of a job or entity type
type Counters struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func (c Counters) add(o Counters) Counters {
	return Counters{
		Total:     c.Total + o.Total,
		Processed: c.Processed + o.Processed,
		Succeeded: c.Succeeded + o.Succeeded,
		Failed:    c.Failed + o.Failed,
		Skipped:   c.Skipped + o.Skipped,
	}
}

// EntityProgress tracks one enabled entity type of a job.
// Processed always equals Succeeded + Failed + Skipped.
type EntityProgress struct {
	EntityType ledger.EntityType `json:"entity_type"`
	Status     JobStatus         `json:"status"`
	Total      int               `json:"total"`
	Processed  int               `json:"processed"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"`
	Batches    int               `json:"batches"`
	Errors     []RecordError     `json:"errors,omitempty"`
	// ErrorCount keeps counting after Errors reaches MaxEntityErrors
	ErrorCount  int        `json:"error_count"`
	FetchError  string     `json:"fetch_error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func newEntityProgress(t ledger.EntityType) EntityProgress {
	return EntityProgress{
		EntityType: t,
		Status:     JobStatusPending,
		Errors:     make([]RecordError, 0),
	}
}

// Counters returns the counts of this entity type
func (p *EntityProgress) Counters() Counters {
	return Counters{
		Total:     p.Total,
		Processed: p.Processed,
		Succeeded: p.Succeeded,
		Failed:    p.Failed,
		Skipped:   p.Skipped,
	}
}

// IsFinished returns true once the type has completed or failed
func (p *EntityProgress) IsFinished() bool {
	return p.Status == JobStatusCompleted || p.Status == JobStatusFailed
}

// Percentage returns the completion of this entity type (0-100)
func (p *EntityProgress) Percentage() float64 {
	if p.IsFinished() {
		return 100
	}
	if p.Total == 0 {
		return 0
	}
	pct := float64(p.Processed) / float64(p.Total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// reset clears counts so an interrupted type can restart from its beginning
func (p *EntityProgress) reset() {
	p.Total = 0
	p.Processed = 0
	p.Succeeded = 0
	p.Failed = 0
	p.Skipped = 0
	p.Batches = 0
	p.Errors = make([]RecordError, 0)
	p.ErrorCount = 0
	p.FetchError = ""
	p.CompletedAt = nil
}

func (p *EntityProgress) tally(status RecordStatus, recErr *RecordError) {
	p.Processed++
	switch status {
	case RecordStatusSuccess:
		p.Succeeded++
	case RecordStatusSkipped:
		p.Skipped++
	default:
		p.Failed++
		if recErr != nil {
			p.ErrorCount++
			if len(p.Errors) < MaxEntityErrors {
				p.Errors = append(p.Errors, *recErr)
			}
		}
	}
}
