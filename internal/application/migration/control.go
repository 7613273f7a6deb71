package migrationapp

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Signal is a stop request observed by a running job at batch and type boundaries
type Signal int32

const (
	SignalNone Signal = iota
	// SignalPause persists the job as paused
	SignalPause
	// SignalCancel persists the job as cancelled
	SignalCancel
	// SignalAbort stops without a transition; used when the lease was lost
	SignalAbort
)

// Signals reports the pending stop request of a running job
type Signals interface {
	Requested() Signal
}

// runControl is the in-process handle of one running job.
// The strongest request wins: abort over cancel over pause.
type runControl struct {
	jobID  uuid.UUID
	signal atomic.Int32
	done   chan struct{}
}

func newRunControl(jobID uuid.UUID) *runControl {
	return &runControl{jobID: jobID, done: make(chan struct{})}
}

// Requested returns the pending stop request
func (c *runControl) Requested() Signal {
	return Signal(c.signal.Load())
}

func (c *runControl) request(s Signal) {
	for {
		cur := c.signal.Load()
		if Signal(cur) >= s {
			return
		}
		if c.signal.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}
