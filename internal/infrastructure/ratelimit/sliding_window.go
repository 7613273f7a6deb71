package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow is an in-process Limiter keeping a request log per key.
// State for one key is mutated under that key's mutex, so concurrent callers
// for the same tenant cannot overshoot the limit.
type SlidingWindow struct {
	cfg Config

	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// NewSlidingWindow creates an in-memory sliding window limiter
func NewSlidingWindow(cfg Config) *SlidingWindow {
	if cfg.Limit < 1 {
		cfg.Limit = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &SlidingWindow{
		cfg:     cfg,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Wait blocks until a slot for key is available
func (l *SlidingWindow) Wait(ctx context.Context, key string) error {
	w := l.windowFor(key)
	for {
		wait, ok := l.tryAcquire(w)
		if ok {
			return nil
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// InFlight returns how many calls for key are inside the current window
func (l *SlidingWindow) InFlight(key string) int {
	w := l.windowFor(key)
	w.mu.Lock()
	defer w.mu.Unlock()
	l.prune(w, l.now())
	return len(w.timestamps)
}

func (l *SlidingWindow) windowFor(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		w = &window{timestamps: make([]time.Time, 0, l.cfg.Limit)}
		l.windows[key] = w
	}
	return w
}

// tryAcquire claims a slot or returns how long until the oldest call leaves the window
func (l *SlidingWindow) tryAcquire(w *window) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	l.prune(w, now)
	if len(w.timestamps) < l.cfg.Limit {
		w.timestamps = append(w.timestamps, now)
		return 0, true
	}
	return w.timestamps[0].Add(l.cfg.Window).Sub(now), false
}

func (l *SlidingWindow) prune(w *window, now time.Time) {
	windowStart := now.Add(-l.cfg.Window)
	validIdx := 0
	for _, ts := range w.timestamps {
		if ts.After(windowStart) {
			break
		}
		validIdx++
	}
	if validIdx > 0 {
		w.timestamps = w.timestamps[validIdx:]
	}
}

var _ Limiter = (*SlidingWindow)(nil)
