package core

// ingest_limiter.go bounds the number of ingestions running at once.
//
// Each ingestion holds a whole decoded file and its pending batch in memory,
// so parallelism is capped with a semaphore. A request that cannot get a slot
// within maxWait fails with ErrTooManyIngestions. WaitForDrain supports
// graceful shutdown.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyIngestions is returned when no ingestion slot frees up in time.
var ErrTooManyIngestions = errors.New("too many concurrent uploads, please try again later")

// DefaultMaxConcurrentIngestions is the slot count when none is configured.
const DefaultMaxConcurrentIngestions = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// IngestLimiter is a counting semaphore over ingestion slots.
type IngestLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int32
}

// NewIngestLimiter allows at most maxConcurrent ingestions; waiters give up after maxWait.
func NewIngestLimiter(maxConcurrent int, maxWait time.Duration) *IngestLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentIngestions
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &IngestLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot. The caller must Release it.
// Returns ctx.Err() if ctx ends first, ErrTooManyIngestions on wait timeout.
func (l *IngestLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyIngestions
	}
}

// Release frees a slot taken by Acquire.
func (l *IngestLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// Do runs fn while holding a slot.
func (l *IngestLimiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// WaitForDrain blocks until no ingestion is active or ctx ends.
func (l *IngestLimiter) WaitForDrain(ctx context.Context) error {
	if l.active.Load() == 0 {
		return nil
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.active.Load() == 0 {
				return nil
			}
		}
	}
}

// LimiterStatus is a point-in-time view of an IngestLimiter.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status reports current slot usage.
func (l *IngestLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        int(l.active.Load()),
		Available:     cap(l.slots) - len(l.slots),
		MaxConcurrent: cap(l.slots),
	}
}
