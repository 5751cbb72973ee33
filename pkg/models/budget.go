package models

import (
	"time"
)

// Default resource-guard limits applied when a definition leaves them unset.
const (
	DefaultTimeout           = 5 * time.Minute
	DefaultMaxRetries        = 3
	DefaultMaxParallel       = 10
	DefaultMaxOperations     = 1000
	DefaultMaxLoopIterations = 1000
	DefaultMaxLoopDepth      = 5
)

// ResourceBudget carries the per-execution guard limits through the engine
// call chain. It is created once per execution from the workflow's limits;
// there is deliberately no process-global counterpart.
type ResourceBudget struct {
	Deadline          time.Time
	MaxRetries        int
	MaxOperations     int
	MaxLoopIterations int
	MaxLoopDepth      int

	parallel chan struct{}
}

// NewResourceBudget builds a budget from the definition limits, applying
// defaults for unset values.
func NewResourceBudget(limits ExecutionLimits, now time.Time) *ResourceBudget {
	timeout := limits.Timeout.Std()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// Explicit zero means never retry; only unset (or negative) falls back.
	maxRetries := DefaultMaxRetries
	if limits.MaxRetries != nil && *limits.MaxRetries >= 0 {
		maxRetries = *limits.MaxRetries
	}

	maxParallel := limits.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}

	maxOperations := limits.MaxOperations
	if maxOperations <= 0 {
		maxOperations = DefaultMaxOperations
	}

	maxIterations := limits.MaxLoopIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxLoopIterations
	}

	maxDepth := limits.MaxLoopDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxLoopDepth
	}

	return &ResourceBudget{
		Deadline:          now.Add(timeout),
		MaxRetries:        maxRetries,
		MaxOperations:     maxOperations,
		MaxLoopIterations: maxIterations,
		MaxLoopDepth:      maxDepth,
		parallel:          make(chan struct{}, maxParallel),
	}
}

// Remaining returns the wall-clock budget left.
func (b *ResourceBudget) Remaining(now time.Time) time.Duration {
	return b.Deadline.Sub(now)
}

// Expired reports whether the wall-clock budget has run out.
func (b *ResourceBudget) Expired(now time.Time) bool {
	return !now.Before(b.Deadline)
}

// AcquireSlot blocks until a parallel execution slot is free.
func (b *ResourceBudget) AcquireSlot() {
	b.parallel <- struct{}{}
}

// ReleaseSlot returns a parallel execution slot.
func (b *ResourceBudget) ReleaseSlot() {
	<-b.parallel
}
