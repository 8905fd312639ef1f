package identifier

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// CriticalSection serializes identifier issuance so that the existence check
// and the insert of one caller never interleave with another's. Waiting for
// entry honors context cancellation.
type CriticalSection struct {
	sem *semaphore.Weighted
}

// NewCriticalSection creates an unlocked critical section.
func NewCriticalSection() *CriticalSection {
	return &CriticalSection{sem: semaphore.NewWeighted(1)}
}

// Do runs fn with exclusive access.
func (c *CriticalSection) Do(ctx context.Context, fn func() error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	return fn()
}
