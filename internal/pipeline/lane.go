package pipeline

import (
	"context"

	"golang.org/x/sync/semaphore"

	"spdropbot/internal/metrics"
)

// Lane bounds how many agent calls run at once. Callers queue on Acquire, so a
// slow agent turn never blocks webhook handling or buffer timers.
type Lane struct {
	sem  *semaphore.Weighted
	size int
}

func NewLane(size int) *Lane {
	if size < 1 {
		size = 1
	}
	return &Lane{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (l *Lane) Size() int { return l.size }

// Do runs fn once a slot is free. It returns ctx's error if the wait is abandoned.
func (l *Lane) Do(ctx context.Context, fn func(ctx context.Context)) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	metrics.AgentBusy.Inc()
	defer metrics.AgentBusy.Dec()

	fn(ctx)
	return nil
}
