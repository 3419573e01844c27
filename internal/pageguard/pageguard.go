// Package pageguard serializes access to the single resident browser page.
// The portal session is stateful: two operations navigating the shared page
// at once would corrupt each other, so every page-touching operation funnels
// through an exclusive gate with FIFO admission.
package pageguard

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Guard is an exclusive FIFO gate over the shared page.
// semaphore.Weighted queues waiters in arrival order, so admission is fair:
// an operation that asked first runs first.
type Guard struct {
	sem *semaphore.Weighted
}

// New creates a Guard admitting one operation at a time.
func New() *Guard {
	return &Guard{sem: semaphore.NewWeighted(1)}
}

// Do runs fn while holding the gate. It blocks until the gate is free or ctx
// is done. The gate is released in a defer, so a panic inside fn still
// unblocks the next waiter while the panic propagates.
func (g *Guard) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	waitStart := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		log.Debug().
			Str("op", label).
			Dur("waited", time.Since(waitStart)).
			Msg("Gave up waiting for page gate")
		return err
	}
	defer g.sem.Release(1)

	waited := time.Since(waitStart)
	if waited > time.Second {
		log.Debug().
			Str("op", label).
			Dur("waited", waited).
			Msg("Page gate acquired after wait")
	}

	return fn(ctx)
}

// TryDo runs fn only if the gate is free right now.
// Returns false without running fn when another operation holds the page.
func (g *Guard) TryDo(label string, fn func() error) (bool, error) {
	if !g.sem.TryAcquire(1) {
		log.Debug().Str("op", label).Msg("Page gate busy, skipping")
		return false, nil
	}
	defer g.sem.Release(1)
	return true, fn()
}
