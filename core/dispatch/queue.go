package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/foodbridge/relay/core/model"
)

// Run drives the retry queue until the context is cancelled. Queued
// postings are retried on a fixed interval until a volunteer is found
// or the posting reaches a terminal status.
func (pl *Planner) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(pl.cfg.RetrySeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pl.retryPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// retryPending attempts one assignment for each queued posting.
func (pl *Planner) retryPending(ctx context.Context) {
	for _, id := range pl.Pending() {
		p, err := pl.postings.Get(id)
		switch {
		case err != nil, p.Status.IsTerminal():
			pl.dequeue(id)
			continue
		case p.Status != model.StatusClaimed:
			// Unclaimed again or already assigned elsewhere; either way
			// this queue entry is obsolete.
			pl.dequeue(id)
			continue
		}
		if _, err := pl.Assign(ctx, id); err != nil && !errors.Is(err, ErrNoVolunteer) {
			pl.log.Errorf("retry assign %s: %v", id, err)
			pl.dequeue(id)
		}
	}
}

func (pl *Planner) dequeue(id string) {
	pl.mu.Lock()
	delete(pl.pending, id)
	pl.mu.Unlock()
}
