// Package claim resolves concurrent claim attempts on a posting with
// at-most-one-winner semantics. The winning transition is a
// check-and-set against the posting status under its entity lock;
// losers receive a ConflictError carrying the existing claim's
// timestamp.
package claim

import (
	"context"
	"time"

	"github.com/foodbridge/relay/core/events"
	"github.com/foodbridge/relay/core/faults"
	"github.com/foodbridge/relay/core/lifecycle"
	"github.com/foodbridge/relay/core/logger"
	"github.com/foodbridge/relay/core/model"
	"github.com/foodbridge/relay/core/roster"
	"github.com/foodbridge/relay/internal/eventbus"
	"github.com/foodbridge/relay/internal/idempotency"
)

// lateCancelFraction: a cancellation with less remaining time than this
// fraction of the spoilage window counts as late and triggers the
// emergency re-match path.
const lateCancelFraction = 0.5

// Coordinator arbitrates claims and unclaims.
type Coordinator struct {
	postings *lifecycle.Store
	roster   *roster.Store
	bus      eventbus.EventBus
	tokens   *idempotency.Store
	log      logger.Logger
	now      func() time.Time
}

// NewCoordinator wires a Coordinator. bus may be nil in tests.
func NewCoordinator(postings *lifecycle.Store, ros *roster.Store, bus eventbus.EventBus, log logger.Logger) *Coordinator {
	return &Coordinator{
		postings: postings,
		roster:   ros,
		bus:      bus,
		tokens:   idempotency.NewStore(0),
		log:      log,
		now:      time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (c *Coordinator) SetNow(now func() time.Time) { c.now = now }

// Claim atomically reserves the posting for the receiver. token
// deduplicates retried requests; a replay returns the original result
// without re-executing the claim.
func (c *Coordinator) Claim(ctx context.Context, postingID, receiverID, token string) (model.Posting, error) {
	if v, err, ok := c.tokens.Get(token); ok {
		if p, isP := v.(model.Posting); isP {
			return p, err
		}
		return model.Posting{}, err
	}
	if _, err := c.roster.Receiver(receiverID); err != nil {
		return model.Posting{}, err
	}
	now := c.now()
	p, err := c.postings.Update(postingID, func(p *model.Posting) error {
		if p.Status != model.StatusAvailable {
			return &faults.ConflictError{
				Resource:  "posting " + p.ID,
				Reason:    "already " + p.Status.String(),
				ClaimedAt: p.ClaimedAt,
			}
		}
		p.ClaimedBy = receiverID
		p.ClaimedAt = now
		return lifecycle.Transition(p, model.StatusClaimed, now, "claimed by "+receiverID)
	})
	if err != nil {
		c.tokens.Put(token, model.Posting{}, err)
		return model.Posting{}, err
	}
	if _, rerr := c.roster.UpdateReceiver(receiverID, func(r *model.Receiver) error {
		r.ClaimsMade++
		return nil
	}); rerr != nil {
		c.log.Errorf("claim bookkeeping for %s: %v", receiverID, rerr)
	}
	if c.bus != nil {
		c.bus.Publish(events.ClaimEvent{PostingID: postingID, ReceiverID: receiverID, ClaimedAt: now})
	}
	c.tokens.Put(token, p, nil)
	c.log.Infof("posting %s claimed by %s", postingID, receiverID)
	return p, nil
}

// Unclaim reverses claimed -> available. It is idempotent on an
// already-available posting. A late cancellation (less than half the
// spoilage window remaining) penalises the cancelling receiver's
// acceptance tracking and hands off to the escalation path without
// blocking the caller.
func (c *Coordinator) Unclaim(ctx context.Context, postingID, reason string) (model.Posting, error) {
	now := c.now()
	var (
		cancelledBy string
		late        bool
		remaining   time.Duration
	)
	p, err := c.postings.Update(postingID, func(p *model.Posting) error {
		if p.Status == model.StatusAvailable {
			return nil // idempotent no-op
		}
		if p.Status != model.StatusClaimed {
			return &faults.ConflictError{
				Resource: "posting " + p.ID,
				Reason:   "cannot unclaim while " + p.Status.String(),
			}
		}
		cancelledBy = p.ClaimedBy
		remaining = p.Remaining(now)
		late = float64(remaining) < lateCancelFraction*float64(p.SpoilageWindow())
		p.ClaimedBy = ""
		p.ClaimedAt = time.Time{}
		if late {
			p.LateCancelAt = now
			p.LateCancelReason = reason
		}
		return lifecycle.Transition(p, model.StatusAvailable, now, "unclaimed: "+reason)
	})
	if err != nil || cancelledBy == "" {
		return p, err
	}
	if late {
		if _, rerr := c.roster.UpdateReceiver(cancelledBy, func(r *model.Receiver) error {
			r.PenaltyClaims++
			return nil
		}); rerr != nil {
			c.log.Errorf("late-cancel penalty for %s: %v", cancelledBy, rerr)
		}
		if c.bus != nil {
			c.bus.Publish(events.LateCancelEvent{
				PostingID:   postingID,
				ReceiverID:  cancelledBy,
				Reason:      reason,
				Remaining:   remaining,
				CancelledAt: now,
			})
		}
		c.log.Warnf("late cancellation of posting %s by %s (%s remaining)", postingID, cancelledBy, remaining)
	}
	return p, nil
}
