// Package escalation watches non-terminal postings and fires the three
// rescue triggers: radius expansion near the spoilage deadline, hard
// expiry past it, and emergency re-match after a late cancellation.
// Triggers come from two sources reconciled against the same state: the
// event bus for low latency and a periodic sweep for the events the
// non-blocking bus may have dropped. Every trigger is idempotent, so
// seeing the same condition twice is harmless.
package escalation

import (
	"context"
	"time"

	"github.com/foodbridge/relay/core/events"
	"github.com/foodbridge/relay/core/journal"
	"github.com/foodbridge/relay/core/lifecycle"
	"github.com/foodbridge/relay/core/logger"
	"github.com/foodbridge/relay/core/match"
	"github.com/foodbridge/relay/core/metrics"
	"github.com/foodbridge/relay/core/model"
	"github.com/foodbridge/relay/core/notify"
	"github.com/foodbridge/relay/core/roster"
	"github.com/foodbridge/relay/internal/eventbus"
)

const (
	// expansionThreshold is the elapsed fraction of the spoilage window
	// at which an unclaimed posting's radius widens.
	expansionThreshold = 0.8
	expansionFactor    = 1.5
	emergencyFactor    = 2.0
)

// Config tunes the controller.
type Config struct {
	// SweepSeconds is the reconciliation sweep interval.
	SweepSeconds int `json:"sweep_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.SweepSeconds <= 0 {
		c.SweepSeconds = 10
	}
}

// Controller runs the escalation triggers.
type Controller struct {
	postings    *lifecycle.Store
	roster      *roster.Store
	broadcaster *match.Broadcaster
	notifier    notify.Dispatcher
	bus         eventbus.EventBus
	journal     journal.Store
	sink        metrics.Sink
	log         logger.Logger
	cfg         Config
	now         func() time.Time
}

// NewController wires a Controller. bus, journal and sink may be nil.
func NewController(postings *lifecycle.Store, ros *roster.Store, b *match.Broadcaster, notifier notify.Dispatcher, bus eventbus.EventBus, jstore journal.Store, sink metrics.Sink, log logger.Logger, cfg Config) *Controller {
	cfg.SetDefaults()
	return &Controller{
		postings:    postings,
		roster:      ros,
		broadcaster: b,
		notifier:    notifier,
		bus:         bus,
		journal:     jstore,
		sink:        sink,
		log:         log,
		cfg:         cfg,
		now:         time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (c *Controller) SetNow(now func() time.Time) { c.now = now }

// Run sweeps on a fixed interval and reacts immediately to late-cancel
// events until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.cfg.SweepSeconds) * time.Second)
	defer ticker.Stop()
	var sub <-chan eventbus.Event
	if c.bus != nil {
		sub = c.bus.Subscribe()
		defer c.bus.Unsubscribe(sub)
	}
	for {
		select {
		case <-ticker.C:
			c.Sweep(ctx)
		case e, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			if lc, isLC := e.(events.LateCancelEvent); isLC {
				c.emergency(ctx, lc.PostingID)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep evaluates every non-terminal posting against the triggers.
// Expiry is checked first: a posting past its spoilage deadline expires
// even when another trigger would also fire this cycle.
func (c *Controller) Sweep(ctx context.Context) {
	now := c.now()
	for _, p := range c.postings.NonTerminal() {
		switch {
		case now.After(p.SpoilageDeadline):
			c.expire(ctx, p.ID)
		case !p.LateCancelAt.IsZero() && !p.Urgent:
			// A late cancellation whose bus event was dropped; reconcile
			// from the persisted flags.
			c.emergency(ctx, p.ID)
		case p.Status == model.StatusAvailable && !p.RadiusExpanded && p.ElapsedFraction(now) >= expansionThreshold:
			c.expand(ctx, p.ID)
		}
	}
}

// expand widens the notification radius once per posting and
// re-broadcasts to the larger audience.
func (c *Controller) expand(ctx context.Context, postingID string) {
	now := c.now()
	var fired bool
	p, err := c.postings.Update(postingID, func(p *model.Posting) error {
		if p.Status != model.StatusAvailable || p.RadiusExpanded {
			return nil // raced with a claim or an earlier expansion
		}
		p.NotifyRadiusKm = p.BaseRadiusKm * expansionFactor
		p.RadiusExpanded = true
		p.UpdatedAt = now
		fired = true
		return nil
	})
	if err != nil || !fired {
		return
	}
	c.log.Infof("posting %s radius expanded to %.1f km", p.ID, p.NotifyRadiusKm)
	c.broadcaster.Broadcast(ctx, p, notify.TypeRadiusExpanded, "")
	c.record(ctx, p, events.TriggerRadiusExpansion, now)
}

// expire terminates a posting past its spoilage deadline, releasing any
// claim or assignment and informing the donor.
func (c *Controller) expire(ctx context.Context, postingID string) {
	now := c.now()
	var volunteerID string
	p, err := c.postings.Update(postingID, func(p *model.Posting) error {
		volunteerID = p.Volunteer
		return lifecycle.Transition(p, model.StatusExpired, now, "spoilage deadline passed")
	})
	if err != nil {
		return // already terminal
	}
	if volunteerID != "" {
		if _, rerr := c.roster.UpdateVolunteer(volunteerID, func(v *model.Volunteer) error {
			v.ActiveAssignment = ""
			if v.Status != model.VolunteerSuspended {
				v.Status = model.VolunteerAvailable
			}
			return nil
		}); rerr != nil {
			c.log.Errorf("volunteer release on expiry for %s: %v", volunteerID, rerr)
		}
	}
	c.log.Warnf("posting %s expired (deadline %s)", p.ID, p.SpoilageDeadline.Format(time.RFC3339))
	if c.notifier != nil {
		msg := notify.Message{
			Recipient: p.DonorID,
			Type:      notify.TypePostingExpired,
			Priority:  notify.PriorityNormal,
			Channels:  []string{"push"},
			Payload:   map[string]any{"posting_id": p.ID},
			Time:      now,
		}
		go func() {
			if err := c.notifier.Send(context.Background(), msg); err != nil {
				c.log.Errorf("expiry notice to %s: %v", msg.Recipient, err)
			}
		}()
	}
	c.record(ctx, p, events.TriggerAutoExpiry, now)
}

// emergency re-broadcasts a late-cancelled posting at double radius
// with the sticky urgent flag. The urgent flag doubles as the
// idempotency marker, so replays and sweep reconciliation are safe.
func (c *Controller) emergency(ctx context.Context, postingID string) {
	now := c.now()
	var fired bool
	p, err := c.postings.Update(postingID, func(p *model.Posting) error {
		if p.Status.IsTerminal() || p.Urgent {
			return nil
		}
		p.Urgent = true
		p.NotifyRadiusKm = p.BaseRadiusKm * emergencyFactor
		p.RadiusExpanded = true
		p.UpdatedAt = now
		fired = true
		return nil
	})
	if err != nil || !fired {
		return
	}
	c.log.Warnf("emergency re-match for posting %s (%.0f min remaining)", p.ID, p.Remaining(now).Minutes())
	c.broadcaster.Broadcast(ctx, p, notify.TypeEmergencyRematch, p.LateCancelReason)
	c.record(ctx, p, events.TriggerEmergencyMatch, now)
}

func (c *Controller) record(ctx context.Context, p model.Posting, trigger string, now time.Time) {
	if c.bus != nil {
		c.bus.Publish(events.EscalationEvent{
			PostingID: p.ID,
			Trigger:   trigger,
			RadiusKm:  p.NotifyRadiusKm,
			Remaining: p.Remaining(now),
			At:        now,
		})
	}
	if er, ok := c.sink.(metrics.EscalationRecorder); ok {
		if err := er.RecordEscalation(metrics.EscalationMetric{
			PostingID: p.ID,
			Trigger:   trigger,
			City:      p.City,
			Time:      now,
		}); err != nil {
			c.log.Errorf("escalation metrics: %v", err)
		}
	}
	if c.journal != nil {
		_ = c.journal.Append(ctx, journal.Record{
			Timestamp: now,
			Kind:      journal.KindEscalation,
			PostingID: p.ID,
			City:      p.City,
			Details: map[string]any{
				"trigger":       trigger,
				"radius_km":     p.NotifyRadiusKm,
				"remaining_min": int(p.Remaining(now).Minutes()),
			},
		})
	}
}
