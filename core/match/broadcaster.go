// Package match glues receiver discovery, scoring and notification
// fan-out together. It is used both on posting creation and by the
// escalation controller when a posting is re-broadcast.
package match

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/foodbridge/relay/core/geo"
	"github.com/foodbridge/relay/core/journal"
	"github.com/foodbridge/relay/core/logger"
	"github.com/foodbridge/relay/core/metrics"
	"github.com/foodbridge/relay/core/model"
	"github.com/foodbridge/relay/core/notify"
	"github.com/foodbridge/relay/core/roster"
	"github.com/foodbridge/relay/core/scoring"
)

// Broadcaster ranks eligible receivers for a posting and fans out
// notifications. Notification delivery is fire-and-forget; the caller
// never waits on the dispatcher.
type Broadcaster struct {
	geo      *geo.Index
	roster   *roster.Store
	scorer   *scoring.Engine
	notifier notify.Dispatcher
	sink     metrics.Sink
	journal  journal.Store
	log      logger.Logger
	now      func() time.Time
}

// NewBroadcaster wires a Broadcaster. sink and journal may be nil.
func NewBroadcaster(ix *geo.Index, ros *roster.Store, scorer *scoring.Engine, notifier notify.Dispatcher, sink metrics.Sink, jstore journal.Store, log logger.Logger) *Broadcaster {
	return &Broadcaster{
		geo:      ix,
		roster:   ros,
		scorer:   scorer,
		notifier: notifier,
		sink:     sink,
		journal:  jstore,
		log:      log,
		now:      time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (b *Broadcaster) SetNow(now func() time.Time) { b.now = now }

// Broadcast discovers receivers within the posting's active radius,
// ranks them, and notifies each one. reason is included in the payload
// when non-empty (emergency re-broadcasts). The ranked candidates are
// returned for the caller.
func (b *Broadcaster) Broadcast(ctx context.Context, p model.Posting, msgType notify.MessageType, reason string) []scoring.ScoredReceiver {
	now := b.now()
	hits := b.geo.WithinRadius(p.City, p.Location, p.NotifyRadiusKm, geo.Filter{
		Kind:       geo.KindReceiver,
		ActiveOnly: true,
	})
	cands := make([]scoring.ScoredReceiver, 0, len(hits))
	for _, h := range hits {
		r, err := b.roster.Receiver(h.ID)
		if err != nil {
			continue
		}
		cands = append(cands, scoring.ScoredReceiver{Receiver: r, DistanceKm: h.DistanceKm})
	}
	ranked := b.scorer.RankReceivers(p, cands, scoring.Context{Now: now, RadiusKm: p.NotifyRadiusKm})

	priority := notify.PriorityNormal
	if p.SpoilageWindow() < 6*time.Hour {
		priority = notify.PriorityHigh
	}
	if p.Urgent {
		// The urgent flag is sticky: every notification for the posting
		// carries it once an emergency re-match fired.
		priority = notify.PriorityUrgent
	}

	results := make([]metrics.MatchResult, 0, len(ranked))
	for i, c := range ranked {
		payload := map[string]any{
			"posting_id":    p.ID,
			"food_type":     string(p.Food.Type),
			"quantity":      p.Food.Quantity,
			"remaining_min": int(p.Remaining(now).Minutes()),
			"urgent":        p.Urgent,
			"score":         c.Score,
		}
		if reason != "" {
			payload["escalation_reason"] = reason
		}
		msg := notify.Message{
			ID:        uuid.NewString(),
			Recipient: c.Receiver.ID,
			Type:      msgType,
			Priority:  priority,
			Channels:  []string{"push"},
			Payload:   payload,
			Time:      now,
		}
		go func(m notify.Message) {
			if err := b.notifier.Send(context.Background(), m); err != nil {
				b.log.Errorf("notify %s: %v", m.Recipient, err)
			}
		}(msg)
		results = append(results, metrics.MatchResult{
			PostingID:  p.ID,
			ReceiverID: c.Receiver.ID,
			City:       p.City,
			Score:      c.Score,
			Rank:       i + 1,
			Urgent:     p.Urgent,
			Time:       now,
		})
	}
	b.log.Infof("broadcast %s for posting %s: %d receivers", msgType, p.ID, len(ranked))

	if b.sink != nil && len(results) > 0 {
		if err := b.sink.RecordMatchResults(results); err != nil {
			b.log.Errorf("match metrics: %v", err)
		}
	}
	if b.journal != nil {
		ids := make([]string, 0, len(ranked))
		for _, c := range ranked {
			ids = append(ids, c.Receiver.ID)
		}
		_ = b.journal.Append(ctx, journal.Record{
			Timestamp: now,
			Kind:      journal.KindMatch,
			PostingID: p.ID,
			City:      p.City,
			Details: map[string]any{
				"type":      string(msgType),
				"receivers": ids,
				"radius_km": p.NotifyRadiusKm,
				"urgent":    p.Urgent,
			},
		})
	}
	return ranked
}
