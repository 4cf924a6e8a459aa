// Package journal persists an append-only record of matching, dispatch
// and escalation decisions for audit and replay.
package journal

import (
	"context"
	"time"
)

// Record kinds.
const (
	KindMatch      = "match"
	KindClaim      = "claim"
	KindAssignment = "assignment"
	KindDelivery   = "delivery"
	KindEscalation = "escalation"
)

// Record captures one engine decision.
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	PostingID string         `json:"posting_id"`
	City      string         `json:"city,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Query defines filters for retrieving records.
type Query struct {
	Start     time.Time
	End       time.Time
	PostingID string
	Kind      string
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error           { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
