// Package metrics defines the sink interfaces the engine records into.
// Concrete sinks (Prometheus, InfluxDB) live under infra/metrics.
package metrics

import "time"

// MatchResult is one scored (posting, receiver) pair from a ranking run.
type MatchResult struct {
	PostingID  string
	ReceiverID string
	City       string
	Score      float64
	Rank       int
	Urgent     bool
	Time       time.Time
}

// Sink records match results. Additional event classes are optional
// capabilities detected by interface assertion, mirroring how sinks
// with different backends support different measurements.
type Sink interface {
	RecordMatchResults(results []MatchResult) error
}

// AssignmentMetric is one volunteer assignment.
type AssignmentMetric struct {
	PostingID      string
	VolunteerID    string
	City           string
	TravelMin      float64
	DeadlineAtRisk bool
	Time           time.Time
}

// AssignmentRecorder records volunteer assignments.
type AssignmentRecorder interface {
	RecordAssignment(AssignmentMetric) error
}

// DeliveryMetric is one completed delivery.
type DeliveryMetric struct {
	PostingID   string
	VolunteerID string
	City        string
	DistanceKm  float64
	DurationMin float64
	OnTime      bool
	Time        time.Time
}

// DeliveryRecorder records completed deliveries.
type DeliveryRecorder interface {
	RecordDelivery(DeliveryMetric) error
}

// EscalationMetric is one watcher trigger firing.
type EscalationMetric struct {
	PostingID string
	Trigger   string
	City      string
	Time      time.Time
}

// EscalationRecorder records escalation triggers.
type EscalationRecorder interface {
	RecordEscalation(EscalationMetric) error
}

// FleetSizeRecorder records the number of eligible volunteers observed
// during a dispatch cycle.
type FleetSizeRecorder interface {
	RecordFleetSize(city string, size int) error
}

// NopSink drops every record.
type NopSink struct{}

func (NopSink) RecordMatchResults([]MatchResult) error  { return nil }
func (NopSink) RecordAssignment(AssignmentMetric) error { return nil }
func (NopSink) RecordDelivery(DeliveryMetric) error     { return nil }
func (NopSink) RecordEscalation(EscalationMetric) error { return nil }
func (NopSink) RecordFleetSize(string, int) error       { return nil }
