package metrics

import coremetrics "github.com/foodbridge/relay/core/metrics"

// MultiSink fans records out to multiple sinks. Optional capabilities
// are forwarded only to the sinks that implement them.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordMatchResults forwards the records to all sinks, returning the
// first error encountered.
func (m *MultiSink) RecordMatchResults(results []coremetrics.MatchResult) error {
	for _, s := range m.Sinks {
		if err := s.RecordMatchResults(results); err != nil {
			return err
		}
	}
	return nil
}

// RecordAssignment forwards assignment records.
func (m *MultiSink) RecordAssignment(ev coremetrics.AssignmentMetric) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.AssignmentRecorder); ok {
			if err := rec.RecordAssignment(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordDelivery forwards delivery records.
func (m *MultiSink) RecordDelivery(ev coremetrics.DeliveryMetric) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.DeliveryRecorder); ok {
			if err := rec.RecordDelivery(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordEscalation forwards escalation records.
func (m *MultiSink) RecordEscalation(ev coremetrics.EscalationMetric) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.EscalationRecorder); ok {
			if err := rec.RecordEscalation(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordFleetSize forwards fleet size records when supported.
func (m *MultiSink) RecordFleetSize(city string, size int) error {
	for _, s := range m.Sinks {
		if fr, ok := s.(coremetrics.FleetSizeRecorder); ok {
			if err := fr.RecordFleetSize(city, size); err != nil {
				return err
			}
		}
	}
	return nil
}
