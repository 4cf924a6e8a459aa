package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/foodbridge/relay/core/metrics"
)

// PromSink records engine events in Prometheus metrics.
type PromSink struct {
	matches     *prometheus.CounterVec
	assignments *prometheus.CounterVec
	deliveries  *prometheus.HistogramVec
	escalations *prometheus.CounterVec
	fleet       *prometheus.GaugeVec
}

// NewPromSink registers the metrics on the default Prometheus
// registerer. The Prometheus server is started separately.
func NewPromSink(cfg coremetrics.Config) (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	matches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_matches_total",
		Help: "Receivers notified per match broadcast",
	}, []string{"city", "urgent"})
	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_assignments_total",
		Help: "Volunteer assignments",
	}, []string{"city", "deadline_at_risk"})
	deliveries := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_delivery_duration_minutes",
		Help:    "Time between assignment and delivery completion",
		Buckets: []float64{5, 10, 15, 30, 45, 60, 90, 120, 180},
	}, []string{"city", "on_time"})
	escalations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_escalations_total",
		Help: "Escalation triggers fired",
	}, []string{"city", "trigger"})
	fleet := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_eligible_volunteers",
		Help: "Eligible volunteers observed during the last dispatch cycle",
	}, []string{"city"})

	s := &PromSink{
		matches:     matches,
		assignments: assignments,
		deliveries:  deliveries,
		escalations: escalations,
		fleet:       fleet,
	}
	for _, c := range []prometheus.Collector{matches, assignments, deliveries, escalations, fleet} {
		if err := reg.Register(c); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			switch existing := are.ExistingCollector.(type) {
			case *prometheus.CounterVec:
				switch c {
				case matches:
					s.matches = existing
				case assignments:
					s.assignments = existing
				case escalations:
					s.escalations = existing
				}
			case *prometheus.HistogramVec:
				s.deliveries = existing
			case *prometheus.GaugeVec:
				s.fleet = existing
			}
		}
	}
	return s, nil
}

// RecordMatchResults increments the match counter per notified receiver.
func (s *PromSink) RecordMatchResults(results []coremetrics.MatchResult) error {
	for _, r := range results {
		s.matches.WithLabelValues(r.City, strconv.FormatBool(r.Urgent)).Inc()
	}
	return nil
}

// RecordAssignment counts one volunteer assignment.
func (s *PromSink) RecordAssignment(m coremetrics.AssignmentMetric) error {
	s.assignments.WithLabelValues(m.City, strconv.FormatBool(m.DeadlineAtRisk)).Inc()
	return nil
}

// RecordDelivery observes the completed delivery duration.
func (s *PromSink) RecordDelivery(m coremetrics.DeliveryMetric) error {
	s.deliveries.WithLabelValues(m.City, strconv.FormatBool(m.OnTime)).Observe(m.DurationMin)
	return nil
}

// RecordEscalation counts one escalation trigger.
func (s *PromSink) RecordEscalation(m coremetrics.EscalationMetric) error {
	s.escalations.WithLabelValues(m.City, m.Trigger).Inc()
	return nil
}

// RecordFleetSize sets the eligible volunteer gauge for the city.
func (s *PromSink) RecordFleetSize(city string, size int) error {
	s.fleet.WithLabelValues(city).Set(float64(size))
	return nil
}
