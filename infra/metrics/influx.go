package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/foodbridge/relay/core/metrics"
	"github.com/foodbridge/relay/infra/logger"
)

// InfluxSink writes engine events to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordMatchResults writes one point per scored receiver.
func (s *InfluxSink) RecordMatchResults(results []coremetrics.MatchResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, r := range results {
		p := write.NewPointWithMeasurement("match_event").
			AddTag("posting_id", r.PostingID).
			AddTag("receiver_id", r.ReceiverID).
			AddTag("city", r.City).
			AddTag("urgent", strconv.FormatBool(r.Urgent)).
			AddField("score", round3(r.Score)).
			AddField("rank", r.Rank).
			SetTime(r.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordAssignment writes one assignment point.
func (s *InfluxSink) RecordAssignment(m coremetrics.AssignmentMetric) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("assignment_event").
		AddTag("posting_id", m.PostingID).
		AddTag("volunteer_id", m.VolunteerID).
		AddTag("city", m.City).
		AddTag("deadline_at_risk", strconv.FormatBool(m.DeadlineAtRisk)).
		AddField("travel_min", round3(m.TravelMin)).
		SetTime(m.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordDelivery writes one completed delivery point.
func (s *InfluxSink) RecordDelivery(m coremetrics.DeliveryMetric) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("delivery_event").
		AddTag("posting_id", m.PostingID).
		AddTag("volunteer_id", m.VolunteerID).
		AddTag("city", m.City).
		AddTag("on_time", strconv.FormatBool(m.OnTime)).
		AddField("distance_km", round3(m.DistanceKm)).
		AddField("duration_min", round3(m.DurationMin)).
		SetTime(m.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordEscalation writes one escalation trigger point.
func (s *InfluxSink) RecordEscalation(m coremetrics.EscalationMetric) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("escalation_event").
		AddTag("posting_id", m.PostingID).
		AddTag("city", m.City).
		AddTag("trigger", m.Trigger).
		AddField("count", 1).
		SetTime(m.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
