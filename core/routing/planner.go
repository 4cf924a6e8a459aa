// Package routing computes distance and duration for ordered waypoint
// sets. A map/traffic provider implements Planner; the Haversine
// fallback at a fixed average speed is always available.
package routing

import (
	"context"
	"fmt"

	"github.com/foodbridge/relay/core/geo"
	"github.com/foodbridge/relay/core/logger"
	"github.com/foodbridge/relay/core/model"
)

// Plan is the estimate for an ordered set of waypoints. Degraded is set
// when the fallback produced it.
type Plan struct {
	DistanceKm  float64
	DurationMin float64
	Degraded    bool
}

// Planner produces route estimates for ordered waypoints.
type Planner interface {
	Route(ctx context.Context, waypoints []model.Location) (Plan, error)
}

// HaversinePlanner sums great-circle distances between consecutive
// waypoints and divides by a fixed average speed.
type HaversinePlanner struct {
	SpeedKmh float64
}

// Route implements Planner.
func (p HaversinePlanner) Route(_ context.Context, wps []model.Location) (Plan, error) {
	if len(wps) < 2 {
		return Plan{}, fmt.Errorf("routing: need at least 2 waypoints, got %d", len(wps))
	}
	var km float64
	for i := 1; i < len(wps); i++ {
		km += geo.HaversineKm(wps[i-1], wps[i])
	}
	return Plan{DistanceKm: km, DurationMin: geo.TravelMinutes(km, p.SpeedKmh)}, nil
}

// Engine resolves plans through the configured provider, falling back
// to Haversine estimates on failure.
type Engine struct {
	planner  Planner
	fallback HaversinePlanner
	log      logger.Logger
}

// NewEngine creates an Engine. planner may be nil.
func NewEngine(p Planner, log logger.Logger) *Engine {
	return &Engine{planner: p, fallback: HaversinePlanner{SpeedKmh: geo.FallbackSpeedKmh}, log: log}
}

// Route returns an estimate for the waypoints. Provider failures resolve
// through the fallback with Degraded set; only malformed input errors.
func (e *Engine) Route(ctx context.Context, wps []model.Location) (Plan, error) {
	if e.planner != nil {
		plan, err := e.planner.Route(ctx, wps)
		if err == nil {
			return plan, nil
		}
		if e.log != nil {
			e.log.Warnf("route planner unavailable, using haversine fallback: %v", err)
		}
	}
	plan, err := e.fallback.Route(ctx, wps)
	if err != nil {
		return Plan{}, err
	}
	plan.Degraded = true
	return plan, nil
}

// MockPlanner returns a fixed plan or error, for tests.
type MockPlanner struct {
	Plan Plan
	Err  error
}

// Route implements Planner.
func (m MockPlanner) Route(context.Context, []model.Location) (Plan, error) {
	return m.Plan, m.Err
}
