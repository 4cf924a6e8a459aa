// Package spoilage predicts how long donated food stays safe. The
// engine depends only on the Predictor interface; when the learned
// predictor is unavailable a deterministic lookup table takes over and
// the result is flagged as degraded.
package spoilage

import (
	"context"
	"time"

	"github.com/foodbridge/relay/core/logger"
	"github.com/foodbridge/relay/core/model"
)

// Conditions are the inputs to a spoilage-window prediction.
type Conditions struct {
	FoodType     model.FoodType
	Freshness    model.Freshness
	Storage      model.StorageCondition
	ElapsedHours float64
	AmbientTemp  *float64
	Humidity     *float64
}

// Predictor forecasts the spoilage window for the given conditions.
type Predictor interface {
	PredictWindow(ctx context.Context, c Conditions) (time.Duration, error)
}

// Window is a prediction result. Degraded is set when the fallback
// table produced the value.
type Window struct {
	Duration time.Duration
	Degraded bool
}

type tableKey struct {
	freshness model.Freshness
	storage   model.StorageCondition
}

var fallbackHours = map[tableKey]float64{
	{model.FreshnessFresh, model.StorageRefrigerated}:           48,
	{model.FreshnessFresh, model.StorageRoomTemp}:               12,
	{model.FreshnessCookedToday, model.StorageRefrigerated}:     24,
	{model.FreshnessCookedToday, model.StorageRoomTemp}:         6,
	{model.FreshnessCookedYesterday, model.StorageRefrigerated}: 12,
	{model.FreshnessCookedYesterday, model.StorageRoomTemp}:     3,
	{model.FreshnessFrozen, model.StorageFrozen}:                720,
}

// defaultFallbackHours is used for combinations absent from the table.
const defaultFallbackHours = 4

// FallbackWindow returns the deterministic table value for the given
// freshness and storage condition.
func FallbackWindow(f model.Freshness, s model.StorageCondition) time.Duration {
	h, ok := fallbackHours[tableKey{f, s}]
	if !ok {
		h = defaultFallbackHours
	}
	return time.Duration(h * float64(time.Hour))
}

// Engine resolves predictions, falling back to the table when the
// predictor errors or none is configured.
type Engine struct {
	predictor Predictor
	log       logger.Logger
}

// NewEngine creates an Engine. predictor may be nil, in which case every
// result comes from the fallback table.
func NewEngine(p Predictor, log logger.Logger) *Engine {
	return &Engine{predictor: p, log: log}
}

// Window returns the spoilage window for the conditions. Predictor
// failures are never surfaced as errors; they resolve through the
// fallback with Degraded set.
func (e *Engine) Window(ctx context.Context, c Conditions) Window {
	if e.predictor != nil {
		d, err := e.predictor.PredictWindow(ctx, c)
		if err == nil && d > 0 {
			return Window{Duration: d}
		}
		if err != nil && e.log != nil {
			e.log.Warnf("spoilage predictor unavailable, using fallback: %v", err)
		}
	}
	return Window{Duration: FallbackWindow(c.Freshness, c.Storage), Degraded: true}
}
