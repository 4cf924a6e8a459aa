package spoilage

import (
	"context"
	"time"
)

// MockPredictor returns configured windows per food type, or Err.
type MockPredictor struct {
	Windows map[string]time.Duration
	Err     error
}

// PredictWindow returns the configured window for the food type.
func (m MockPredictor) PredictWindow(_ context.Context, c Conditions) (time.Duration, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	if d, ok := m.Windows[string(c.FoodType)]; ok {
		return d, nil
	}
	return 0, nil
}
