package model

import (
	"fmt"
	"time"
)

// FoodType classifies a donated item for dietary matching.
type FoodType string

const (
	FoodProduce    FoodType = "produce"
	FoodBakery     FoodType = "bakery"
	FoodDairy      FoodType = "dairy"
	FoodCookedMeal FoodType = "cooked_meal"
	FoodPackaged   FoodType = "packaged"
)

// Freshness describes how recently the food was prepared.
type Freshness string

const (
	FreshnessFresh           Freshness = "fresh"
	FreshnessCookedToday     Freshness = "cooked_today"
	FreshnessCookedYesterday Freshness = "cooked_yesterday"
	FreshnessFrozen          Freshness = "frozen"
)

// StorageCondition describes how the food is being held until pickup.
type StorageCondition string

const (
	StorageRefrigerated StorageCondition = "refrigerated"
	StorageRoomTemp     StorageCondition = "room_temperature"
	StorageFrozen       StorageCondition = "frozen"
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinates are within range.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// PostingStatus is the delivery lifecycle state of a posting.
type PostingStatus string

const (
	StatusAvailable       PostingStatus = "available"
	StatusClaimed         PostingStatus = "claimed"
	StatusAssigned        PostingStatus = "assigned"
	StatusEnRoutePickup   PostingStatus = "en_route_pickup"
	StatusPickingUp       PostingStatus = "picking_up"
	StatusEnRouteDelivery PostingStatus = "en_route_delivery"
	StatusDelivering      PostingStatus = "delivering"
	StatusDelivered       PostingStatus = "delivered"
	StatusExpired         PostingStatus = "expired"
	StatusCancelled       PostingStatus = "cancelled"
)

// IsValid reports whether s is a known status.
func (s PostingStatus) IsValid() bool {
	switch s {
	case StatusAvailable, StatusClaimed, StatusAssigned, StatusEnRoutePickup,
		StatusPickingUp, StatusEnRouteDelivery, StatusDelivering,
		StatusDelivered, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is absorbing.
func (s PostingStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusExpired || s == StatusCancelled
}

func (s PostingStatus) String() string { return string(s) }

// FoodInfo captures the food-safety attributes of a posting.
type FoodInfo struct {
	Type       FoodType         `json:"type"`
	Quantity   int              `json:"quantity"` // servings
	Freshness  Freshness        `json:"freshness"`
	PreparedAt time.Time        `json:"prepared_at"`
	Storage    StorageCondition `json:"storage"`
}

// HistorySnapshot is one append-only audit entry of a posting mutation.
type HistorySnapshot struct {
	Timestamp time.Time     `json:"timestamp"`
	Status    PostingStatus `json:"status"`
	ClaimedBy string        `json:"claimed_by,omitempty"`
	Volunteer string        `json:"volunteer,omitempty"`
	Note      string        `json:"note,omitempty"`
}

// Posting is a record of surplus food awaiting a receiver claim.
// Once the status is terminal no field may change; only history appends
// are permitted for audit.
type Posting struct {
	ID      string   `json:"id"`
	DonorID string   `json:"donor_id"`
	City    string   `json:"city"`
	Food    FoodInfo `json:"food"`

	Location         Location  `json:"location"`
	PickupDeadline   time.Time `json:"pickup_deadline"`
	SpoilageDeadline time.Time `json:"spoilage_deadline"`
	// PredictorDegraded marks that the spoilage deadline came from the
	// fallback table rather than the learned predictor.
	PredictorDegraded bool `json:"predictor_degraded,omitempty"`

	Status    PostingStatus `json:"status"`
	ClaimedBy string        `json:"claimed_by,omitempty"`
	ClaimedAt time.Time     `json:"claimed_at,omitempty"`
	Volunteer string        `json:"volunteer,omitempty"`

	// BaseRadiusKm is the notification radius at creation time;
	// NotifyRadiusKm is the currently active one. They diverge only
	// after an escalation.
	BaseRadiusKm   float64 `json:"base_radius_km"`
	NotifyRadiusKm float64 `json:"notify_radius_km"`
	RadiusExpanded bool    `json:"radius_expanded,omitempty"`

	// Urgent is sticky: once set by an emergency re-match every
	// subsequent notification for this posting carries it.
	Urgent           bool      `json:"urgent,omitempty"`
	LateCancelAt     time.Time `json:"late_cancel_at,omitempty"`
	LateCancelReason string    `json:"late_cancel_reason,omitempty"`

	History   []HistorySnapshot `json:"history,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SpoilageWindow returns the predicted safe duration measured from
// preparation time.
func (p Posting) SpoilageWindow() time.Duration {
	return p.SpoilageDeadline.Sub(p.Food.PreparedAt)
}

// Remaining returns the time left until the spoilage deadline.
func (p Posting) Remaining(now time.Time) time.Duration {
	return p.SpoilageDeadline.Sub(now)
}

// ElapsedFraction returns how much of the spoilage window has passed,
// clamped to [0,1].
func (p Posting) ElapsedFraction(now time.Time) float64 {
	w := p.SpoilageWindow()
	if w <= 0 {
		return 1
	}
	f := float64(now.Sub(p.Food.PreparedAt)) / float64(w)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Validate checks that the posting is structurally sound.
func (p Posting) Validate() error {
	if p.DonorID == "" {
		return fmt.Errorf("donor id is required")
	}
	if p.City == "" {
		return fmt.Errorf("city is required")
	}
	if !p.Location.Valid() {
		return fmt.Errorf("malformed coordinates")
	}
	if p.Food.Type == "" || p.Food.Freshness == "" || p.Food.Storage == "" {
		return fmt.Errorf("food safety fields are required")
	}
	if p.Food.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	return nil
}
