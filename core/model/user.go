package model

import "time"

// Role discriminates the variant record attached to a User.
type Role string

const (
	RoleDonor     Role = "donor"
	RoleReceiver  Role = "receiver"
	RoleVolunteer Role = "volunteer"
)

// User is the shared base record for all participants. Role-specific
// fields live in the variant structs that embed it; there is no
// inheritance, only composition with an explicit discriminant.
type User struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	City     string   `json:"city"`
	Role     Role     `json:"role"`
	Location Location `json:"location"`
}

// Receiver is a user that claims postings.
type Receiver struct {
	User
	// DietaryRestrictions lists food types the receiver cannot accept.
	DietaryRestrictions []FoodType `json:"dietary_restrictions,omitempty"`
	Capacity            int        `json:"capacity"` // servings per pickup

	ClaimsMade      int `json:"claims_made"`
	ClaimsCompleted int `json:"claims_completed"`
	// PenaltyClaims counts late cancellations; they weigh down the
	// acceptance rate beyond the missing completion.
	PenaltyClaims int `json:"penalty_claims,omitempty"`
	// Rejections counts declined notifications keyed by food type.
	Rejections map[FoodType]int `json:"rejections,omitempty"`
}

// Accepts reports whether the food type is compatible with the
// receiver's dietary restrictions.
func (r Receiver) Accepts(ft FoodType) bool {
	for _, restricted := range r.DietaryRestrictions {
		if restricted == ft {
			return false
		}
	}
	return true
}

// AcceptanceRate returns the rolling ratio of completed claims. A
// receiver with no history scores a neutral 1 so new receivers are not
// shut out of matching.
func (r Receiver) AcceptanceRate() float64 {
	total := r.ClaimsMade + r.PenaltyClaims
	if total == 0 {
		return 1
	}
	return float64(r.ClaimsCompleted) / float64(total)
}

// VolunteerStatus is the availability state of a courier.
type VolunteerStatus string

const (
	VolunteerAvailable VolunteerStatus = "available"
	VolunteerAssigned  VolunteerStatus = "assigned"
	VolunteerInTransit VolunteerStatus = "in_transit"
	VolunteerOffline   VolunteerStatus = "offline"
	VolunteerSuspended VolunteerStatus = "suspended"
)

// IsValid reports whether s is a known volunteer status.
func (s VolunteerStatus) IsValid() bool {
	switch s {
	case VolunteerAvailable, VolunteerAssigned, VolunteerInTransit,
		VolunteerOffline, VolunteerSuspended:
		return true
	default:
		return false
	}
}

// InitialReliability is the score a volunteer starts with before any
// event is recorded against them.
const InitialReliability = 100

// Volunteer is a user that couriers postings. Reliability fields are
// mutated exclusively by the reliability ledger after registration.
type Volunteer struct {
	User
	Status            VolunteerStatus `json:"status"`
	LocationUpdatedAt time.Time       `json:"location_updated_at"`

	// Reliability is bounded [0,100] and starts at InitialReliability.
	Reliability      int       `json:"reliability"`
	ReliabilitySet   bool      `json:"reliability_set,omitempty"`
	Credits          int       `json:"credits"`
	Deliveries       int       `json:"deliveries"`
	ActiveAssignment string    `json:"active_assignment,omitempty"`
	SuspendedUntil   time.Time `json:"suspended_until,omitempty"`
}

// CanAcceptAssignment reports whether the volunteer may be selected for
// a new route. A suspended volunteer becomes eligible again once the
// suspension window has elapsed; the score is not reset.
func (v Volunteer) CanAcceptAssignment(now time.Time) bool {
	if v.ActiveAssignment != "" {
		return false
	}
	switch v.Status {
	case VolunteerAvailable:
		return true
	case VolunteerSuspended:
		return !now.Before(v.SuspendedUntil)
	default:
		return false
	}
}
