package events

import (
	"time"

	"github.com/foodbridge/relay/core/model"
)

// DeliveryEvent is published on each delivery status change.
type DeliveryEvent struct {
	PostingID   string
	VolunteerID string
	Status      model.PostingStatus
	LateArrival bool
	At          time.Time
}
