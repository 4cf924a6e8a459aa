// Package notify defines the notification contract. The core selects
// recipients, channels and priority; delivery mechanics belong to the
// collaborator behind Dispatcher and no caller ever blocks on it.
package notify

import (
	"context"
	"sync"
	"time"
)

// Priority of a notification.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// MessageType labels the notification payload.
type MessageType string

const (
	TypeNewPosting       MessageType = "new_posting"
	TypeClaimConfirmed   MessageType = "claim_confirmed"
	TypeAssignment       MessageType = "assignment"
	TypeRadiusExpanded   MessageType = "radius_expanded"
	TypeEmergencyRematch MessageType = "emergency_rematch"
	TypePostingExpired   MessageType = "posting_expired"
)

// Message is one notification to one recipient.
type Message struct {
	ID        string         `json:"id"`
	Recipient string         `json:"recipient"`
	Type      MessageType    `json:"type"`
	Priority  Priority       `json:"priority"`
	Channels  []string       `json:"channels"`
	Payload   map[string]any `json:"payload,omitempty"`
	Time      time.Time      `json:"time"`
}

// Dispatcher delivers notifications. Implementations must not make
// callers wait on downstream delivery guarantees.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// Nop discards all messages.
type Nop struct{}

// Send implements Dispatcher.
func (Nop) Send(context.Context, Message) error { return nil }

// Recorder collects messages for tests.
type Recorder struct {
	mu       sync.Mutex
	Messages []Message
}

// Send implements Dispatcher by recording the message.
func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	r.Messages = append(r.Messages, msg)
	r.mu.Unlock()
	return nil
}

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.Messages...)
}
