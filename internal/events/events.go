// internal/events/events.go
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Kind enumerates the domain events emitted by the fulfillment core.
type Kind string

const (
	KindOrderStatusChanged Kind = "order_status_changed"
	KindPaymentCompleted   Kind = "payment_completed"
	KindPaymentFailed      Kind = "payment_failed"
	KindDeliveryConfirmed  Kind = "delivery_confirmed"
)

// Event carries a status-change notification for fan-out to external
// collaborators (push, SMS, chat). Delivery is their problem; a publisher
// failure never affects core state.
type Event struct {
	OrderID   uuid.UUID              `json:"order_id"`
	Kind      Kind                   `json:"kind"`
	From      string                 `json:"from,omitempty"`
	To        string                 `json:"to,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Publisher fans events out to whatever notification backends are wired in.
type Publisher interface {
	Publish(event Event)
}

// LogPublisher writes events to the structured log. It is the default
// backend; real push/SMS fan-out plugs in behind the same interface.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(event Event) {
	logrus.WithFields(logrus.Fields{
		"order_id": event.OrderID,
		"kind":     event.Kind,
		"from":     event.From,
		"to":       event.To,
		"reason":   event.Reason,
	}).Info("Domain event")
}
