package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidEventStatusTransition    = errors.New("core: invalid event status transition")
	ErrInvalidDeliveryStatusTransition = errors.New("core: invalid delivery status transition")
	ErrInvalidCronExpression           = errors.New("core: invalid cron expression")
	ErrEventNotFound                   = errors.New("core: event not found")
	ErrDeliveryNotFound                = errors.New("core: delivery not found")
	ErrSubscriptionNotFound            = errors.New("core: subscription not found")
)

type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusDelivered EventStatus = "delivered"
	EventStatusFailed    EventStatus = "failed"
)

// Event is an immutable fact. Status is an aggregate derived from the
// event's deliveries; it is recomputed by the store, never set directly.
type Event struct {
	ID              string
	Source          string
	Type            string
	Subject         string
	DataContentType string
	DataSchema      string
	Data            map[string]any
	CronExpression  string
	Status          EventStatus
	Time            time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (e Event) Recurring() bool {
	return strings.TrimSpace(e.CronExpression) != ""
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Source) == "" {
		return fmt.Errorf("core: event source is required")
	}
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("core: event type is required")
	}
	return nil
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// EventFilter matches events by source and type. Empty or "*" segments
// match anything.
type EventFilter struct {
	Source string
	Type   string
}

func (f EventFilter) Matches(event Event) bool {
	return filterSegmentMatches(f.Source, event.Source) &&
		filterSegmentMatches(f.Type, event.Type)
}

func filterSegmentMatches(pattern, value string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(strings.TrimSpace(value), prefix)
	}
	return strings.EqualFold(pattern, strings.TrimSpace(value))
}

// Subscription registers a connection's interest in events. The connection
// id doubles as the subscriber identity handed to the notifier.
type Subscription struct {
	ID           string
	ConnectionID string
	Filter       EventFilter
	Status       SubscriptionStatus
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusProcessing DeliveryStatus = "processing"
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
	DeliveryStatusFailed     DeliveryStatus = "failed"
)

// Delivery is the obligation to transmit one event to one subscription.
// "processing" is transient: it must never survive a worker's lifetime.
type Delivery struct {
	ID             string
	EventID        string
	SubscriptionID string
	Status         DeliveryStatus
	Attempts       int
	NextAttemptAt  *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func deliveryTransitionAllowed(current, next DeliveryStatus) bool {
	allowed := map[DeliveryStatus]map[DeliveryStatus]struct{}{
		DeliveryStatusPending: {
			DeliveryStatusProcessing: {},
		},
		DeliveryStatusProcessing: {
			DeliveryStatusPending:   {},
			DeliveryStatusDelivered: {},
			DeliveryStatusFailed:    {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

func (d *Delivery) TransitionTo(status DeliveryStatus, now time.Time) error {
	if d == nil {
		return nil
	}
	if d.Status == status {
		d.UpdatedAt = now
		return nil
	}
	if !deliveryTransitionAllowed(d.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidDeliveryStatusTransition, d.Status, status)
	}
	d.Status = status
	d.UpdatedAt = now
	return nil
}

// PendingDelivery is the claim-time join of a delivery with its event and
// subscription, returned by DeliveryStore.ClaimPendingDeliveries.
type PendingDelivery struct {
	Delivery     Delivery
	Event        Event
	Subscription Subscription
}

// AggregateEventStatus derives an event's status from its deliveries:
// pending while any delivery is pending or processing, failed when any
// delivery failed permanently and none remain pending, delivered otherwise.
// An event with no deliveries stays pending.
func AggregateEventStatus(deliveries []Delivery) EventStatus {
	if len(deliveries) == 0 {
		return EventStatusPending
	}
	failed := false
	for _, delivery := range deliveries {
		switch delivery.Status {
		case DeliveryStatusPending, DeliveryStatusProcessing:
			return EventStatusPending
		case DeliveryStatusFailed:
			failed = true
		}
	}
	if failed {
		return EventStatusFailed
	}
	return EventStatusDelivered
}
