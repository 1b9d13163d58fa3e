package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-dispatch/core"
)

const (
	TypePublishEvent       = "dispatch.command.event.publish"
	TypeSubscribe          = "dispatch.command.subscription.subscribe"
	TypeCancelSubscription = "dispatch.command.subscription.cancel"
	TypeProcessDeliveries  = "dispatch.command.deliveries.process"
)

type PublishEventMessage struct {
	Request core.PublishEventRequest
}

func (PublishEventMessage) Type() string { return TypePublishEvent }

func (m PublishEventMessage) Validate() error {
	if strings.TrimSpace(m.Request.Source) == "" {
		return fmt.Errorf("command: event source is required")
	}
	if strings.TrimSpace(m.Request.Type) == "" {
		return fmt.Errorf("command: event type is required")
	}
	return nil
}

type SubscribeMessage struct {
	Input core.CreateSubscriptionInput
}

func (SubscribeMessage) Type() string { return TypeSubscribe }

func (m SubscribeMessage) Validate() error {
	if strings.TrimSpace(m.Input.ConnectionID) == "" {
		return fmt.Errorf("command: connection id is required")
	}
	return nil
}

type CancelSubscriptionMessage struct {
	SubscriptionID string
	Reason         string
}

func (CancelSubscriptionMessage) Type() string { return TypeCancelSubscription }

func (m CancelSubscriptionMessage) Validate() error {
	if strings.TrimSpace(m.SubscriptionID) == "" {
		return fmt.Errorf("command: subscription id is required")
	}
	return nil
}

// ProcessDeliveriesMessage asks the running worker for an immediate cycle,
// ahead of the poll timer.
type ProcessDeliveriesMessage struct{}

func (ProcessDeliveriesMessage) Type() string { return TypeProcessDeliveries }

func (ProcessDeliveriesMessage) Validate() error { return nil }
