package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dispatch/core"
)

type MutatingService interface {
	PublishEvent(ctx context.Context, req core.PublishEventRequest) (core.Event, error)
	Subscribe(ctx context.Context, in core.CreateSubscriptionInput) (core.Subscription, error)
	CancelSubscription(ctx context.Context, id string, reason string) error
}

type DeliveryProcessor interface {
	ProcessNow(ctx context.Context)
}

type PublishEventCommand struct {
	service MutatingService
}

func NewPublishEventCommand(service MutatingService) *PublishEventCommand {
	return &PublishEventCommand{service: service}
}

func (c *PublishEventCommand) Execute(ctx context.Context, msg PublishEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: publish service is required")
	}
	out, err := c.service.PublishEvent(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SubscribeCommand struct {
	service MutatingService
}

func NewSubscribeCommand(service MutatingService) *SubscribeCommand {
	return &SubscribeCommand{service: service}
}

func (c *SubscribeCommand) Execute(ctx context.Context, msg SubscribeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: subscribe service is required")
	}
	out, err := c.service.Subscribe(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CancelSubscriptionCommand struct {
	service MutatingService
}

func NewCancelSubscriptionCommand(service MutatingService) *CancelSubscriptionCommand {
	return &CancelSubscriptionCommand{service: service}
}

func (c *CancelSubscriptionCommand) Execute(ctx context.Context, msg CancelSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: cancel service is required")
	}
	return c.service.CancelSubscription(ctx, msg.SubscriptionID, msg.Reason)
}

type ProcessDeliveriesCommand struct {
	processor DeliveryProcessor
}

func NewProcessDeliveriesCommand(processor DeliveryProcessor) *ProcessDeliveriesCommand {
	return &ProcessDeliveriesCommand{processor: processor}
}

func (c *ProcessDeliveriesCommand) Execute(ctx context.Context, _ ProcessDeliveriesMessage) error {
	if c == nil || c.processor == nil {
		return commandDependencyError("command: delivery processor is required")
	}
	c.processor.ProcessNow(ctx)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
