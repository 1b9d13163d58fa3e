package dispatch

import (
	"fmt"

	dispatchcommand "github.com/goliatone/go-dispatch/command"
	"github.com/goliatone/go-dispatch/core"
	dispatchquery "github.com/goliatone/go-dispatch/query"
)

var _ CommandQueryService = (*core.Service)(nil)

// CommandQueryService is the surface the facade dispatches against; the
// core Service satisfies it.
type CommandQueryService interface {
	dispatchcommand.MutatingService
	dispatchquery.EventReader
	dispatchquery.SubscriptionReader
	dispatchquery.DeliveryReader
}

type Commands struct {
	PublishEvent       *dispatchcommand.PublishEventCommand
	Subscribe          *dispatchcommand.SubscribeCommand
	CancelSubscription *dispatchcommand.CancelSubscriptionCommand
	ProcessDeliveries  *dispatchcommand.ProcessDeliveriesCommand
}

type Queries struct {
	GetEvent        *dispatchquery.GetEventQuery
	GetSubscription *dispatchquery.GetSubscriptionQuery
	GetDelivery     *dispatchquery.GetDeliveryQuery
	ListDeliveries  *dispatchquery.ListDeliveriesQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	processor dispatchcommand.DeliveryProcessor
}

// WithDeliveryProcessor wires the running worker into the
// process-deliveries command.
func WithDeliveryProcessor(processor dispatchcommand.DeliveryProcessor) FacadeOption {
	return func(options *facadeOptions) {
		options.processor = processor
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		PublishEvent:       dispatchcommand.NewPublishEventCommand(service),
		Subscribe:          dispatchcommand.NewSubscribeCommand(service),
		CancelSubscription: dispatchcommand.NewCancelSubscriptionCommand(service),
		ProcessDeliveries:  dispatchcommand.NewProcessDeliveriesCommand(cfg.processor),
	}
	facade.queries = Queries{
		GetEvent:        dispatchquery.NewGetEventQuery(service),
		GetSubscription: dispatchquery.NewGetSubscriptionQuery(service),
		GetDelivery:     dispatchquery.NewGetDeliveryQuery(service),
		ListDeliveries:  dispatchquery.NewListDeliveriesQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
