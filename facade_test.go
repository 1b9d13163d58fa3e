package dispatch

import (
	"context"
	"testing"

	dispatchcommand "github.com/goliatone/go-dispatch/command"
	"github.com/goliatone/go-dispatch/core"
	dispatchquery "github.com/goliatone/go-dispatch/query"
)

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	svc := &stubFacadeService{}
	processor := &stubFacadeProcessor{}

	facade, err := NewFacade(svc, WithDeliveryProcessor(processor))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.PublishEvent == nil || commands.Subscribe == nil || commands.CancelSubscription == nil || commands.ProcessDeliveries == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.GetEvent == nil || queries.GetSubscription == nil || queries.GetDelivery == nil || queries.ListDeliveries == nil {
		t.Fatalf("expected query handlers to be wired")
	}
	if facade.Service() == nil {
		t.Fatalf("expected facade to expose the service")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := &stubFacadeService{}
	processor := &stubFacadeProcessor{}

	facade, err := NewFacade(svc, WithDeliveryProcessor(processor))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	if err := facade.Commands().CancelSubscription.Execute(context.Background(), dispatchcommand.CancelSubscriptionMessage{
		SubscriptionID: "sub_1",
		Reason:         "cleanup",
	}); err != nil {
		t.Fatalf("execute cancel command: %v", err)
	}
	if svc.lastCancelID != "sub_1" || svc.lastCancelReason != "cleanup" {
		t.Fatalf("unexpected cancel delegation payload")
	}

	if err := facade.Commands().ProcessDeliveries.Execute(context.Background(), dispatchcommand.ProcessDeliveriesMessage{}); err != nil {
		t.Fatalf("execute process deliveries command: %v", err)
	}
	if processor.calls != 1 {
		t.Fatalf("expected processor invocation, got %d", processor.calls)
	}

	event, err := facade.Queries().GetEvent.Query(context.Background(), dispatchquery.GetEventMessage{EventID: "evt_1"})
	if err != nil {
		t.Fatalf("query event: %v", err)
	}
	if event.ID != "evt_1" || event.Source != "billing" {
		t.Fatalf("unexpected event query result: %#v", event)
	}

	page, err := facade.Queries().ListDeliveries.Query(context.Background(), dispatchquery.ListDeliveriesMessage{
		Filter: core.DeliveryFilter{EventID: "evt_1"},
	})
	if err != nil {
		t.Fatalf("query list deliveries: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("unexpected delivery page result: %#v", page)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	facade, err := NewFacade(nil)
	if err == nil {
		t.Fatalf("expected nil service error")
	}
	if facade != nil {
		t.Fatalf("expected nil facade on error")
	}
}

func TestFacade_ProcessDeliveriesWithoutProcessorFails(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	if err := facade.Commands().ProcessDeliveries.Execute(context.Background(), dispatchcommand.ProcessDeliveriesMessage{}); err == nil {
		t.Fatalf("expected missing processor error")
	}
}

type stubFacadeService struct {
	lastCancelID     string
	lastCancelReason string
}

func (s *stubFacadeService) PublishEvent(_ context.Context, req core.PublishEventRequest) (core.Event, error) {
	return core.Event{ID: "evt_1", Source: req.Source, Type: req.Type}, nil
}

func (s *stubFacadeService) Subscribe(_ context.Context, in core.CreateSubscriptionInput) (core.Subscription, error) {
	return core.Subscription{ID: "sub_1", ConnectionID: in.ConnectionID}, nil
}

func (s *stubFacadeService) CancelSubscription(_ context.Context, id string, reason string) error {
	s.lastCancelID = id
	s.lastCancelReason = reason
	return nil
}

func (s *stubFacadeService) GetEvent(_ context.Context, id string) (core.Event, error) {
	return core.Event{ID: id, Source: "billing", Type: "invoice.created"}, nil
}

func (s *stubFacadeService) GetSubscription(_ context.Context, id string) (core.Subscription, error) {
	return core.Subscription{ID: id, ConnectionID: "conn_1"}, nil
}

func (s *stubFacadeService) GetDelivery(_ context.Context, id string) (core.Delivery, error) {
	return core.Delivery{ID: id, Status: core.DeliveryStatusDelivered}, nil
}

func (s *stubFacadeService) ListDeliveries(context.Context, core.DeliveryFilter) (core.DeliveryPage, error) {
	return core.DeliveryPage{Items: []core.Delivery{{ID: "del_1"}}, Total: 1}, nil
}

type stubFacadeProcessor struct {
	calls int
}

func (p *stubFacadeProcessor) ProcessNow(context.Context) {
	p.calls++
}
