package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Service is the intake surface in front of the delivery worker: it
// persists events, matches them against current subscriptions, and creates
// the initial delivery wave the worker will drain.
type Service struct {
	config        Config
	events        EventStore
	subscriptions SubscriptionStore
	deliveries    DeliveryReader
	store         DeliveryStore
	obs           observer
	errorMapper   ErrorMapper
	now           func() time.Time
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

// PublishEvent persists the event and creates one delivery per matching
// subscription. A recurring event must carry a parseable cron expression;
// the first wave is due immediately, later waves are derived by the worker
// once the current wave resolves.
func (s *Service) PublishEvent(ctx context.Context, req PublishEventRequest) (Event, error) {
	if s == nil || s.events == nil || s.store == nil {
		return Event{}, fmt.Errorf("core: dispatch service is not configured")
	}

	event := Event{
		Source:          strings.TrimSpace(req.Source),
		Type:            strings.TrimSpace(req.Type),
		Subject:         strings.TrimSpace(req.Subject),
		DataContentType: strings.TrimSpace(req.DataContentType),
		DataSchema:      strings.TrimSpace(req.DataSchema),
		Data:            cloneFields(req.Data),
		CronExpression:  strings.TrimSpace(req.CronExpression),
		Status:          EventStatusPending,
		Time:            req.Time.UTC(),
	}
	if event.Time.IsZero() || req.Time.IsZero() {
		event.Time = s.now()
	}
	if err := event.Validate(); err != nil {
		return Event{}, s.mapError(err)
	}
	if err := ValidateCronExpression(event.CronExpression); err != nil {
		return Event{}, s.mapError(err)
	}

	created, err := s.events.CreateEvent(ctx, event)
	if err != nil {
		return Event{}, s.mapError(err)
	}

	matched, err := s.store.GetMatchingSubscriptions(ctx, created)
	if err != nil {
		return Event{}, s.mapError(err)
	}
	if len(matched) == 0 {
		s.obs.logInfo(ctx, "event published with no matching subscriptions", map[string]any{
			"event_id": created.ID,
			"source":   created.Source,
			"type":     created.Type,
		})
		return created, nil
	}

	ids := make([]string, 0, len(matched))
	for _, subscription := range matched {
		ids = append(ids, subscription.ID)
	}
	if err := s.store.CreateDeliveries(ctx, created.ID, ids, s.now()); err != nil {
		return Event{}, s.mapError(err)
	}

	s.obs.logInfo(ctx, "event published", map[string]any{
		"event_id":      created.ID,
		"source":        created.Source,
		"type":          created.Type,
		"subscriptions": len(ids),
		"recurring":     created.Recurring(),
	})
	s.obs.recordCounter(ctx, "dispatch.events.published", 1, map[string]string{
		"source": created.Source,
		"type":   created.Type,
	})
	return created, nil
}

func (s *Service) Subscribe(ctx context.Context, in CreateSubscriptionInput) (Subscription, error) {
	if s == nil || s.subscriptions == nil {
		return Subscription{}, fmt.Errorf("core: dispatch service is not configured")
	}
	in.ConnectionID = strings.TrimSpace(in.ConnectionID)
	if in.ConnectionID == "" {
		return Subscription{}, s.mapError(fmt.Errorf("core: connection id is required"))
	}
	subscription, err := s.subscriptions.CreateSubscription(ctx, in)
	if err != nil {
		return Subscription{}, s.mapError(err)
	}
	s.obs.logInfo(ctx, "subscription created", map[string]any{
		"subscription_id": subscription.ID,
		"connection_id":   subscription.ConnectionID,
		"filter_source":   subscription.Filter.Source,
		"filter_type":     subscription.Filter.Type,
	})
	return subscription, nil
}

func (s *Service) CancelSubscription(ctx context.Context, id string, reason string) error {
	if s == nil || s.subscriptions == nil {
		return fmt.Errorf("core: dispatch service is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return s.mapError(fmt.Errorf("core: subscription id is required"))
	}
	if err := s.subscriptions.CancelSubscription(ctx, id, strings.TrimSpace(reason)); err != nil {
		return s.mapError(err)
	}
	s.obs.logInfo(ctx, "subscription cancelled", map[string]any{
		"subscription_id": id,
		"reason":          reason,
	})
	return nil
}

func (s *Service) GetEvent(ctx context.Context, id string) (Event, error) {
	if s == nil || s.events == nil {
		return Event{}, fmt.Errorf("core: dispatch service is not configured")
	}
	event, err := s.events.GetEvent(ctx, strings.TrimSpace(id))
	if err != nil {
		return Event{}, s.mapError(err)
	}
	return event, nil
}

func (s *Service) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	if s == nil || s.subscriptions == nil {
		return Subscription{}, fmt.Errorf("core: dispatch service is not configured")
	}
	subscription, err := s.subscriptions.GetSubscription(ctx, strings.TrimSpace(id))
	if err != nil {
		return Subscription{}, s.mapError(err)
	}
	return subscription, nil
}

func (s *Service) GetDelivery(ctx context.Context, id string) (Delivery, error) {
	if s == nil || s.deliveries == nil {
		return Delivery{}, fmt.Errorf("core: dispatch service is not configured")
	}
	delivery, err := s.deliveries.GetDelivery(ctx, strings.TrimSpace(id))
	if err != nil {
		return Delivery{}, s.mapError(err)
	}
	return delivery, nil
}

func (s *Service) ListDeliveries(ctx context.Context, filter DeliveryFilter) (DeliveryPage, error) {
	if s == nil || s.deliveries == nil {
		return DeliveryPage{}, fmt.Errorf("core: dispatch service is not configured")
	}
	page, err := s.deliveries.ListDeliveries(ctx, filter)
	if err != nil {
		return DeliveryPage{}, s.mapError(err)
	}
	return page, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return dispatchErrorMapper(err)
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

type ErrorMapper func(err error) *goerrors.Error
