package sqlstore

import (
	"strings"

	"github.com/goliatone/go-dispatch/core"
)

func (r *eventRecord) toDomain() core.Event {
	if r == nil {
		return core.Event{}
	}
	return core.Event{
		ID:              r.ID,
		Source:          r.Source,
		Type:            r.EventType,
		Subject:         r.Subject,
		DataContentType: r.DataContentType,
		DataSchema:      r.DataSchema,
		Data:            copyAnyMap(r.Data),
		CronExpression:  r.CronExpression,
		Status:          core.EventStatus(r.Status),
		Time:            r.OccurredAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func (r *subscriptionRecord) toDomain() core.Subscription {
	if r == nil {
		return core.Subscription{}
	}
	out := core.Subscription{
		ID:           r.ID,
		ConnectionID: r.ConnectionID,
		Filter: core.EventFilter{
			Source: r.FilterSource,
			Type:   r.FilterType,
		},
		Status:    core.SubscriptionStatus(r.Status),
		Metadata:  copyAnyMap(r.Metadata),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.DeletedAt != nil {
		value := *r.DeletedAt
		out.DeletedAt = &value
	}
	return out
}

func (r *deliveryRecord) toDomain() core.Delivery {
	if r == nil {
		return core.Delivery{}
	}
	out := core.Delivery{
		ID:             r.ID,
		EventID:        r.EventID,
		SubscriptionID: r.SubscriptionID,
		Status:         core.DeliveryStatus(r.Status),
		Attempts:       r.Attempts,
		LastError:      r.LastError,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.NextAttemptAt != nil {
		value := *r.NextAttemptAt
		out.NextAttemptAt = &value
	}
	return out
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
