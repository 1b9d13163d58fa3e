package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	deliveryStatusPending    = "pending"
	deliveryStatusProcessing = "processing"
	deliveryStatusDelivered  = "delivered"
	deliveryStatusFailed     = "failed"
)

// DeliveryStore is the bun-backed core.DeliveryStore. The claim runs as a
// single CTE-driven UPDATE inside a transaction, so concurrent workers
// never see the same pending row.
type DeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*deliveryRecord]
	now  func() time.Time
}

type DeliveryStoreOption func(*DeliveryStore)

// WithDeliveryStoreClock overrides the store clock. Tests use it to pin
// claim windows and retry schedules.
func WithDeliveryStoreClock(now func() time.Time) DeliveryStoreOption {
	return func(s *DeliveryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewDeliveryStore(db *bun.DB, options ...DeliveryStoreOption) (*DeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryRecord](db, deliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery repository wiring: %w", err)
		}
	}
	store := &DeliveryStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	return store, nil
}

func (s *DeliveryStore) ClaimPendingDeliveries(ctx context.Context, batchSize int) ([]core.PendingDelivery, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	now := s.now()

	var records []deliveryRecord
	var events []eventRecord
	var subscriptions []subscriptionRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM dispatch_deliveries
	WHERE status = ?
	  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
	ORDER BY created_at ASC
	LIMIT ?
)
UPDATE dispatch_deliveries
SET status = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status = ?
RETURNING
	id,
	event_id,
	subscription_id,
	status,
	attempts,
	next_attempt_at,
	last_error,
	created_at,
	updated_at
`
		if err := tx.NewRaw(
			query,
			deliveryStatusPending,
			now,
			batchSize,
			deliveryStatusProcessing,
			now,
			deliveryStatusPending,
		).Scan(ctx, &records); err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		eventIDs := make([]string, 0, len(records))
		subscriptionIDs := make([]string, 0, len(records))
		seenEvents := map[string]struct{}{}
		seenSubscriptions := map[string]struct{}{}
		for _, record := range records {
			if _, ok := seenEvents[record.EventID]; !ok {
				seenEvents[record.EventID] = struct{}{}
				eventIDs = append(eventIDs, record.EventID)
			}
			if _, ok := seenSubscriptions[record.SubscriptionID]; !ok {
				seenSubscriptions[record.SubscriptionID] = struct{}{}
				subscriptionIDs = append(subscriptionIDs, record.SubscriptionID)
			}
		}

		if err := tx.NewSelect().
			Model(&events).
			Where("?TableAlias.id IN (?)", bun.In(eventIDs)).
			Scan(ctx); err != nil {
			return err
		}
		return tx.NewSelect().
			Model(&subscriptions).
			Where("?TableAlias.id IN (?)", bun.In(subscriptionIDs)).
			Scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	eventsByID := make(map[string]core.Event, len(events))
	for i := range events {
		eventsByID[events[i].ID] = (&events[i]).toDomain()
	}
	subscriptionsByID := make(map[string]core.Subscription, len(subscriptions))
	for i := range subscriptions {
		subscriptionsByID[subscriptions[i].ID] = (&subscriptions[i]).toDomain()
	}

	out := make([]core.PendingDelivery, 0, len(records))
	for i := range records {
		record := &records[i]
		out = append(out, core.PendingDelivery{
			Delivery:     record.toDomain(),
			Event:        eventsByID[record.EventID],
			Subscription: subscriptionsByID[record.SubscriptionID],
		})
	}
	return out, nil
}

// ResetStuckDeliveries returns every processing row to pending. Processing
// never survives a worker, so anything found here belonged to a dead one.
func (s *DeliveryStore) ResetStuckDeliveries(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*deliveryRecord)(nil)).
		Set("status = ?", deliveryStatusPending).
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("status = ?", deliveryStatusProcessing).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *DeliveryStore) MarkDeliveriesDelivered(ctx context.Context, ids []string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery store is not configured")
	}
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.NewUpdate().
		Model((*deliveryRecord)(nil)).
		Set("status = ?", deliveryStatusDelivered).
		Set("last_error = ?", "").
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("id IN (?)", bun.In(ids)).
		Where("status = ?", deliveryStatusProcessing).
		Exec(ctx)
	return err
}

func (s *DeliveryStore) ScheduleRetryWithoutAttempt(ctx context.Context, ids []string, retryAfter time.Duration) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery store is not configured")
	}
	if len(ids) == 0 {
		return nil
	}
	if retryAfter < 0 {
		retryAfter = 0
	}
	next := s.now().Add(retryAfter)
	_, err := s.db.NewUpdate().
		Model((*deliveryRecord)(nil)).
		Set("status = ?", deliveryStatusPending).
		Set("next_attempt_at = ?", next).
		Set("updated_at = ?", s.now()).
		Where("id IN (?)", bun.In(ids)).
		Where("status = ?", deliveryStatusProcessing).
		Exec(ctx)
	return err
}

func (s *DeliveryStore) MarkDeliveriesFailed(ctx context.Context, ids []string, cause error, policy core.FailurePolicy) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery store is not configured")
	}
	if len(ids) == 0 {
		return nil
	}
	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := core.ExponentialBackoffScheduler{
		Initial: policy.RetryDelay,
		Max:     policy.MaxDelay,
	}
	now := s.now()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var records []deliveryRecord
		if err := tx.NewSelect().
			Model(&records).
			Where("?TableAlias.id IN (?)", bun.In(ids)).
			Where("?TableAlias.status = ?", deliveryStatusProcessing).
			Scan(ctx); err != nil {
			return err
		}

		for i := range records {
			record := &records[i]
			attempts := record.Attempts + 1
			status := deliveryStatusPending
			var next *time.Time
			if attempts >= maxAttempts {
				status = deliveryStatusFailed
			} else {
				value := now.Add(backoff.NextDelay(attempts))
				next = &value
			}
			if _, err := tx.NewUpdate().
				Model((*deliveryRecord)(nil)).
				Set("status = ?", status).
				Set("attempts = ?", attempts).
				Set("next_attempt_at = ?", next).
				Set("last_error = ?", lastError).
				Set("updated_at = ?", now).
				Where("id = ?", record.ID).
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateEventStatus recomputes the aggregate from the event's deliveries
// and persists it. Safe to call repeatedly for the same event.
func (s *DeliveryStore) UpdateEventStatus(ctx context.Context, eventID string) (core.EventStatus, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("sqlstore: delivery store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", fmt.Errorf("sqlstore: event id is required")
	}

	var status core.EventStatus
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var records []deliveryRecord
		if err := tx.NewSelect().
			Model(&records).
			Where("?TableAlias.event_id = ?", eventID).
			Scan(ctx); err != nil {
			return err
		}
		deliveries := make([]core.Delivery, 0, len(records))
		for i := range records {
			deliveries = append(deliveries, (&records[i]).toDomain())
		}
		status = core.AggregateEventStatus(deliveries)

		_, err := tx.NewUpdate().
			Model((*eventRecord)(nil)).
			Set("status = ?", string(status)).
			Set("updated_at = ?", s.now()).
			Where("id = ?", eventID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// GetMatchingSubscriptions loads the active subscriptions and applies the
// filter in process; the wildcard semantics live in core.EventFilter, not
// in SQL.
func (s *DeliveryStore) GetMatchingSubscriptions(ctx context.Context, event core.Event) ([]core.Subscription, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	var records []subscriptionRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(core.SubscriptionStatusActive)).
		Where("?TableAlias.deleted_at IS NULL").
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]core.Subscription, 0, len(records))
	for i := range records {
		subscription := (&records[i]).toDomain()
		if subscription.Filter.Matches(event) {
			out = append(out, subscription)
		}
	}
	return out, nil
}

func (s *DeliveryStore) CreateDeliveries(ctx context.Context, eventID string, subscriptionIDs []string, scheduledAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	if len(subscriptionIDs) == 0 {
		return nil
	}
	now := s.now()
	due := scheduledAt.UTC()
	if due.IsZero() {
		due = now
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, subscriptionID := range subscriptionIDs {
			subscriptionID = strings.TrimSpace(subscriptionID)
			if subscriptionID == "" {
				continue
			}
			next := due
			record := &deliveryRecord{
				ID:             uuid.NewString(),
				EventID:        eventID,
				SubscriptionID: subscriptionID,
				Status:         deliveryStatusPending,
				Attempts:       0,
				NextAttemptAt:  &next,
				WaveKey:        due.Format(time.RFC3339Nano),
				LastError:      "",
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			// The same wave may be derived twice by racing workers; the
			// wave uniqueness index absorbs the duplicate insert. The key
			// is fixed at insert time, so retry reschedules that land on
			// another wave's timestamp never trip it.
			if _, err := tx.NewInsert().
				Model(record).
				On("CONFLICT DO NOTHING").
				Exec(ctx); err != nil {
				if isUniqueViolation(err) {
					continue
				}
				return err
			}
		}
		return nil
	})
}

func (s *DeliveryStore) GetDelivery(ctx context.Context, id string) (core.Delivery, error) {
	if s == nil || s.repo == nil {
		return core.Delivery{}, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Delivery{}, core.ErrDeliveryNotFound
		}
		return core.Delivery{}, err
	}
	return record.toDomain(), nil
}

func (s *DeliveryStore) ListDeliveries(ctx context.Context, filter core.DeliveryFilter) (core.DeliveryPage, error) {
	if s == nil || s.repo == nil {
		return core.DeliveryPage{}, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 25
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, offset),
	}
	if eventID := strings.TrimSpace(filter.EventID); eventID != "" {
		selectors = append(selectors, repository.SelectBy("event_id", "=", eventID))
	}
	if subscriptionID := strings.TrimSpace(filter.SubscriptionID); subscriptionID != "" {
		selectors = append(selectors, repository.SelectBy("subscription_id", "=", subscriptionID))
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", status))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.DeliveryPage{}, err
	}
	items := make([]core.Delivery, 0, len(records))
	for _, record := range records {
		items = append(items, record.toDomain())
	}
	return core.DeliveryPage{Items: items, Total: total}, nil
}

var _ core.DeliveryStore = (*DeliveryStore)(nil)
var _ core.DeliveryReader = (*DeliveryStore)(nil)
