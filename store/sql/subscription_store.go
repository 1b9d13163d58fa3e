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

type SubscriptionStore struct {
	db   *bun.DB
	repo repository.Repository[*subscriptionRecord]
	now  func() time.Time
}

func NewSubscriptionStore(db *bun.DB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*subscriptionRecord](db, subscriptionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid subscription repository wiring: %w", err)
		}
	}
	return &SubscriptionStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *SubscriptionStore) CreateSubscription(ctx context.Context, in core.CreateSubscriptionInput) (core.Subscription, error) {
	if s == nil || s.repo == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	connectionID := strings.TrimSpace(in.ConnectionID)
	if connectionID == "" {
		return core.Subscription{}, fmt.Errorf("sqlstore: connection id is required")
	}

	now := s.now()
	record := &subscriptionRecord{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		FilterSource: strings.TrimSpace(in.Filter.Source),
		FilterType:   strings.TrimSpace(in.Filter.Type),
		Status:       string(core.SubscriptionStatusActive),
		Metadata:     copyAnyMap(in.Metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Subscription{}, err
	}
	return created.toDomain(), nil
}

func (s *SubscriptionStore) GetSubscription(ctx context.Context, id string) (core.Subscription, error) {
	if s == nil || s.repo == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Subscription{}, core.ErrSubscriptionNotFound
		}
		return core.Subscription{}, err
	}
	return record.toDomain(), nil
}

// ListActiveSubscriptions returns every active subscription in creation
// order. Event matching happens in process against this set.
func (s *SubscriptionStore) ListActiveSubscriptions(ctx context.Context) ([]core.Subscription, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(core.SubscriptionStatusActive)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Subscription, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// CancelSubscription flips the subscription to cancelled and soft-deletes
// it. Deliveries already created for it keep flowing; they belong to waves
// matched while the subscription was active.
func (s *SubscriptionStore) CancelSubscription(ctx context.Context, id string, reason string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: subscription id is required")
	}
	record, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrSubscriptionNotFound
		}
		return err
	}

	now := s.now()
	record.Status = string(core.SubscriptionStatusCancelled)
	record.UpdatedAt = now
	record.DeletedAt = &now
	record.Metadata = copyAnyMap(record.Metadata)
	if trimmedReason := strings.TrimSpace(reason); trimmedReason != "" {
		record.Metadata["cancel_reason"] = trimmedReason
		record.Metadata["cancelled_at"] = now.Format(time.RFC3339Nano)
	}

	_, err = s.db.NewUpdate().
		Model(record).
		Column("status", "metadata", "updated_at", "deleted_at").
		Where("id = ?", record.ID).
		Exec(ctx)
	return err
}

var _ core.SubscriptionStore = (*SubscriptionStore)(nil)
