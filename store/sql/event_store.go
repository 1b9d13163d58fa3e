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

type EventStore struct {
	db   *bun.DB
	repo repository.Repository[*eventRecord]
	now  func() time.Time
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*eventRecord](db, eventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid event repository wiring: %w", err)
		}
	}
	return &EventStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *EventStore) CreateEvent(ctx context.Context, event core.Event) (core.Event, error) {
	if s == nil || s.repo == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	if err := event.Validate(); err != nil {
		return core.Event{}, err
	}

	now := s.now()
	occurredAt := event.Time.UTC()
	if occurredAt.IsZero() {
		occurredAt = now
	}
	status := string(event.Status)
	if strings.TrimSpace(status) == "" {
		status = string(core.EventStatusPending)
	}
	record := &eventRecord{
		ID:              strings.TrimSpace(event.ID),
		Source:          strings.TrimSpace(event.Source),
		EventType:       strings.TrimSpace(event.Type),
		Subject:         strings.TrimSpace(event.Subject),
		DataContentType: strings.TrimSpace(event.DataContentType),
		DataSchema:      strings.TrimSpace(event.DataSchema),
		Data:            copyAnyMap(event.Data),
		CronExpression:  strings.TrimSpace(event.CronExpression),
		Status:          status,
		OccurredAt:      occurredAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Event{}, err
	}
	return created.toDomain(), nil
}

func (s *EventStore) GetEvent(ctx context.Context, id string) (core.Event, error) {
	if s == nil || s.repo == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Event{}, core.ErrEventNotFound
		}
		return core.Event{}, err
	}
	return record.toDomain(), nil
}

var _ core.EventStore = (*EventStore)(nil)
