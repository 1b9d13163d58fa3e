package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type eventRecord struct {
	bun.BaseModel `bun:"table:dispatch_events,alias:de"`

	ID              string         `bun:"id,pk"`
	Source          string         `bun:"source,notnull"`
	EventType       string         `bun:"event_type,notnull"`
	Subject         string         `bun:"subject"`
	DataContentType string         `bun:"data_content_type"`
	DataSchema      string         `bun:"data_schema"`
	Data            map[string]any `bun:"data,type:jsonb,notnull"`
	CronExpression  string         `bun:"cron_expression"`
	Status          string         `bun:"status,notnull"`
	OccurredAt      time.Time      `bun:"occurred_at,notnull"`
	CreatedAt       time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type subscriptionRecord struct {
	bun.BaseModel `bun:"table:dispatch_subscriptions,alias:ds"`

	ID           string         `bun:"id,pk"`
	ConnectionID string         `bun:"connection_id,notnull"`
	FilterSource string         `bun:"filter_source"`
	FilterType   string         `bun:"filter_type"`
	Status       string         `bun:"status,notnull"`
	Metadata     map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt    *time.Time     `bun:"deleted_at,soft_delete"`
}

type deliveryRecord struct {
	bun.BaseModel `bun:"table:dispatch_deliveries,alias:dd"`

	ID             string     `bun:"id,pk"`
	EventID        string     `bun:"event_id,notnull"`
	SubscriptionID string     `bun:"subscription_id,notnull"`
	Status         string     `bun:"status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	NextAttemptAt  *time.Time `bun:"next_attempt_at,nullzero"`
	WaveKey        string     `bun:"wave_key,notnull"`
	LastError      string     `bun:"last_error,notnull"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
