package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// FailurePolicy is the backoff/permanent-failure policy the store applies
// when deliveries are marked failed: attempts below MaxAttempts reschedule
// to pending after min(RetryDelay * 2^attempts, MaxDelay); at MaxAttempts
// the delivery becomes terminally failed.
type FailurePolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
}

// DeliveryStore is the durable state behind the worker. Implementations
// must make ClaimPendingDeliveries a single atomic operation; cross-worker
// safety rests entirely on it.
type DeliveryStore interface {
	// ClaimPendingDeliveries atomically claims up to batchSize due pending
	// deliveries, transitioning them to processing in the same operation.
	ClaimPendingDeliveries(ctx context.Context, batchSize int) ([]PendingDelivery, error)

	// ResetStuckDeliveries returns processing deliveries to pending. Called
	// once at worker startup.
	ResetStuckDeliveries(ctx context.Context) (int, error)

	MarkDeliveriesDelivered(ctx context.Context, ids []string) error

	// ScheduleRetryWithoutAttempt returns deliveries to pending with
	// next_attempt_at = now + retryAfter, leaving the attempt count alone.
	ScheduleRetryWithoutAttempt(ctx context.Context, ids []string, retryAfter time.Duration) error

	// MarkDeliveriesFailed increments each delivery's attempt count and
	// applies policy: reschedule with capped exponential backoff, or mark
	// terminally failed with the cause recorded.
	MarkDeliveriesFailed(ctx context.Context, ids []string, cause error, policy FailurePolicy) error

	// UpdateEventStatus recomputes the event's aggregate status from its
	// deliveries, persists it, and returns it. Idempotent.
	UpdateEventStatus(ctx context.Context, eventID string) (EventStatus, error)

	GetMatchingSubscriptions(ctx context.Context, event Event) ([]Subscription, error)

	CreateDeliveries(ctx context.Context, eventID string, subscriptionIDs []string, scheduledAt time.Time) error
}

type NotifyResult struct {
	Success bool
	// RetryAfter > 0 on failure is a subscriber defer: retry later without
	// spending the attempt budget.
	RetryAfter time.Duration
	Error      string
}

// Notifier pushes a batch of events to one subscriber. Ordinary delivery
// failures should come back as Success=false rather than an error; a
// returned error is treated as Success=false with the error text.
type Notifier interface {
	Notify(ctx context.Context, subscriberID string, events []EventEnvelope) (NotifyResult, error)
}

// CronEvaluator computes the next run of a cron expression strictly after
// the given instant. ok=false means the schedule has ended.
type CronEvaluator interface {
	Next(expression string, after time.Time) (next time.Time, ok bool, err error)
}

type EventStore interface {
	CreateEvent(ctx context.Context, event Event) (Event, error)
	GetEvent(ctx context.Context, id string) (Event, error)
}

type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (Subscription, error)
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	CancelSubscription(ctx context.Context, id string, reason string) error
}

type DeliveryReader interface {
	GetDelivery(ctx context.Context, id string) (Delivery, error)
	ListDeliveries(ctx context.Context, filter DeliveryFilter) (DeliveryPage, error)
}

type CreateSubscriptionInput struct {
	ConnectionID string
	Filter       EventFilter
	Metadata     map[string]any
}

type DeliveryFilter struct {
	EventID        string
	SubscriptionID string
	Status         DeliveryStatus
	Limit          int
	Offset         int
}

type DeliveryPage struct {
	Items []Delivery
	Total int
}

type PublishEventRequest struct {
	Source          string
	Type            string
	Subject         string
	DataContentType string
	DataSchema      string
	Data            map[string]any
	CronExpression  string
	Time            time.Time
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
