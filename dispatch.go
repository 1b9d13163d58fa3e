// Package dispatch delivers published events to matching subscribers with
// at-least-once semantics: durable delivery records, batch claiming,
// capped exponential backoff, and cron-derived recurring waves.
package dispatch

import "github.com/goliatone/go-dispatch/core"

type Config = core.Config

type WorkerConfig = core.WorkerConfig

type Option = core.Option

type Service = core.Service

type DeliveryWorker = core.DeliveryWorker

type WorkerOption = core.WorkerOption

type Event = core.Event
type EventEnvelope = core.EventEnvelope
type EventFilter = core.EventFilter
type EventStatus = core.EventStatus
type Subscription = core.Subscription
type SubscriptionStatus = core.SubscriptionStatus
type Delivery = core.Delivery
type DeliveryStatus = core.DeliveryStatus
type PendingDelivery = core.PendingDelivery

type DeliveryStore = core.DeliveryStore
type EventStore = core.EventStore
type SubscriptionStore = core.SubscriptionStore
type DeliveryReader = core.DeliveryReader
type Notifier = core.Notifier
type NotifyResult = core.NotifyResult
type CronEvaluator = core.CronEvaluator
type MetricsRecorder = core.MetricsRecorder

type PublishEventRequest = core.PublishEventRequest
type CreateSubscriptionInput = core.CreateSubscriptionInput
type DeliveryFilter = core.DeliveryFilter
type DeliveryPage = core.DeliveryPage
type FailurePolicy = core.FailurePolicy

var (
	New               = core.New
	NewDeliveryWorker = core.NewDeliveryWorker

	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorMapper       = core.WithErrorMapper
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithEventStore        = core.WithEventStore
	WithSubscriptionStore = core.WithSubscriptionStore
	WithDeliveryReader    = core.WithDeliveryReader
	WithDeliveryStore     = core.WithDeliveryStore
	WithClock             = core.WithClock

	WithWorkerLogger  = core.WithWorkerLogger
	WithWorkerMetrics = core.WithWorkerMetrics
	WithCronEvaluator = core.WithCronEvaluator
	WithWorkerClock   = core.WithWorkerClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}
