package gojob

import (
	"context"
	"fmt"
	"strings"

	dispatchcommand "github.com/goliatone/go-dispatch/command"
	"github.com/goliatone/go-dispatch/core"
)

// EventPublisher is the slice of the mutating service the runner needs to
// execute publish jobs arriving through the queue.
type EventPublisher interface {
	PublishEvent(ctx context.Context, req core.PublishEventRequest) (core.Event, error)
}

// Runner drains dispatch jobs from a queue: a process-deliveries message
// triggers an immediate worker cycle, a publish message creates an event.
// Anything else is dead-lettered.
type Runner struct {
	dequeuer  core.JobDequeuer
	processor dispatchcommand.DeliveryProcessor
	publisher EventPublisher
}

type RunnerOption func(*Runner)

// WithEventPublisher enables the runner to execute publish-event jobs.
func WithEventPublisher(publisher EventPublisher) RunnerOption {
	return func(r *Runner) {
		if publisher != nil {
			r.publisher = publisher
		}
	}
}

func NewRunner(dequeuer core.JobDequeuer, processor dispatchcommand.DeliveryProcessor, options ...RunnerOption) (*Runner, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	if processor == nil {
		return nil, fmt.Errorf("gojob: delivery processor is not configured")
	}
	runner := &Runner{dequeuer: dequeuer, processor: processor}
	for _, option := range options {
		if option != nil {
			option(runner)
		}
	}
	return runner, nil
}

// NewProcessDeliveriesJob builds the enqueue-side message that asks a
// worker to run a delivery cycle right away.
func NewProcessDeliveriesJob(idempotencyKey string) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:          JobIDProcessDeliveries,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
		DedupPolicy:    "drop",
	}
}

// NewPublishEventJob carries an event publication through the queue.
func NewPublishEventJob(req core.PublishEventRequest, idempotencyKey string) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID: JobIDPublishEvent,
		Parameters: map[string]any{
			"source":            strings.TrimSpace(req.Source),
			"type":              strings.TrimSpace(req.Type),
			"subject":           strings.TrimSpace(req.Subject),
			"data_content_type": strings.TrimSpace(req.DataContentType),
			"data_schema":       strings.TrimSpace(req.DataSchema),
			"data":              req.Data,
			"cron_expression":   strings.TrimSpace(req.CronExpression),
		},
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}
}

// RunOnce dequeues a single job and executes it, acking on success. A nil
// delivery from the dequeuer means the queue was empty.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r == nil || r.dequeuer == nil || r.processor == nil {
		return fmt.Errorf("gojob: runner is not configured")
	}
	delivery, err := r.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     "empty execution message",
		})
	}

	switch strings.TrimSpace(msg.JobID) {
	case JobIDProcessDeliveries:
		r.processor.ProcessNow(ctx)
		return delivery.Ack(ctx)
	case JobIDPublishEvent:
		if r.publisher == nil {
			return delivery.Nack(ctx, core.JobNackOptions{
				DeadLetter: true,
				Reason:     "event publisher is not configured",
			})
		}
		if _, err := r.publisher.PublishEvent(ctx, publishRequestFromParameters(msg.Parameters)); err != nil {
			return delivery.Nack(ctx, core.JobNackOptions{
				Requeue: true,
				Reason:  err.Error(),
			})
		}
		return delivery.Ack(ctx)
	default:
		return delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     fmt.Sprintf("unhandled job %q", msg.JobID),
		})
	}
}

func publishRequestFromParameters(params map[string]any) core.PublishEventRequest {
	req := core.PublishEventRequest{
		Source:          parameterString(params, "source"),
		Type:            parameterString(params, "type"),
		Subject:         parameterString(params, "subject"),
		DataContentType: parameterString(params, "data_content_type"),
		DataSchema:      parameterString(params, "data_schema"),
		CronExpression:  parameterString(params, "cron_expression"),
	}
	if data, ok := params["data"].(map[string]any); ok {
		req.Data = data
	}
	return req
}

func parameterString(params map[string]any, key string) string {
	value, _ := params[key].(string)
	return strings.TrimSpace(value)
}
