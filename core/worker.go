package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// DeliveryWorker drives pending deliveries to their subscribers: it claims
// a batch from the store, groups by subscription, dispatches each group
// through the notifier, applies the result policy, reconciles event status,
// and re-derives the next wave for recurring events.
//
// A worker owns no cross-instance state; any number of workers may run
// against the same store, serialized only by the store's atomic claim.
type DeliveryWorker struct {
	store    DeliveryStore
	notifier Notifier
	cron     CronEvaluator
	config   WorkerConfig
	obs      observer
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

type WorkerOption func(*DeliveryWorker)

func WithWorkerLogger(logger Logger) WorkerOption {
	return func(w *DeliveryWorker) {
		if logger != nil {
			w.obs.logger = logger
		}
	}
}

func WithWorkerMetrics(recorder MetricsRecorder) WorkerOption {
	return func(w *DeliveryWorker) {
		if recorder != nil {
			w.obs.metrics = recorder
		}
	}
}

func WithCronEvaluator(evaluator CronEvaluator) WorkerOption {
	return func(w *DeliveryWorker) {
		if evaluator != nil {
			w.cron = evaluator
		}
	}
}

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *DeliveryWorker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewDeliveryWorker(
	store DeliveryStore,
	notifier Notifier,
	config WorkerConfig,
	options ...WorkerOption,
) (*DeliveryWorker, error) {
	if store == nil {
		return nil, fmt.Errorf("core: delivery store is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("core: notifier is required")
	}

	_, logger := glog.Resolve("dispatch.worker", nil, nil)
	worker := &DeliveryWorker{
		store:    store,
		notifier: notifier,
		cron:     StandardCronEvaluator{},
		config:   config.withDefaults(),
		obs:      observer{logger: logger, metrics: NopMetricsRecorder{}},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(worker)
	}
	return worker, nil
}

// Start recovers deliveries stranded in processing by a dead worker, then
// begins the poll loop. Calling Start on a running worker is a no-op.
func (w *DeliveryWorker) Start(ctx context.Context) error {
	if w == nil || w.store == nil {
		return fmt.Errorf("core: delivery worker is not configured")
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stop = make(chan struct{})
	stop := w.stop
	w.mu.Unlock()

	recovered, err := w.store.ResetStuckDeliveries(ctx)
	if err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("core: reset stuck deliveries: %w", err)
	}
	if recovered > 0 {
		w.obs.logInfo(ctx, "recovered stuck deliveries", map[string]any{
			"count": recovered,
		})
	}

	w.wg.Add(1)
	go w.pollLoop(ctx, stop)
	return nil
}

// Stop flips the running flag and cancels the pending tick. An in-flight
// cycle is allowed to finish; Stop blocks until the loop exits.
func (w *DeliveryWorker) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *DeliveryWorker) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// ProcessNow runs one cycle immediately, independent of the poll timer. It
// is a no-op when the worker is not running. Intended for low-latency
// side channels such as a storage notification hook.
func (w *DeliveryWorker) ProcessNow(ctx context.Context) {
	if w == nil || !w.Running() {
		return
	}
	w.runGuardedCycle(ctx)
}

func (w *DeliveryWorker) pollLoop(ctx context.Context, stop chan struct{}) {
	defer w.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			w.mu.Lock()
			if w.running {
				w.running = false
				close(w.stop)
			}
			w.mu.Unlock()
			return
		case <-timer.C:
		}

		w.runGuardedCycle(ctx)

		if !w.Running() {
			return
		}
		timer.Reset(w.config.PollInterval())
	}
}

// runGuardedCycle keeps the schedule alive: a cycle's failure is logged and
// absorbed, never propagated into the loop.
func (w *DeliveryWorker) runGuardedCycle(ctx context.Context) {
	defer func() {
		if recovered := recover(); recovered != nil {
			w.obs.logError(ctx, "delivery cycle panicked", map[string]any{
				"panic": fmt.Sprint(recovered),
			})
		}
	}()
	if _, err := w.RunCycle(ctx); err != nil {
		w.obs.logError(ctx, "delivery cycle failed", map[string]any{
			"error": err.Error(),
		})
	}
}

// CycleStats summarizes one claim-group-dispatch wave.
type CycleStats struct {
	Claimed     int
	Groups      int
	Delivered   int
	Deferred    int
	Retried     int
	Failed      int
	Rescheduled int
}

// RunCycle executes one wave: claim, group, dispatch, reconcile,
// reschedule. A claim failure aborts the cycle (nothing was taken); every
// later failure is isolated per group or per event and logged.
func (w *DeliveryWorker) RunCycle(ctx context.Context) (CycleStats, error) {
	if w == nil || w.store == nil || w.notifier == nil {
		return CycleStats{}, fmt.Errorf("core: delivery worker is not configured")
	}

	startedAt := w.now()
	claimed, err := w.store.ClaimPendingDeliveries(ctx, w.config.BatchSize)
	if err != nil {
		return CycleStats{}, fmt.Errorf("core: claim pending deliveries: %w", err)
	}
	stats := CycleStats{Claimed: len(claimed)}
	if len(claimed) == 0 {
		return stats, nil
	}

	groups := groupBySubscription(claimed)
	stats.Groups = len(groups)

	results := w.dispatchGroups(ctx, groups)
	for _, result := range results {
		stats.Delivered += result.delivered
		stats.Deferred += result.deferred
		stats.Retried += result.retried
		stats.Failed += result.failed
	}

	stats.Rescheduled = w.reconcileAndReschedule(ctx, claimed)

	w.observeCycle(ctx, startedAt, stats)
	return stats, nil
}

// deliveryGroup is one subscription's slice of the wave, in claim order.
type deliveryGroup struct {
	subscription Subscription
	deliveryIDs  []string
	events       []EventEnvelope
	attempts     int
}

func groupBySubscription(claimed []PendingDelivery) []*deliveryGroup {
	index := make(map[string]*deliveryGroup, len(claimed))
	groups := make([]*deliveryGroup, 0, len(claimed))
	for _, item := range claimed {
		key := strings.TrimSpace(item.Subscription.ID)
		group, ok := index[key]
		if !ok {
			group = &deliveryGroup{subscription: item.Subscription}
			index[key] = group
			groups = append(groups, group)
		}
		group.deliveryIDs = append(group.deliveryIDs, item.Delivery.ID)
		group.events = append(group.events, NewEventEnvelope(item.Event))
		if item.Delivery.Attempts > group.attempts {
			group.attempts = item.Delivery.Attempts
		}
	}
	return groups
}

type groupResult struct {
	delivered int
	deferred  int
	retried   int
	failed    int
}

// dispatchGroups fans out one notifier call per subscription group. Groups
// are disjoint delivery sets, so they run concurrently; one group's failure
// never touches another.
func (w *DeliveryWorker) dispatchGroups(ctx context.Context, groups []*deliveryGroup) []groupResult {
	results := make([]groupResult, len(groups))
	var wg sync.WaitGroup
	for i, group := range groups {
		wg.Add(1)
		go func(i int, group *deliveryGroup) {
			defer wg.Done()
			results[i] = w.dispatchGroup(ctx, group)
		}(i, group)
	}
	wg.Wait()
	return results
}

func (w *DeliveryWorker) dispatchGroup(ctx context.Context, group *deliveryGroup) groupResult {
	defer func() {
		if recovered := recover(); recovered != nil {
			w.obs.logError(ctx, "group dispatch panicked", map[string]any{
				"subscription_id": group.subscription.ID,
				"panic":           fmt.Sprint(recovered),
			})
		}
	}()

	result, err := w.notify(ctx, group)
	if err != nil {
		// A thrown call is a failure with the error text, same as
		// success=false without retryAfter.
		result = NotifyResult{Success: false, Error: err.Error()}
	}

	switch {
	case result.Success:
		if err := w.store.MarkDeliveriesDelivered(ctx, group.deliveryIDs); err != nil {
			w.obs.logError(ctx, "mark delivered failed", map[string]any{
				"subscription_id": group.subscription.ID,
				"error":           err.Error(),
			})
			return groupResult{}
		}
		return groupResult{delivered: len(group.deliveryIDs)}

	case result.RetryAfter > 0:
		// Subscriber backpressure: retry later without spending budget.
		if err := w.store.ScheduleRetryWithoutAttempt(ctx, group.deliveryIDs, result.RetryAfter); err != nil {
			w.obs.logError(ctx, "schedule deferred retry failed", map[string]any{
				"subscription_id": group.subscription.ID,
				"error":           err.Error(),
			})
			return groupResult{}
		}
		w.obs.logInfo(ctx, "deliveries deferred by subscriber", map[string]any{
			"subscription_id": group.subscription.ID,
			"count":           len(group.deliveryIDs),
			"retry_after":     result.RetryAfter.String(),
		})
		return groupResult{deferred: len(group.deliveryIDs)}

	default:
		cause := fmt.Errorf("core: notify subscriber %s: %s",
			group.subscription.ConnectionID, notifyErrorText(result))
		if err := w.store.MarkDeliveriesFailed(ctx, group.deliveryIDs, cause, w.config.FailurePolicy()); err != nil {
			w.obs.logError(ctx, "mark failed failed", map[string]any{
				"subscription_id": group.subscription.ID,
				"error":           err.Error(),
			})
			return groupResult{}
		}
		out := groupResult{}
		if group.attempts+1 >= w.config.MaxAttempts {
			out.failed = len(group.deliveryIDs)
		} else {
			out.retried = len(group.deliveryIDs)
		}
		w.obs.logInfo(ctx, "group dispatch failed", map[string]any{
			"subscription_id": group.subscription.ID,
			"count":           len(group.deliveryIDs),
			"error":           notifyErrorText(result),
		})
		return out
	}
}

func (w *DeliveryWorker) notify(ctx context.Context, group *deliveryGroup) (NotifyResult, error) {
	if timeout := w.config.NotifyTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return w.notifier.Notify(ctx, group.subscription.ConnectionID, group.events)
}

// reconcileAndReschedule recomputes the aggregate status of every event
// touched this wave and, for recurring events whose wave fully resolved,
// creates the next wave. Returns the number of events rescheduled.
func (w *DeliveryWorker) reconcileAndReschedule(ctx context.Context, claimed []PendingDelivery) int {
	events := distinctEvents(claimed)
	rescheduled := 0
	for _, event := range events {
		status, err := w.store.UpdateEventStatus(ctx, event.ID)
		if err != nil {
			w.obs.logError(ctx, "event status reconciliation failed", map[string]any{
				"event_id": event.ID,
				"error":    err.Error(),
			})
			continue
		}
		if !event.Recurring() || status == EventStatusPending {
			continue
		}
		if w.rescheduleCronEvent(ctx, event) {
			rescheduled++
		}
	}
	return rescheduled
}

// rescheduleCronEvent derives the next run and creates deliveries for the
// subscriptions matching *now*; the match set may have changed since the
// event was created. No matches is not an error, the schedule resumes when
// a later wave finds matches again.
func (w *DeliveryWorker) rescheduleCronEvent(ctx context.Context, event Event) bool {
	next, ok, err := w.cron.Next(event.CronExpression, w.now())
	if err != nil {
		w.obs.logError(ctx, "cron expression rejected, schedule halted", map[string]any{
			"event_id": event.ID,
			"cron":     event.CronExpression,
			"error":    err.Error(),
		})
		return false
	}
	if !ok {
		w.obs.logInfo(ctx, "recurring schedule ended", map[string]any{
			"event_id": event.ID,
			"cron":     event.CronExpression,
		})
		return false
	}

	subscriptions, err := w.store.GetMatchingSubscriptions(ctx, event)
	if err != nil {
		w.obs.logError(ctx, "matching subscriptions lookup failed", map[string]any{
			"event_id": event.ID,
			"error":    err.Error(),
		})
		return false
	}
	if len(subscriptions) == 0 {
		w.obs.logInfo(ctx, "no matching subscriptions, skipping run", map[string]any{
			"event_id": event.ID,
			"next_run": next.Format(time.RFC3339),
		})
		return false
	}

	ids := make([]string, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		ids = append(ids, subscription.ID)
	}
	if err := w.store.CreateDeliveries(ctx, event.ID, ids, next); err != nil {
		w.obs.logError(ctx, "create next wave failed", map[string]any{
			"event_id": event.ID,
			"error":    err.Error(),
		})
		return false
	}
	w.obs.logInfo(ctx, "next wave scheduled", map[string]any{
		"event_id":      event.ID,
		"subscriptions": len(ids),
		"next_run":      next.Format(time.RFC3339),
	})
	return true
}

func distinctEvents(claimed []PendingDelivery) []Event {
	seen := make(map[string]struct{}, len(claimed))
	events := make([]Event, 0, len(claimed))
	for _, item := range claimed {
		id := strings.TrimSpace(item.Event.ID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		events = append(events, item.Event)
	}
	return events
}

func (w *DeliveryWorker) observeCycle(ctx context.Context, startedAt time.Time, stats CycleStats) {
	tags := map[string]string{"worker": "delivery"}
	w.obs.recordCounter(ctx, "dispatch.cycle.claimed", int64(stats.Claimed), tags)
	w.obs.recordCounter(ctx, "dispatch.cycle.delivered", int64(stats.Delivered), tags)
	w.obs.recordCounter(ctx, "dispatch.cycle.deferred", int64(stats.Deferred), tags)
	w.obs.recordCounter(ctx, "dispatch.cycle.retried", int64(stats.Retried), tags)
	w.obs.recordCounter(ctx, "dispatch.cycle.failed", int64(stats.Failed), tags)
	w.obs.recordHistogram(ctx, "dispatch.cycle.duration_ms",
		float64(time.Since(startedAt).Milliseconds()), tags)

	w.obs.logInfo(ctx, "delivery cycle completed", map[string]any{
		"claimed":     stats.Claimed,
		"groups":      stats.Groups,
		"delivered":   stats.Delivered,
		"deferred":    stats.Deferred,
		"retried":     stats.Retried,
		"failed":      stats.Failed,
		"rescheduled": stats.Rescheduled,
		"duration_ms": time.Since(startedAt).Milliseconds(),
	})
}

func notifyErrorText(result NotifyResult) string {
	if trimmed := strings.TrimSpace(result.Error); trimmed != "" {
		return trimmed
	}
	return "subscriber rejected delivery"
}
