package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type stubNotifier struct {
	mu      sync.Mutex
	calls   []notifyCall
	results map[string]NotifyResult
	errs    map[string]error
}

type notifyCall struct {
	subscriberID string
	events       []EventEnvelope
}

func (n *stubNotifier) Notify(_ context.Context, subscriberID string, events []EventEnvelope) (NotifyResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{subscriberID: subscriberID, events: events})
	if err, ok := n.errs[subscriberID]; ok {
		return NotifyResult{}, err
	}
	if result, ok := n.results[subscriberID]; ok {
		return result, nil
	}
	return NotifyResult{Success: true}, nil
}

func (n *stubNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type stubDeliveryStore struct {
	mu sync.Mutex

	claimQueue [][]PendingDelivery
	claimErr   error

	stuckReset int

	delivered [][]string
	deferred  []deferredCall
	failed    []failedCall

	statusByEvent map[string]EventStatus
	statusCalls   []string

	matching    []Subscription
	matchingErr error

	created []createCall
}

type deferredCall struct {
	ids        []string
	retryAfter time.Duration
}

type failedCall struct {
	ids    []string
	cause  error
	policy FailurePolicy
}

type createCall struct {
	eventID         string
	subscriptionIDs []string
	scheduledAt     time.Time
}

func (s *stubDeliveryStore) ClaimPendingDeliveries(_ context.Context, batchSize int) ([]PendingDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if len(s.claimQueue) == 0 {
		return nil, nil
	}
	batch := s.claimQueue[0]
	s.claimQueue = s.claimQueue[1:]
	if len(batch) > batchSize {
		batch = batch[:batchSize]
	}
	return batch, nil
}

func (s *stubDeliveryStore) ResetStuckDeliveries(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stuckReset, nil
}

func (s *stubDeliveryStore) MarkDeliveriesDelivered(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, append([]string(nil), ids...))
	return nil
}

func (s *stubDeliveryStore) ScheduleRetryWithoutAttempt(_ context.Context, ids []string, retryAfter time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferred = append(s.deferred, deferredCall{ids: append([]string(nil), ids...), retryAfter: retryAfter})
	return nil
}

func (s *stubDeliveryStore) MarkDeliveriesFailed(_ context.Context, ids []string, cause error, policy FailurePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, failedCall{ids: append([]string(nil), ids...), cause: cause, policy: policy})
	return nil
}

func (s *stubDeliveryStore) UpdateEventStatus(_ context.Context, eventID string) (EventStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCalls = append(s.statusCalls, eventID)
	if status, ok := s.statusByEvent[eventID]; ok {
		return status, nil
	}
	return EventStatusDelivered, nil
}

func (s *stubDeliveryStore) GetMatchingSubscriptions(context.Context, Event) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matchingErr != nil {
		return nil, s.matchingErr
	}
	return append([]Subscription(nil), s.matching...), nil
}

func (s *stubDeliveryStore) CreateDeliveries(_ context.Context, eventID string, subscriptionIDs []string, scheduledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, createCall{
		eventID:         eventID,
		subscriptionIDs: append([]string(nil), subscriptionIDs...),
		scheduledAt:     scheduledAt,
	})
	return nil
}

func pendingDelivery(deliveryID, eventID, subscriptionID string) PendingDelivery {
	return PendingDelivery{
		Delivery: Delivery{
			ID:             deliveryID,
			EventID:        eventID,
			SubscriptionID: subscriptionID,
			Status:         DeliveryStatusProcessing,
		},
		Event: Event{
			ID:     eventID,
			Source: "billing",
			Type:   "invoice.created",
			Time:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Subscription: Subscription{
			ID:           subscriptionID,
			ConnectionID: "conn_" + subscriptionID,
			Status:       SubscriptionStatusActive,
		},
	}
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollIntervalMs: 60_000,
		BatchSize:      10,
		MaxAttempts:    3,
		RetryDelayMs:   1000,
		MaxDelayMs:     8000,
	}
}

func TestRunCycle_SuccessMarksGroupDelivered(t *testing.T) {
	store := &stubDeliveryStore{
		claimQueue: [][]PendingDelivery{{
			pendingDelivery("del_1", "evt_1", "sub_1"),
			pendingDelivery("del_2", "evt_1", "sub_1"),
		}},
	}
	notifier := &stubNotifier{}
	worker, err := NewDeliveryWorker(store, notifier, testWorkerConfig())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	stats, err := worker.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if stats.Claimed != 2 || stats.Groups != 1 || stats.Delivered != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if notifier.callCount() != 1 {
		t.Fatalf("expected one notify call per group, got %d", notifier.callCount())
	}
	if len(store.delivered) != 1 || len(store.delivered[0]) != 2 {
		t.Fatalf("expected both deliveries marked delivered: %+v", store.delivered)
	}
}

func TestRunCycle_BatchSizeLimitsClaim(t *testing.T) {
	batch := []PendingDelivery{
		pendingDelivery("del_1", "evt_1", "sub_1"),
		pendingDelivery("del_2", "evt_2", "sub_1"),
		pendingDelivery("del_3", "evt_3", "sub_1"),
		pendingDelivery("del_4", "evt_4", "sub_1"),
		pendingDelivery("del_5", "evt_5", "sub_1"),
	}
	store := &stubDeliveryStore{claimQueue: [][]PendingDelivery{batch}}
	notifier := &stubNotifier{}
	config := testWorkerConfig()
	config.BatchSize = 2

	worker, err := NewDeliveryWorker(store, notifier, config)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	stats, err := worker.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if stats.Claimed != 2 || stats.Groups != 1 || stats.Delivered != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if notifier.callCount() != 1 {
		t.Fatalf("expected one dispatch for the single group, got %d", notifier.callCount())
	}
	if len(notifier.calls[0].events) != 2 {
		t.Fatalf("expected 2 events in batch, got %d", len(notifier.calls[0].events))
	}
}

func TestRunCycle_SoftDeferKeepsAttemptBudget(t *testing.T) {
	store := &stubDeliveryStore{
		claimQueue: [][]PendingDelivery{{pendingDelivery("del_1", "evt_1", "sub_1")}},
		statusByEvent: map[string]EventStatus{
			"evt_1": EventStatusPending,
		},
	}
	notifier := &stubNotifier{
		results: map[string]NotifyResult{
			"conn_sub_1": {Success: false, RetryAfter: 30 * time.Second},
		},
	}
	worker, err := NewDeliveryWorker(store, notifier, testWorkerConfig())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	stats, err := worker.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if stats.Deferred != 1 || stats.Retried != 0 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(store.deferred) != 1 {
		t.Fatalf("expected one deferred call")
	}
	if store.deferred[0].retryAfter != 30*time.Second {
		t.Fatalf("expected retry after 30s, got %v", store.deferred[0].retryAfter)
	}
	if len(store.failed) != 0 {
		t.Fatalf("soft defer must not touch the failure path")
	}
}

func TestRunCycle_FailureAppliesPolicy(t *testing.T) {
	store := &stubDeliveryStore{
		claimQueue: [][]PendingDelivery{{pendingDelivery("del_1", "evt_1", "sub_1")}},
		statusByEvent: map[string]EventStatus{
			"evt_1": EventStatusPending,
		},
	}
	notifier := &stubNotifier{
		errs: map[string]error{
			"conn_sub_1": errors.New("connection refused"),
		},
	}
	config := testWorkerConfig()
	worker, err := NewDeliveryWorker(store, notifier, config)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	stats, err := worker.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if stats.Retried != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(store.failed) != 1 {
		t.Fatalf("expected one failed call")
	}
	call := store.failed[0]
	if call.policy.MaxAttempts != config.MaxAttempts {
		t.Fatalf("expected policy max attempts %d, got %d", config.MaxAttempts, call.policy.MaxAttempts)
	}
	if call.cause == nil || call.cause.Error() == "" {
		t.Fatalf("expected failure cause recorded")
	}
}

func TestRunCycle_GroupFailureIsolation(t *testing.T) {
	store := &stubDeliveryStore{
		claimQueue: [][]PendingDelivery{{
			pendingDelivery("del_1", "evt_1", "sub_bad"),
			pendingDelivery("del_2", "evt_2", "sub_good"),
		}},
		statusByEvent: map[string]EventStatus{
			"evt_1": EventStatusPending,
		},
	}
	notifier := &stubNotifier{
		errs: map[string]error{
			"conn_sub_bad": errors.New("boom"),
		},
	}
	worker, err := NewDeliveryWorker(store, notifier, testWorkerConfig())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	stats, err := worker.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if stats.Delivered != 1 {
		t.Fatalf("healthy group must still deliver: %+v", stats)
	}
	if stats.Retried != 1 {
		t.Fatalf("failing group must be retried: %+v", stats)
	}
	if notifier.callCount() != 2 {
		t.Fatalf("expected both groups dispatched, got %d calls", notifier.callCount())
	}
}

func TestRunCycle_ClaimErrorAbortsCycle(t *testing.T) {
	store := &stubDeliveryStore{claimErr: errors.New("db down")}
	worker, err := NewDeliveryWorker(store, &stubNotifier{}, testWorkerConfig())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if _, err := worker.RunCycle(context.Background()); err == nil {
		t.Fatalf("expected claim error to abort the cycle")
	}
	if len(store.delivered) != 0 || len(store.failed) != 0 {
		t.Fatalf("nothing may be dispatched after a claim failure")
	}
}

func TestRunCycle_CronContinuationSchedulesNextWave(t *testing.T) {
	item := pendingDelivery("del_1", "evt_cron", "sub_1")
	item.Event.CronExpression = "*/5 * * * *"
	store := &stubDeliveryStore{
		claimQueue: [][]PendingDelivery{{item}},
		statusByEvent: map[string]EventStatus{
			"evt_cron": EventStatusDelivered,
		},
		matching: []Subscription{{ID: "sub_1", ConnectionID: "conn_sub_1"}},
	}
	notifier := &stubNotifier{}
	fixed := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	worker, err := NewDeliveryWorker(store, notifier, testWorkerConfig(),
		WithWorkerClock(func() time.Time { return fixed }),
	)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	stats, err := worker.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if stats.Rescheduled != 1 {
		t.Fatalf("expected one rescheduled event: %+v", stats)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one create deliveries call")
	}
	want := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	if !store.created[0].scheduledAt.Equal(want) {
		t.Fatalf("expected next run at %v, got %v", want, store.created[0].scheduledAt)
	}
}

func TestRunCycle_CronSkipsWaveWithoutSubscribers(t *testing.T) {
	item := pendingDelivery("del_1", "evt_cron", "sub_1")
	item.Event.CronExpression = "*/5 * * * *"
	store := &stubDeliveryStore{
		claimQueue: [][]PendingDelivery{{item}},
		statusByEvent: map[string]EventStatus{
			"evt_cron": EventStatusDelivered,
		},
	}
	worker, err := NewDeliveryWorker(store, &stubNotifier{}, testWorkerConfig())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	stats, err := worker.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if stats.Rescheduled != 0 {
		t.Fatalf("expected no reschedule without subscribers: %+v", stats)
	}
	if len(store.created) != 0 {
		t.Fatalf("no deliveries may be created without matching subscriptions")
	}
}

func TestRunCycle_MalformedCronHaltsScheduleQuietly(t *testing.T) {
	item := pendingDelivery("del_1", "evt_cron", "sub_1")
	item.Event.CronExpression = "not a cron"
	store := &stubDeliveryStore{
		claimQueue: [][]PendingDelivery{{item}},
		statusByEvent: map[string]EventStatus{
			"evt_cron": EventStatusDelivered,
		},
		matching: []Subscription{{ID: "sub_1"}},
	}
	worker, err := NewDeliveryWorker(store, &stubNotifier{}, testWorkerConfig())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	stats, err := worker.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("malformed cron must not fail the cycle: %v", err)
	}
	if stats.Rescheduled != 0 || len(store.created) != 0 {
		t.Fatalf("malformed cron must halt the schedule: %+v", stats)
	}
}

func TestRunCycle_CronWaitsForWaveResolution(t *testing.T) {
	item := pendingDelivery("del_1", "evt_cron", "sub_1")
	item.Event.CronExpression = "*/5 * * * *"
	store := &stubDeliveryStore{
		claimQueue: [][]PendingDelivery{{item}},
		statusByEvent: map[string]EventStatus{
			"evt_cron": EventStatusPending,
		},
		matching: []Subscription{{ID: "sub_1"}},
	}
	worker, err := NewDeliveryWorker(store, &stubNotifier{}, testWorkerConfig())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	if _, err := worker.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(store.created) != 0 {
		t.Fatalf("next wave must wait until the current wave resolves")
	}
}

func TestStart_ResetsStuckDeliveriesBeforePolling(t *testing.T) {
	store := &stubDeliveryStore{stuckReset: 3}
	worker, err := NewDeliveryWorker(store, &stubNotifier{}, testWorkerConfig())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer worker.Stop()

	if !worker.Running() {
		t.Fatalf("expected running worker")
	}
	// Idempotent start.
	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
}

func TestStop_IsIdempotentAndHaltsLoop(t *testing.T) {
	worker, err := NewDeliveryWorker(&stubDeliveryStore{}, &stubNotifier{}, testWorkerConfig())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	worker.Stop()
	worker.Stop()
	if worker.Running() {
		t.Fatalf("expected stopped worker")
	}
}

func TestProcessNow_NoOpWhenStopped(t *testing.T) {
	store := &stubDeliveryStore{
		claimQueue: [][]PendingDelivery{{pendingDelivery("del_1", "evt_1", "sub_1")}},
	}
	notifier := &stubNotifier{}
	worker, err := NewDeliveryWorker(store, notifier, testWorkerConfig())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	worker.ProcessNow(context.Background())
	if notifier.callCount() != 0 {
		t.Fatalf("process-now on a stopped worker must be a no-op")
	}
}

func TestProcessNow_RunsCycleWhileRunning(t *testing.T) {
	store := &stubDeliveryStore{
		claimQueue: [][]PendingDelivery{
			nil, // first timer tick finds nothing
			{pendingDelivery("del_1", "evt_1", "sub_1")},
		},
	}
	notifier := &stubNotifier{}
	worker, err := NewDeliveryWorker(store, notifier, testWorkerConfig())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer worker.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for notifier.callCount() == 0 {
		worker.ProcessNow(context.Background())
		if time.Now().After(deadline) {
			t.Fatalf("expected process-now to dispatch the pending delivery")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatchGroups_PreservesClaimOrderWithinGroup(t *testing.T) {
	claimed := []PendingDelivery{
		pendingDelivery("del_1", "evt_1", "sub_1"),
		pendingDelivery("del_2", "evt_2", "sub_2"),
		pendingDelivery("del_3", "evt_3", "sub_1"),
	}
	groups := groupBySubscription(claimed)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	first := groups[0]
	if first.subscription.ID != "sub_1" {
		t.Fatalf("expected first-seen subscription first, got %s", first.subscription.ID)
	}
	if fmt.Sprint(first.deliveryIDs) != "[del_1 del_3]" {
		t.Fatalf("claim order not preserved: %v", first.deliveryIDs)
	}
}
