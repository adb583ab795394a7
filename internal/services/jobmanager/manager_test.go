package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/models"
	"github.com/bobmcallan/provsync/internal/storage/memory"
)

// --- mocks ---

type mockSyncer struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func newMockSyncer() *mockSyncer {
	return &mockSyncer{calls: make(map[string]int)}
}

func (m *mockSyncer) SyncConnection(_ context.Context, connectionID string) (*models.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[connectionID]++
	if m.err != nil {
		return nil, m.err
	}
	return &models.SyncRun{ID: "run-" + connectionID, ConnectionID: connectionID, Phase: models.SyncPhaseDone}, nil
}

func (m *mockSyncer) count(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

type mockBalances struct {
	accounts []string
}

func (m *mockBalances) RecalculateBalances(_ context.Context, accountID string) error {
	m.accounts = append(m.accounts, accountID)
	return nil
}

func newTestManager(syncer *mockSyncer, balances *mockBalances) (*JobManager, *memory.Manager) {
	logger := common.NewSilentLogger()
	store := memory.NewManager(logger)
	cfg := common.JobManagerConfig{MaxConcurrent: 2, MaxRetries: 2, WatcherInterval: "1h", PurgeAfter: "1h"}
	jm := NewJobManager(syncer, nil, store, logger, cfg, time.Hour)
	if balances != nil {
		jm.balances = balances
	}
	jm.pollInterval = 10 * time.Millisecond
	return jm, store
}

func transient() error {
	return &models.ProviderError{Kind: models.ProviderErrorTransient, StatusCode: 503, Op: "list_accounts", Err: errors.New("unavailable")}
}

// --- tests ---

func TestEnqueue_DedupsPendingBySubject(t *testing.T) {
	jm, store := newTestManager(newMockSyncer(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := jm.Enqueue(ctx, models.JobTypeRecalculateBalances, map[string]string{"account_id": "acc-1"}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := jm.Enqueue(ctx, models.JobTypeRecalculateBalances, map[string]string{"account_id": "acc-2"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	n, err := store.JobQueueStore().CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pending jobs, got %d", n)
	}

	jobs, _ := store.JobQueueStore().ListBySubject(ctx, "acc-1")
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job for acc-1, got %d", len(jobs))
	}
	if jobs[0].Priority != models.PriorityRecalculateBalances {
		t.Errorf("expected default priority %d, got %d", models.PriorityRecalculateBalances, jobs[0].Priority)
	}
	if jobs[0].MaxAttempts != 2 {
		t.Errorf("expected MaxAttempts 2 from config, got %d", jobs[0].MaxAttempts)
	}
}

func TestEnqueue_RequiresSubject(t *testing.T) {
	jm, _ := newTestManager(newMockSyncer(), nil)
	if err := jm.Enqueue(context.Background(), models.JobTypeSyncConnection, map[string]string{}); err == nil {
		t.Fatal("expected error for job without subject")
	}
}

func TestRequestSync_JumpsTheQueue(t *testing.T) {
	jm, store := newTestManager(newMockSyncer(), nil)
	ctx := context.Background()

	if err := jm.Enqueue(ctx, models.JobTypeSyncConnection, map[string]string{"connection_id": "c-scheduled"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := jm.RequestSync(ctx, "c-manual"); err != nil {
		t.Fatalf("RequestSync failed: %v", err)
	}

	job, err := store.JobQueueStore().Dequeue(ctx)
	if err != nil || job == nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if job.Subject != "c-manual" {
		t.Errorf("expected manual sync first, got %s", job.Subject)
	}
}

func TestScanConnections_EnqueuesDueActiveConnections(t *testing.T) {
	jm, store := newTestManager(newMockSyncer(), nil)
	ctx := context.Background()

	conns := []*models.Connection{
		{ID: "never", Status: models.ConnectionStatusActive},
		{ID: "fresh", Status: models.ConnectionStatusActive, LastSyncedAt: time.Now().Add(-time.Minute)},
		{ID: "stale", Status: models.ConnectionStatusActive, LastSyncedAt: time.Now().Add(-2 * time.Hour)},
		{ID: "reauth", Status: models.ConnectionStatusRequiresUpdate},
	}
	for _, c := range conns {
		if err := store.ConnectionStore().Save(ctx, c); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	if got := jm.scanConnections(ctx); got != 2 {
		t.Errorf("expected 2 syncs enqueued, got %d", got)
	}
	// A second scan finds the pending jobs and adds nothing
	if got := jm.scanConnections(ctx); got != 0 {
		t.Errorf("expected 0 on rescan, got %d", got)
	}

	for _, id := range []string{"never", "stale"} {
		has, _ := store.JobQueueStore().HasActiveJob(ctx, models.JobTypeSyncConnection, id)
		if !has {
			t.Errorf("expected pending sync for %s", id)
		}
	}
}

func TestRunJob_RetriesTransientFailure(t *testing.T) {
	syncer := newMockSyncer()
	syncer.err = fmt.Errorf("import: %w", transient())
	jm, store := newTestManager(syncer, nil)
	ctx := context.Background()

	if _, err := jm.RequestSync(ctx, "c1"); err != nil {
		t.Fatalf("RequestSync failed: %v", err)
	}

	job, _ := store.JobQueueStore().Dequeue(ctx)
	jm.runJob(ctx, job)

	jobs, _ := store.JobQueueStore().ListBySubject(ctx, "c1")
	if len(jobs) != 1 || jobs[0].Status != models.JobStatusPending {
		t.Fatalf("expected job re-queued as pending, got %+v", jobs)
	}

	// Second attempt exhausts MaxAttempts = 2
	job, _ = store.JobQueueStore().Dequeue(ctx)
	jm.runJob(ctx, job)

	jobs, _ = store.JobQueueStore().ListBySubject(ctx, "c1")
	if jobs[0].Status != models.JobStatusFailed {
		t.Errorf("expected failed after max attempts, got %s", jobs[0].Status)
	}
	if syncer.count("c1") != 2 {
		t.Errorf("expected 2 sync attempts, got %d", syncer.count("c1"))
	}
}

func TestRunJob_UnauthorizedIsNotRetried(t *testing.T) {
	syncer := newMockSyncer()
	syncer.err = fmt.Errorf("sync: %w", models.ErrUnauthorized)
	jm, store := newTestManager(syncer, nil)
	ctx := context.Background()

	jm.RequestSync(ctx, "c1")
	job, _ := store.JobQueueStore().Dequeue(ctx)
	jm.runJob(ctx, job)

	jobs, _ := store.JobQueueStore().ListBySubject(ctx, "c1")
	if jobs[0].Status != models.JobStatusFailed {
		t.Errorf("expected failed, got %s", jobs[0].Status)
	}
}

func TestExecuteJob_Dispatch(t *testing.T) {
	balances := &mockBalances{}
	jm, _ := newTestManager(newMockSyncer(), balances)
	ctx := context.Background()

	err := jm.executeJob(ctx, &models.Job{JobType: models.JobTypeRecalculateBalances, Subject: "acc-1"})
	if err != nil {
		t.Fatalf("executeJob failed: %v", err)
	}
	if len(balances.accounts) != 1 || balances.accounts[0] != "acc-1" {
		t.Errorf("expected recalculation for acc-1, got %v", balances.accounts)
	}

	if err := jm.executeJob(ctx, &models.Job{JobType: "bogus"}); err == nil {
		t.Error("expected error for unknown job type")
	}
}

func TestExecuteJob_NoCalculatorIsNoop(t *testing.T) {
	jm, _ := newTestManager(newMockSyncer(), nil)
	if err := jm.executeJob(context.Background(), &models.Job{JobType: models.JobTypeRecalculateBalances, Subject: "acc-1"}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestCancelSubject(t *testing.T) {
	jm, store := newTestManager(newMockSyncer(), nil)
	ctx := context.Background()
	jm.RequestSync(ctx, "c1")

	n, err := jm.CancelSubject(ctx, "c1")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 cancelled, got %d (%v)", n, err)
	}
	if pending, _ := store.JobQueueStore().CountPending(ctx); pending != 0 {
		t.Errorf("expected empty queue, got %d", pending)
	}
}

func TestStartStop_ProcessesQueuedSyncs(t *testing.T) {
	syncer := newMockSyncer()
	jm, store := newTestManager(syncer, nil)
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		if _, err := jm.RequestSync(ctx, id); err != nil {
			t.Fatalf("RequestSync failed: %v", err)
		}
	}

	jm.Start()
	defer jm.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if syncer.count("c1") == 1 && syncer.count("c2") == 1 && syncer.count("c3") == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	for _, id := range []string{"c1", "c2", "c3"} {
		if syncer.count(id) != 1 {
			t.Errorf("expected %s synced once, got %d", id, syncer.count(id))
		}
	}

	jm.Stop()
	if pending, _ := store.JobQueueStore().CountPending(ctx); pending != 0 {
		t.Errorf("expected empty queue after processing, got %d", pending)
	}
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	jm, _ := newTestManager(newMockSyncer(), nil)
	jm.safeGo("panicker", func() { panic("boom") })
	jm.wg.Wait()
}

// slowSyncer records how many syncs of each connection overlap.
type slowSyncer struct {
	mu      sync.Mutex
	running map[string]int
	peak    map[string]int
	total   int
	delay   time.Duration
}

func (s *slowSyncer) SyncConnection(_ context.Context, connectionID string) (*models.SyncRun, error) {
	s.mu.Lock()
	s.running[connectionID]++
	s.total++
	if s.running[connectionID] > s.peak[connectionID] {
		s.peak[connectionID] = s.running[connectionID]
	}
	s.mu.Unlock()

	time.Sleep(s.delay)

	s.mu.Lock()
	s.running[connectionID]--
	s.mu.Unlock()
	return &models.SyncRun{ConnectionID: connectionID, Phase: models.SyncPhaseDone}, nil
}

func TestWatcher_NeverRunsOneConnectionTwiceAtOnce(t *testing.T) {
	logger := common.NewSilentLogger()
	store := memory.NewManager(logger)
	ctx := context.Background()
	if err := store.ConnectionStore().Save(ctx, &models.Connection{ID: "c1", Status: models.ConnectionStatusActive}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	syncer := &slowSyncer{running: map[string]int{}, peak: map[string]int{}, delay: 300 * time.Millisecond}
	cfg := common.JobManagerConfig{MaxConcurrent: 4, MaxRetries: 2, WatcherInterval: "50ms", PurgeAfter: "1h"}
	jm := NewJobManager(syncer, nil, store, logger, cfg, time.Hour)
	jm.pollInterval = 10 * time.Millisecond

	jm.Start()
	time.Sleep(time.Second)
	jm.Stop()

	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	if syncer.total == 0 {
		t.Fatal("expected c1 to be synced")
	}
	if syncer.peak["c1"] != 1 {
		t.Errorf("expected at most 1 concurrent sync of c1, got %d", syncer.peak["c1"])
	}
}

func TestEnqueue_RunningJobAbsorbsSubmission(t *testing.T) {
	jm, store := newTestManager(newMockSyncer(), nil)
	ctx := context.Background()

	if _, err := jm.RequestSync(ctx, "c1"); err != nil {
		t.Fatalf("RequestSync failed: %v", err)
	}
	if job, _ := store.JobQueueStore().Dequeue(ctx); job == nil {
		t.Fatal("expected a job")
	}

	added, err := jm.RequestSync(ctx, "c1")
	if err != nil {
		t.Fatalf("RequestSync failed: %v", err)
	}
	if added {
		t.Error("expected no new job while c1 is running")
	}
}

func TestScanConnections_BacksOffAfterFailedSync(t *testing.T) {
	syncer := newMockSyncer()
	syncer.err = fmt.Errorf("sync: %w", models.ErrUnauthorized)
	jm, store := newTestManager(syncer, nil)
	ctx := context.Background()

	if err := store.ConnectionStore().Save(ctx, &models.Connection{ID: "c1", Status: models.ConnectionStatusActive}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if got := jm.scanConnections(ctx); got != 1 {
		t.Fatalf("expected 1 sync enqueued, got %d", got)
	}
	job, _ := store.JobQueueStore().Dequeue(ctx)
	jm.runJob(ctx, job)

	if got := jm.scanConnections(ctx); got != 0 {
		t.Errorf("expected no re-enqueue within the sync interval after a failure, got %d", got)
	}

	// Past the interval the connection is due again
	if jm.recentlyFailed(ctx, "c1", time.Now().Add(2*time.Hour)) {
		t.Error("expected failure to age out after the sync interval")
	}
}

func TestSyncConnection_InProgressIsNotAFailure(t *testing.T) {
	syncer := newMockSyncer()
	syncer.err = fmt.Errorf("connection c1: %w", models.ErrSyncInProgress)
	jm, store := newTestManager(syncer, nil)
	ctx := context.Background()

	jm.RequestSync(ctx, "c1")
	job, _ := store.JobQueueStore().Dequeue(ctx)
	jm.runJob(ctx, job)

	jobs, _ := store.JobQueueStore().ListBySubject(ctx, "c1")
	if len(jobs) != 1 || jobs[0].Status != models.JobStatusCompleted {
		t.Errorf("expected completed job, got %+v", jobs)
	}
	if syncer.count("c1") != 1 {
		t.Errorf("expected no retry, got %d attempts", syncer.count("c1"))
	}
}
