package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
	"github.com/bobmcallan/provsync/internal/services/linker"
	"github.com/bobmcallan/provsync/internal/storage/memory"
)

// --- fakes ---

type recordingRuns struct {
	interfaces.SyncRunStore
	mu     sync.Mutex
	phases []string
	status []string
}

func (r *recordingRuns) Save(ctx context.Context, run *models.SyncRun) error {
	r.mu.Lock()
	r.phases = append(r.phases, run.Phase)
	r.status = append(r.status, run.Status)
	r.mu.Unlock()
	return r.SyncRunStore.Save(ctx, run)
}

type recordingStorage struct {
	*memory.Manager
	runs *recordingRuns
}

func (s *recordingStorage) SyncRunStore() interfaces.SyncRunStore { return s.runs }

func newStorage() *recordingStorage {
	m := memory.NewManager(common.NewSilentLogger())
	return &recordingStorage{Manager: m, runs: &recordingRuns{SyncRunStore: m.SyncRunStore()}}
}

type fakeImporter struct {
	result *models.ImportResult
	err    error
}

func (f *fakeImporter) Import(context.Context, *models.Connection) (*models.ImportResult, error) {
	return f.result, f.err
}

type fakeStages struct {
	mu         sync.Mutex
	failOn     map[string]error
	created    int
	holdings   int
	processed  []string
	reconciled []string
	unmapped   []string
}

func (f *fakeStages) ProcessHoldings(_ context.Context, pa *models.ProviderAccount) (*models.HoldingsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[pa.ExternalID]; err != nil {
		return nil, err
	}
	return &models.HoldingsResult{Upserted: f.holdings}, nil
}

func (f *fakeStages) ProcessActivities(_ context.Context, pa *models.ProviderAccount) (*models.ActivityResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, pa.ExternalID)
	return &models.ActivityResult{TransactionsCreated: f.created, Unmapped: f.unmapped}, nil
}

func (f *fakeStages) Reconcile(_ context.Context, pa *models.ProviderAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled = append(f.reconciled, pa.ExternalID)
	return nil
}

type fakeHook struct{ calls int }

func (h *fakeHook) PostSync(context.Context, *models.Connection) error {
	h.calls++
	return errors.New("cleanup failed")
}

type fakeSubmitter struct {
	mu   sync.Mutex
	jobs []map[string]string
	kind []string
	err  error
}

func (s *fakeSubmitter) Enqueue(_ context.Context, kind string, payload map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.kind = append(s.kind, kind)
	s.jobs = append(s.jobs, payload)
	return nil
}

// --- helpers ---

type fixture struct {
	store     *recordingStorage
	conn      *models.Connection
	stages    *fakeStages
	importer  *fakeImporter
	hook      *fakeHook
	submitter *fakeSubmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     newStorage(),
		conn:      &models.Connection{ID: "c1", Provider: "bank", Status: models.ConnectionStatusActive},
		stages:    &fakeStages{failOn: map[string]error{}},
		importer:  &fakeImporter{result: &models.ImportResult{TransactionsImported: 4}},
		hook:      &fakeHook{},
		submitter: &fakeSubmitter{},
	}
	require.NoError(t, f.store.ConnectionStore().Save(context.Background(), f.conn))
	return f
}

func (f *fixture) syncer(inactivity common.InactivityConfig) *Syncer {
	logger := common.NewSilentLogger()
	return New(f.store, linker.NewService(f.store, logger), Pipeline{
		Importer:   f.importer,
		Activities: f.stages,
		Holdings:   f.stages,
		Reconciler: f.stages,
		Hook:       f.hook,
	}, f.submitter, inactivity, logger)
}

func (f *fixture) addAccount(t *testing.T, ext, accountID string) *models.ProviderAccount {
	t.Helper()
	ctx := context.Background()
	if accountID != "" {
		require.NoError(t, f.store.AccountStore().Save(ctx, &models.Account{ID: accountID, Name: ext}))
	}
	pa := &models.ProviderAccount{ConnectionID: f.conn.ID, ExternalID: ext, AccountID: accountID}
	require.NoError(t, f.store.ProviderAccountStore().Create(ctx, pa))
	return pa
}

// --- tests ---

func TestSync_PhasesAndStats(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "ext-1", "acc-1")
	f.addAccount(t, "ext-2", "")
	f.stages.created = 2
	f.stages.unmapped = []string{"MYSTERY"}

	run, err := f.syncer(common.InactivityConfig{}).Sync(context.Background(), f.conn)
	require.NoError(t, err)

	assert.Equal(t, models.SyncPhaseDone, run.Phase)
	assert.Equal(t, "Sync complete", run.Status)
	assert.False(t, run.CompletedAt.IsZero())
	assert.Equal(t, []string{
		models.SyncPhaseImporting,
		models.SyncPhaseCheckingConfiguration,
		models.SyncPhaseProcessing,
		models.SyncPhaseScheduling,
		models.SyncPhaseDone,
	}, f.store.runs.phases)

	assert.Equal(t, 4, run.Stats["transactions_imported"])
	assert.Equal(t, 1, run.Stats["accounts_linked"])
	assert.Equal(t, 1, run.Stats["accounts_unlinked"])
	assert.Equal(t, 1, run.Stats["accounts_processed"])
	assert.Equal(t, 1, run.Stats["accounts_skipped"])
	assert.Equal(t, 2, run.Stats["transactions_created"])
	assert.Equal(t, []string{"MYSTERY"}, run.Stats["unmapped_activity_types"])
	assert.Equal(t, 1, run.Stats["recalculations_scheduled"])

	assert.Equal(t, []string{"ext-1"}, f.stages.processed, "unlinked accounts are never processed")
	assert.Equal(t, []string{models.JobTypeRecalculateBalances}, f.submitter.kind)
	assert.Equal(t, "acc-1", f.submitter.jobs[0]["account_id"])
	assert.Equal(t, 1, f.hook.calls)

	conn, err := f.store.ConnectionStore().Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, conn.PendingSetup)
	assert.False(t, conn.LastSyncedAt.IsZero())

	stored, err := f.store.SyncRunStore().Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncPhaseDone, stored.Phase)
}

func TestSync_PartialFailureIsolation(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		f.addAccount(t, fmt.Sprintf("ext-%d", i), fmt.Sprintf("acc-%d", i))
	}
	f.stages.failOn["ext-2"] = errors.New("boom: malformed holding")

	run, err := f.syncer(common.InactivityConfig{}).Sync(context.Background(), f.conn)
	require.NoError(t, err)

	assert.Equal(t, models.SyncPhaseDone, run.Phase)
	assert.Equal(t, 1, run.Stats["accounts_failed"])
	assert.Equal(t, 2, run.Stats["accounts_processed"])
	assert.Equal(t, []string{"ext-1", "ext-3"}, f.stages.reconciled)
	assert.Contains(t, run.Status, "1 account(s) failed")

	errs, ok := run.Stats["errors"].([]string)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.NotContains(t, errs[0], "boom")
	assert.Len(t, f.submitter.jobs, 2)
}

func TestSync_ImportFailurePersistsStats(t *testing.T) {
	f := newFixture(t)
	f.importer.result = &models.ImportResult{AccountsUpdated: 1, TransactionsImported: 3}
	f.importer.err = errors.New("failed to list accounts: connection reset by peer")

	run, err := f.syncer(common.InactivityConfig{}).Sync(context.Background(), f.conn)
	require.Error(t, err)

	assert.Equal(t, models.SyncPhaseFailed, run.Phase)
	assert.Equal(t, "Sync failed while importing", run.Status)
	assert.NotContains(t, run.Status, "reset by peer")
	assert.Equal(t, models.SyncPhaseImporting, run.Stats["failed_phase"])
	assert.Equal(t, 1, f.hook.calls, "post-sync hook runs on failure too")

	stored, err := f.store.SyncRunStore().Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncPhaseFailed, stored.Phase)
	assert.Equal(t, 3, stored.Stats["transactions_imported"])

	conn, _ := f.store.ConnectionStore().Get(context.Background(), "c1")
	assert.True(t, conn.LastSyncedAt.IsZero())
}

func TestSync_UnauthorizedStatus(t *testing.T) {
	f := newFixture(t)
	f.importer.result = &models.ImportResult{}
	f.importer.err = fmt.Errorf("failed to list accounts: %w", &models.ProviderError{Kind: models.ProviderErrorUnauthorized, StatusCode: 401, Op: "list_accounts", Err: errors.New("expired")})

	run, err := f.syncer(common.InactivityConfig{}).Sync(context.Background(), f.conn)
	require.Error(t, err)
	assert.True(t, models.IsUnauthorized(err))
	assert.Equal(t, "Provider requires re-authentication", run.Status)
}

func TestSync_SchedulingErrorsAreWarnings(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "ext-1", "acc-1")
	f.submitter.err = errors.New("queue full")

	run, err := f.syncer(common.InactivityConfig{}).Sync(context.Background(), f.conn)
	require.NoError(t, err)
	assert.Equal(t, models.SyncPhaseDone, run.Phase)
	assert.Equal(t, 0, run.Stats["recalculations_scheduled"])
	warnings, _ := run.Stats["warnings"].([]string)
	assert.Len(t, warnings, 1)
}

func TestSync_InactivityPolicy(t *testing.T) {
	f := newFixture(t)
	pa := f.addAccount(t, "ext-1", "acc-1")
	policy := common.InactivityConfig{Enabled: true, Threshold: 2}
	ctx := context.Background()

	_, err := f.syncer(policy).Sync(ctx, f.conn)
	require.NoError(t, err)
	acc, _ := f.store.AccountStore().Get(ctx, "acc-1")
	assert.False(t, acc.Inactive)

	run, err := f.syncer(policy).Sync(ctx, f.conn)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Stats["accounts_marked_inactive"])

	acc, _ = f.store.AccountStore().Get(ctx, "acc-1")
	assert.True(t, acc.Inactive)
	stored, _ := f.store.ProviderAccountStore().Get(ctx, pa.ID)
	assert.True(t, stored.Inactive)
	assert.Equal(t, 2, stored.ZeroActivityStreak)

	// Any balance resets the streak and reactivates
	stored.CurrentBalance = decimal.NewFromInt(10)
	require.NoError(t, f.store.ProviderAccountStore().Save(ctx, stored))
	_, err = f.syncer(policy).Sync(ctx, f.conn)
	require.NoError(t, err)
	acc, _ = f.store.AccountStore().Get(ctx, "acc-1")
	assert.False(t, acc.Inactive)
	stored, _ = f.store.ProviderAccountStore().Get(ctx, pa.ID)
	assert.Equal(t, 0, stored.ZeroActivityStreak)
}

func TestSync_InactivityDisabledByDefault(t *testing.T) {
	f := newFixture(t)
	pa := f.addAccount(t, "ext-1", "acc-1")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.syncer(common.NewDefaultConfig().Sync.Inactivity).Sync(ctx, f.conn)
		require.NoError(t, err)
	}
	stored, _ := f.store.ProviderAccountStore().Get(ctx, pa.ID)
	assert.False(t, stored.Inactive)
	assert.Equal(t, 0, stored.ZeroActivityStreak)
}

func TestSync_ElapsedUsesClock(t *testing.T) {
	f := newFixture(t)
	tick := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	logger := common.NewSilentLogger()
	s := New(f.store, linker.NewService(f.store, logger), Pipeline{
		Importer:   f.importer,
		Activities: f.stages,
		Holdings:   f.stages,
		Reconciler: f.stages,
	}, nil, common.InactivityConfig{}, logger, WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))

	run, err := s.Sync(context.Background(), f.conn)
	require.NoError(t, err)
	assert.True(t, run.CompletedAt.After(run.StartedAt))
	assert.Nil(t, run.Stats["recalculations_scheduled"], "no submitter, nothing scheduled")
}
