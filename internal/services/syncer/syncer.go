// Package syncer runs the per-connection import, process, reconcile and
// schedule pipeline and records each run.
package syncer

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

// Pipeline holds the stages a Syncer composes. Hook is optional.
type Pipeline struct {
	Importer   interfaces.Importer
	Activities interfaces.ActivityProcessor
	Holdings   interfaces.HoldingsProcessor
	Reconciler interfaces.Reconciler
	Hook       interfaces.PostSyncHook
}

// Syncer drives one connection through the sync phases.
type Syncer struct {
	storage    interfaces.StorageManager
	linker     interfaces.AccountLinker
	pipeline   Pipeline
	submitter  interfaces.WorkSubmitter // optional
	inactivity common.InactivityConfig
	logger     *common.Logger
	now        func() time.Time
}

// Option configures a Syncer
type Option func(*Syncer)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		s.now = now
	}
}

// New creates a syncer. submitter may be nil, in which case no downstream
// work is scheduled.
func New(storage interfaces.StorageManager, linker interfaces.AccountLinker, pipeline Pipeline, submitter interfaces.WorkSubmitter, inactivity common.InactivityConfig, logger *common.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		storage:    storage,
		linker:     linker,
		pipeline:   pipeline,
		submitter:  submitter,
		inactivity: inactivity,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// processOutcome accumulates the processing phase counters.
type processOutcome struct {
	processed, failed, skipped     int
	trades, transactions, holdings int
	backfilled, markedInactive     int
	contentKeyed                   int
	unmapped, errors               []string
	accountIDs                     []string
}

func (o *processOutcome) stats() map[string]any {
	stats := map[string]any{
		"accounts_processed":       o.processed,
		"accounts_failed":          o.failed,
		"accounts_skipped":         o.skipped,
		"trades_created":           o.trades,
		"transactions_created":     o.transactions,
		"holdings_upserted":        o.holdings,
		"entries_backfilled":       o.backfilled,
		"entries_content_keyed":    o.contentKeyed,
		"accounts_marked_inactive": o.markedInactive,
	}
	if len(o.unmapped) > 0 {
		stats["unmapped_activity_types"] = o.unmapped
	}
	if len(o.errors) > 0 {
		stats["errors"] = o.errors
	}
	return stats
}

// Sync runs every phase for conn and returns the persisted run. The run is
// saved before each phase and on both terminal states. The post-sync hook
// runs afterward whatever the outcome.
func (s *Syncer) Sync(ctx context.Context, conn *models.Connection) (*models.SyncRun, error) {
	start := s.now()
	ctx, span := syncTracer.Start(ctx, "sync.connection", trace.WithAttributes(
		attribute.String("connection.id", conn.ID),
		attribute.String("connection.provider", conn.Provider),
	))
	defer span.End()

	run := &models.SyncRun{
		ConnectionID: conn.ID,
		StartedAt:    start,
		Stats:        map[string]any{},
	}

	err := s.run(ctx, conn, run)
	outcome := models.SyncPhaseDone
	if err != nil {
		outcome = models.SyncPhaseFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, run.Status)
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome), attribute.String("provider", conn.Provider))
	syncRunTotal.Add(ctx, 1, attrs)
	syncRunDuration.Record(ctx, s.now().Sub(start).Seconds(), attrs)

	if s.pipeline.Hook != nil {
		if hookErr := s.pipeline.Hook.PostSync(ctx, conn); hookErr != nil {
			s.logger.Warn().Str("connection", conn.ID).Err(hookErr).Msg("Post-sync hook failed")
		}
	}
	return run, err
}

func (s *Syncer) run(ctx context.Context, conn *models.Connection, run *models.SyncRun) error {
	var failed int

	err := s.phase(ctx, run, models.SyncPhaseImporting, "Importing data from provider", func(ctx context.Context) error {
		result, err := s.pipeline.Importer.Import(ctx, conn)
		if result != nil {
			run.MergeStats(result.Stats())
			failed += result.AccountsFailed
		}
		return err
	})
	if err != nil {
		return s.fail(ctx, run, err, failed)
	}

	err = s.phase(ctx, run, models.SyncPhaseCheckingConfiguration, "Checking account configuration", func(ctx context.Context) error {
		return s.checkConfiguration(ctx, conn, run)
	})
	if err != nil {
		return s.fail(ctx, run, err, failed)
	}

	var outcome *processOutcome
	err = s.phase(ctx, run, models.SyncPhaseProcessing, "Processing holdings and activities", func(ctx context.Context) error {
		var err error
		outcome, err = s.processAccounts(ctx, conn)
		if outcome != nil {
			run.MergeStats(outcome.stats())
			failed += outcome.failed
			syncEntriesCreated.Add(ctx, int64(outcome.trades+outcome.transactions))
			syncAccountsFailed.Add(ctx, int64(outcome.failed))
		}
		return err
	})
	if err != nil {
		return s.fail(ctx, run, err, failed)
	}

	err = s.phase(ctx, run, models.SyncPhaseScheduling, "Scheduling balance recalculation", func(ctx context.Context) error {
		s.schedule(ctx, run, outcome.accountIDs)
		return nil
	})
	if err != nil {
		return s.fail(ctx, run, err, failed)
	}

	conn.LastSyncedAt = s.now()
	if err := s.storage.ConnectionStore().Save(ctx, conn); err != nil {
		return s.fail(ctx, run, fmt.Errorf("failed to save connection: %w", err), failed)
	}

	run.Phase = models.SyncPhaseDone
	run.Status = "Sync complete"
	if failed > 0 {
		run.Status = fmt.Sprintf("Sync complete, %d account(s) failed", failed)
	}
	run.CompletedAt = s.now()
	if err := s.save(ctx, run); err != nil {
		return err
	}

	s.logger.Info().
		Str("connection", conn.ID).
		Str("sync_run", run.ID).
		Int("failed", failed).
		Dur("elapsed", run.CompletedAt.Sub(run.StartedAt)).
		Msg("Sync complete")
	return nil
}

// phase saves the run with the phase's status text, then runs fn inside a span.
func (s *Syncer) phase(ctx context.Context, run *models.SyncRun, phase, status string, fn func(ctx context.Context) error) error {
	run.Phase = phase
	run.Status = status
	if err := s.save(ctx, run); err != nil {
		return err
	}

	ctx, span := syncTracer.Start(ctx, "sync.phase."+phase)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, phase+" failed")
		return err
	}
	return nil
}

// fail moves the run to failed. The status text is an aggregate message; the
// raw error is only logged.
func (s *Syncer) fail(ctx context.Context, run *models.SyncRun, err error, failed int) error {
	phase := run.Phase
	status := fmt.Sprintf("Sync failed while %s", phaseVerb(phase))
	if models.IsUnauthorized(err) {
		status = "Provider requires re-authentication"
	}
	if failed > 0 {
		status = fmt.Sprintf("%s, %d account(s) failed", status, failed)
	}

	run.Phase = models.SyncPhaseFailed
	run.Status = status
	run.CompletedAt = s.now()
	run.MergeStats(map[string]any{
		"failed_phase": phase,
		"errors":       []string{phase + " failed"},
	})
	if saveErr := s.save(ctx, run); saveErr != nil {
		s.logger.Error().Str("connection", run.ConnectionID).Err(saveErr).Msg("Failed to persist failed sync run")
	}

	s.logger.Error().
		Str("connection", run.ConnectionID).
		Str("sync_run", run.ID).
		Str("phase", phase).
		Err(err).
		Msg("Sync failed")
	return err
}

func (s *Syncer) save(ctx context.Context, run *models.SyncRun) error {
	run.UpdatedAt = s.now()
	if err := s.storage.SyncRunStore().Save(ctx, run); err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}
	return nil
}

func phaseVerb(phase string) string {
	switch phase {
	case models.SyncPhaseImporting:
		return "importing"
	case models.SyncPhaseCheckingConfiguration:
		return "checking configuration"
	case models.SyncPhaseProcessing:
		return "processing"
	case models.SyncPhaseScheduling:
		return "scheduling"
	default:
		return "starting"
	}
}

// checkConfiguration records the linked and unlinked counts and flags the
// connection as pending setup while any account is unlinked.
func (s *Syncer) checkConfiguration(ctx context.Context, conn *models.Connection, run *models.SyncRun) error {
	linked, unlinked, err := s.linker.CountLinks(ctx, conn)
	if err != nil {
		return err
	}
	run.MergeStats(map[string]any{
		"accounts_linked":   linked,
		"accounts_unlinked": unlinked,
	})

	pending := unlinked > 0
	if conn.PendingSetup != pending {
		conn.PendingSetup = pending
		if err := s.storage.ConnectionStore().Save(ctx, conn); err != nil {
			return fmt.Errorf("failed to save connection: %w", err)
		}
	}
	return nil
}

// processAccounts runs the processors and reconciler over every linked
// provider account, one at a time. A failing account is counted and the
// rest continue.
func (s *Syncer) processAccounts(ctx context.Context, conn *models.Connection) (*processOutcome, error) {
	accounts, err := s.storage.ProviderAccountStore().ListByConnection(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider accounts: %w", err)
	}

	out := &processOutcome{}
	seenUnmapped := map[string]bool{}
	seenAccount := map[string]bool{}

	for _, pa := range accounts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		accountID, err := s.linker.ResolveAccountID(ctx, pa)
		if err != nil {
			s.accountFailed(out, pa, err)
			continue
		}
		if accountID == "" {
			out.skipped++
			continue
		}

		act, hold, err := s.processAccount(ctx, pa)
		if err != nil {
			s.accountFailed(out, pa, err)
			continue
		}

		out.processed++
		out.trades += act.TradesCreated
		out.transactions += act.TransactionsCreated
		out.backfilled += act.Backfilled
		out.contentKeyed += act.ContentKeyed
		out.holdings += hold.Upserted
		for _, t := range act.Unmapped {
			if !seenUnmapped[t] {
				seenUnmapped[t] = true
				out.unmapped = append(out.unmapped, t)
			}
		}
		if !seenAccount[accountID] {
			seenAccount[accountID] = true
			out.accountIDs = append(out.accountIDs, accountID)
		}

		if s.inactivity.Enabled {
			marked, err := s.applyInactivity(ctx, pa, accountID, act, hold)
			if err != nil {
				s.logger.Warn().Str("provider_account", pa.ID).Err(err).Msg("Failed to update inactivity state")
			} else if marked {
				out.markedInactive++
			}
		}
	}
	return out, nil
}

// processAccount runs holdings before activities so the reconciler sees
// today's positions.
func (s *Syncer) processAccount(ctx context.Context, pa *models.ProviderAccount) (*models.ActivityResult, *models.HoldingsResult, error) {
	hold, err := s.pipeline.Holdings.ProcessHoldings(ctx, pa)
	if err != nil {
		return nil, nil, fmt.Errorf("holdings: %w", err)
	}
	act, err := s.pipeline.Activities.ProcessActivities(ctx, pa)
	if err != nil {
		return nil, nil, fmt.Errorf("activities: %w", err)
	}
	if err := s.pipeline.Reconciler.Reconcile(ctx, pa); err != nil {
		return nil, nil, fmt.Errorf("reconcile: %w", err)
	}
	return act, hold, nil
}

func (s *Syncer) accountFailed(out *processOutcome, pa *models.ProviderAccount, err error) {
	out.failed++
	out.errors = append(out.errors, fmt.Sprintf("account %s: processing failed", pa.ExternalID))
	s.logger.Warn().
		Str("connection", pa.ConnectionID).
		Str("provider_account", pa.ID).
		Err(err).
		Msg("Account processing failed")
}

// applyInactivity extends or resets the zero-activity streak of pa. An
// account qualifies as inactive for this run when it produced no new
// entries, reported a zero balance and has no holdings. Reaching the
// threshold marks both the provider account and the canonical account
// inactive. Reports whether this run marked it.
func (s *Syncer) applyInactivity(ctx context.Context, pa *models.ProviderAccount, accountID string, act *models.ActivityResult, hold *models.HoldingsResult) (bool, error) {
	idle := act.Created() == 0 && pa.CurrentBalance.IsZero() && hold.Upserted == 0

	marked := false
	reactivated := false
	if idle {
		pa.ZeroActivityStreak++
		if pa.ZeroActivityStreak >= s.inactivity.GetThreshold() && !pa.Inactive {
			pa.Inactive = true
			marked = true
		}
	} else {
		pa.ZeroActivityStreak = 0
		if pa.Inactive {
			pa.Inactive = false
			reactivated = true
		}
	}
	if err := s.storage.ProviderAccountStore().Save(ctx, pa); err != nil {
		return false, fmt.Errorf("failed to save provider account: %w", err)
	}

	if marked || reactivated {
		account, err := s.storage.AccountStore().Get(ctx, accountID)
		if err != nil {
			return false, fmt.Errorf("failed to get account %s: %w", accountID, err)
		}
		account.Inactive = marked
		if err := s.storage.AccountStore().Save(ctx, account); err != nil {
			return false, fmt.Errorf("failed to save account %s: %w", accountID, err)
		}
		s.logger.Info().
			Str("account", accountID).
			Bool("inactive", marked).
			Int("streak", pa.ZeroActivityStreak).
			Msg("Account activity state changed")
	}
	return marked, nil
}

// schedule submits balance recalculation for each synced account. Failures
// are warnings only.
func (s *Syncer) schedule(ctx context.Context, run *models.SyncRun, accountIDs []string) {
	if s.submitter == nil {
		return
	}
	scheduled := 0
	var warnings []string
	for _, id := range accountIDs {
		err := s.submitter.Enqueue(ctx, models.JobTypeRecalculateBalances, map[string]string{"account_id": id})
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("account %s: balance recalculation not scheduled", id))
			s.logger.Warn().Str("account", id).Err(err).Msg("Failed to schedule balance recalculation")
			continue
		}
		scheduled++
	}
	stats := map[string]any{"recalculations_scheduled": scheduled}
	if len(warnings) > 0 {
		stats["warnings"] = warnings
	}
	run.MergeStats(stats)
}
