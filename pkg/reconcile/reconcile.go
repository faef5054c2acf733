package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chris/classifieds-wallet/pkg/clock"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/scheduler"
	"github.com/chris/classifieds-wallet/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// Sweeper finds work that a crash or a lost message may have left unfinished and
// queues it: approved top-ups whose credit never landed, and a consistency check for
// every account.
type Sweeper struct {
	TopUps    storage.TopUpStore
	Accounts  storage.AccountStore
	Scheduler scheduler.Scheduler
	Clock     clock.Clock
	Logger    *slog.Logger

	// StuckAfter is how long an approved request may stay unlinked before it is resumed.
	StuckAfter time.Duration
	// Concurrency bounds the number of jobs scheduled at once.
	Concurrency int
}

// NewSweeper creates a Sweeper with default settings.
func NewSweeper(topUps storage.TopUpStore, accounts storage.AccountStore, s scheduler.Scheduler) *Sweeper {
	return &Sweeper{
		TopUps:      topUps,
		Accounts:    accounts,
		Scheduler:   s,
		Clock:       clock.RealClock{},
		Logger:      slog.Default(),
		StuckAfter:  time.Minute,
		Concurrency: 8,
	}
}

// Summary reports what a sweep queued.
type Summary struct {
	TopUps   int
	Accounts int
	Failed   int
}

// Sweep schedules one job per unfinished top-up and per account. A job that fails to
// schedule is logged and counted; the sweep carries on with the rest.
func (s *Sweeper) Sweep(ctx context.Context) (Summary, error) {
	approved, err := s.TopUps.ListTopUps(ctx, storage.TopUpFilter{Status: models.TOPUP_APPROVED})
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list approved top-ups: %w", err)
	}
	accounts, err := s.Accounts.ListAccounts(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list accounts: %w", err)
	}

	cutoff := s.Clock.Now().Add(-s.StuckAfter)
	var jobs []scheduler.Job
	var summary Summary
	for _, req := range approved {
		if req.TransactionId != "" || req.UpdatedAt.After(cutoff) {
			continue
		}
		jobs = append(jobs, scheduler.Job{Kind: scheduler.JobResumeTopUp, ID: req.Id})
		summary.TopUps++
	}
	for _, acct := range accounts {
		jobs = append(jobs, scheduler.Job{Kind: scheduler.JobCheckAccount, ID: acct.Id})
		summary.Accounts++
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Concurrency, 1))
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := s.Scheduler.Schedule(gctx, job); err != nil {
				failed.Add(1)
				s.Logger.Error("failed to schedule reconciliation job", "kind", job.Kind, "id", job.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Failed = int(failed.Load())
	s.Logger.Info("reconciliation sweep finished", "topups", summary.TopUps, "accounts", summary.Accounts, "failed", summary.Failed)
	return summary, nil
}

// Resumer finishes approved top-ups.
type Resumer interface {
	Resume(ctx context.Context, requestID string) (*models.Transaction, error)
}

// Reconciler checks an account balance against its ledger.
type Reconciler interface {
	Reconcile(ctx context.Context, accountID string) (*ledger.Reconciliation, error)
}

// Worker executes reconciliation jobs.
type Worker struct {
	TopUps   Resumer
	Accounts Reconciler
	Logger   *slog.Logger
}

// NewWorker creates a new Worker.
func NewWorker(topUps Resumer, accounts Reconciler) *Worker {
	return &Worker{TopUps: topUps, Accounts: accounts, Logger: slog.Default()}
}

// Handle runs one job. Both job kinds are idempotent, so a redelivered job is harmless.
func (w *Worker) Handle(ctx context.Context, job scheduler.Job) error {
	switch job.Kind {
	case scheduler.JobResumeTopUp:
		tx, err := w.TopUps.Resume(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("failed to resume top-up %s: %w", job.ID, err)
		}
		if tx != nil {
			w.Logger.Info("top-up settled by reconciliation", "request_id", job.ID, "transaction_id", tx.Id)
		}
		return nil

	case scheduler.JobCheckAccount:
		rec, err := w.Accounts.Reconcile(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("failed to reconcile account %s: %w", job.ID, err)
		}
		if rec.Drifted {
			w.Logger.Warn("account balance repaired", "account_id", job.ID, "cached", rec.Cached, "computed", rec.Computed)
		}
		return nil
	}
	return fmt.Errorf("unknown job kind %q", job.Kind)
}
