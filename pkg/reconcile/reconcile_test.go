package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chris/classifieds-wallet/pkg/blobstore"
	"github.com/chris/classifieds-wallet/pkg/clock"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/lock"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/reconcile"
	"github.com/chris/classifieds-wallet/pkg/scheduler"
	"github.com/chris/classifieds-wallet/pkg/storage/memory"
	"github.com/chris/classifieds-wallet/pkg/topup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memory.Store
	clock    *clock.Manual
	engine   *ledger.Engine
	workflow *topup.Workflow
	worker   *reconcile.Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	clk := clock.NewManual(time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC))
	engine := ledger.New(store, lock.NewKeyedMutex(), ledger.Config{})
	engine.Clock = clk
	wf := topup.New(store, engine, blobstore.NewMemory())
	wf.Clock = clk

	return &fixture{store: store, clock: clk, engine: engine, workflow: wf, worker: reconcile.NewWorker(wf, engine)}
}

// stuckTopUp leaves an approved request without its credit, as after a crash.
func (f *fixture) stuckTopUp(t *testing.T, accountID string, amount int64) *models.TopUpRequest {
	t.Helper()
	ctx := context.Background()
	req, err := f.workflow.Submit(ctx, topup.SubmitRequest{AccountID: accountID, Method: models.CARD_GATEWAY, Amount: amount})
	require.NoError(t, err)

	stored, err := f.store.GetTopUp(ctx, req.Id)
	require.NoError(t, err)
	stored.Status = models.TOPUP_APPROVED
	stored.UpdatedAt = f.clock.Now()
	require.NoError(t, f.store.UpdateTopUp(ctx, stored, models.TOPUP_PENDING))
	return stored
}

type recordingScheduler struct {
	mu   sync.Mutex
	jobs []scheduler.Job
	err  error
}

func (s *recordingScheduler) Schedule(ctx context.Context, job scheduler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return s.err
}

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("Repairs Stuck Top-Ups And Drift", func(t *testing.T) {
		f := newFixture(t)
		req := f.stuckTopUp(t, "acct-1", 1200)
		_, err := f.engine.OpenAccount(ctx, "acct-2", "USD")
		require.NoError(t, err)
		f.store.ForceBalance("acct-2", 999)
		f.clock.Advance(5 * time.Minute)

		sweeper := reconcile.NewSweeper(f.store, f.store, &scheduler.Inline{Handle: f.worker.Handle})
		sweeper.Clock = f.clock
		summary, err := sweeper.Sweep(ctx)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.TopUps)
		assert.Equal(t, 2, summary.Accounts)
		assert.Zero(t, summary.Failed)

		settled, err := f.workflow.Get(ctx, req.Id)
		require.NoError(t, err)
		assert.NotEmpty(t, settled.TransactionId)

		acct1, err := f.store.GetAccount(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1200), acct1.Balance)
		acct2, err := f.store.GetAccount(ctx, "acct-2")
		require.NoError(t, err)
		assert.Equal(t, int64(0), acct2.Balance)

		drift, err := f.store.ListDrift(ctx, "acct-2")
		require.NoError(t, err)
		assert.Len(t, drift, 1)
	})

	t.Run("Second Sweep Credits Nothing More", func(t *testing.T) {
		f := newFixture(t)
		f.stuckTopUp(t, "acct-1", 1200)
		f.clock.Advance(5 * time.Minute)

		sweeper := reconcile.NewSweeper(f.store, f.store, &scheduler.Inline{Handle: f.worker.Handle})
		sweeper.Clock = f.clock
		_, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		summary, err := sweeper.Sweep(ctx)
		require.NoError(t, err)

		assert.Zero(t, summary.TopUps)
		acct, err := f.store.GetAccount(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1200), acct.Balance)
	})

	t.Run("Skips Recently Approved", func(t *testing.T) {
		f := newFixture(t)
		f.stuckTopUp(t, "acct-1", 1200)

		rec := &recordingScheduler{}
		sweeper := reconcile.NewSweeper(f.store, f.store, rec)
		sweeper.Clock = f.clock
		summary, err := sweeper.Sweep(ctx)
		require.NoError(t, err)

		assert.Zero(t, summary.TopUps)
		assert.Equal(t, []scheduler.Job{{Kind: scheduler.JobCheckAccount, ID: "acct-1"}}, rec.jobs)
	})

	t.Run("Schedule Failures Are Counted", func(t *testing.T) {
		f := newFixture(t)
		for _, id := range []string{"a", "b", "c"} {
			_, err := f.engine.OpenAccount(ctx, id, "USD")
			require.NoError(t, err)
		}

		rec := &recordingScheduler{err: errors.New("queue down")}
		sweeper := reconcile.NewSweeper(f.store, f.store, rec)
		summary, err := sweeper.Sweep(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3, summary.Failed)
		assert.Len(t, rec.jobs, 3)
	})
}

func TestWorkerHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("Unknown Top-Up", func(t *testing.T) {
		f := newFixture(t)
		err := f.worker.Handle(ctx, scheduler.Job{Kind: scheduler.JobResumeTopUp, ID: "missing"})
		assert.ErrorIs(t, err, topup.ErrUnknownRequest)
	})

	t.Run("Unknown Account", func(t *testing.T) {
		f := newFixture(t)
		err := f.worker.Handle(ctx, scheduler.Job{Kind: scheduler.JobCheckAccount, ID: "missing"})
		assert.ErrorIs(t, err, ledger.ErrUnknownAccount)
	})

	t.Run("Unknown Kind", func(t *testing.T) {
		f := newFixture(t)
		err := f.worker.Handle(ctx, scheduler.Job{Kind: "nope", ID: "x"})
		assert.Error(t, err)
	})
}
