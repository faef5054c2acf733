package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chris/classifieds-wallet/pkg/clock"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/lock"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
	"github.com/chris/classifieds-wallet/pkg/storage/memory"
	"github.com/chris/classifieds-wallet/pkg/websockets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fixture struct {
	engine    *ledger.Engine
	store     *memory.Store
	clock     *clock.Manual
	publisher *websockets.RecordingPublisher
}

func newFixture(t *testing.T, cfg ledger.Config) *fixture {
	t.Helper()
	store := memory.New()
	clk := clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	pub := websockets.NewRecordingPublisher()

	engine := ledger.New(store, lock.NewKeyedMutex(), cfg)
	engine.Clock = clk
	engine.Publisher = pub
	return &fixture{engine: engine, store: store, clock: clk, publisher: pub}
}

func (f *fixture) open(t *testing.T, accountID string, balance int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.engine.OpenAccount(ctx, accountID, "USD")
	require.NoError(t, err)
	if balance > 0 {
		_, err = f.engine.Credit(ctx, ledger.CreditRequest{
			AccountID: accountID, Type: models.BONUS, Amount: balance, Reference: "seed-" + accountID,
		})
		require.NoError(t, err)
	}
}

func (f *fixture) assertBalanceInvariant(t *testing.T, accountID string) {
	t.Helper()
	acct, err := f.store.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	sum, err := f.store.SumCompleted(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, sum, acct.Balance, "cached balance must equal the sum of completed transactions")
}

func TestCredit(t *testing.T) {
	ctx := context.Background()

	t.Run("Idempotent Credit", func(t *testing.T) {
		f := newFixture(t, ledger.Config{})
		f.open(t, "acct-a", 0)

		req := ledger.CreditRequest{AccountID: "acct-a", Type: models.TOPUP, Amount: 1000, Reference: "R1"}
		first, err := f.engine.Credit(ctx, req)
		require.NoError(t, err)
		second, err := f.engine.Credit(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, first.Id, second.Id)
		acct, _ := f.engine.GetBalance(ctx, "acct-a")
		assert.Equal(t, int64(1000), acct.Balance)

		txs, err := f.store.ListTransactions(ctx, "acct-a", storage.TransactionFilter{}, 100, 0)
		require.NoError(t, err)
		assert.Len(t, txs, 1)
		f.assertBalanceInvariant(t, "acct-a")
	})

	t.Run("Duplicate Reference With Different Payload Returns Original", func(t *testing.T) {
		f := newFixture(t, ledger.Config{})
		f.open(t, "acct-a", 0)

		first, err := f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-a", Type: models.TOPUP, Amount: 1000, Reference: "R1"})
		require.NoError(t, err)
		second, err := f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-a", Type: models.TOPUP, Amount: 5000, Reference: "R1"})
		require.NoError(t, err)

		assert.Equal(t, first.Id, second.Id)
		assert.Equal(t, int64(1000), second.Amount)
	})

	t.Run("Insufficient Funds", func(t *testing.T) {
		f := newFixture(t, ledger.Config{})
		f.open(t, "acct-b", 500)

		_, err := f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-b", Type: models.DEDUCTION, Amount: 800, Reference: "D1"})

		assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		acct, _ := f.engine.GetBalance(ctx, "acct-b")
		assert.Equal(t, int64(500), acct.Balance)
		_, err = f.store.FindByReference(ctx, "acct-b", "D1")
		assert.Error(t, err, "no transaction may be stored for a refused deduction")
	})

	t.Run("Deduction To Exactly Zero", func(t *testing.T) {
		f := newFixture(t, ledger.Config{})
		f.open(t, "acct-b", 500)

		tx, err := f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-b", Type: models.DEDUCTION, Amount: 500, Reference: "D1"})

		require.NoError(t, err)
		assert.Equal(t, int64(0), tx.BalanceAfter)
	})

	t.Run("Overdraft Policy", func(t *testing.T) {
		f := newFixture(t, ledger.Config{Policy: ledger.Policy{AllowOverdraft: true, OverdraftLimit: 300}})
		f.open(t, "acct-b", 500)

		tx, err := f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-b", Type: models.DEDUCTION, Amount: 800, Reference: "D1"})
		require.NoError(t, err)
		assert.Equal(t, int64(-300), tx.BalanceAfter)

		_, err = f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-b", Type: models.DEDUCTION, Amount: 1, Reference: "D2"})
		assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	})

	t.Run("Validation", func(t *testing.T) {
		f := newFixture(t, ledger.Config{})
		f.open(t, "acct-a", 0)

		_, err := f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-a", Type: models.TOPUP, Amount: 0, Reference: "Z"})
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
		_, err = f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-a", Type: models.TOPUP, Amount: -5, Reference: "N"})
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
		_, err = f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-a", Type: "gift", Amount: 5, Reference: "G"})
		assert.ErrorIs(t, err, ledger.ErrInvalidType)
		_, err = f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-a", Type: models.TOPUP, Amount: 5})
		assert.ErrorIs(t, err, ledger.ErrMissingReference)
		_, err = f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-a", Type: models.TOPUP, Amount: 5, Currency: "EUR", Reference: "C"})
		assert.ErrorIs(t, err, ledger.ErrCurrencyMismatch)
	})

	t.Run("Unknown Account", func(t *testing.T) {
		f := newFixture(t, ledger.Config{})

		_, err := f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "ghost", Type: models.TOPUP, Amount: 5, Reference: "R"})

		assert.ErrorIs(t, err, ledger.ErrUnknownAccount)
	})

	t.Run("Publishes Balance Update", func(t *testing.T) {
		f := newFixture(t, ledger.Config{})
		f.open(t, "acct-a", 0)

		tx, err := f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-a", Type: models.REFUND, Amount: 250, Reference: "RF1"})
		require.NoError(t, err)

		msgs := f.publisher.For("acct-a")
		require.NotEmpty(t, msgs)
		last := msgs[len(msgs)-1]
		assert.Equal(t, websockets.MessageTypeBalanceUpdated, last.Type)
		payload := last.Payload.(websockets.BalanceUpdatedPayload)
		assert.Equal(t, tx.Id, payload.TransactionID)
		assert.Equal(t, int64(250), payload.NewBalance)
	})
}

func TestConcurrentCredits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Config{})
	f.open(t, "acct-c", 0)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 50; i++ {
		i := i
		g.Go(func() error {
			_, err := f.engine.Credit(gctx, ledger.CreditRequest{
				AccountID: "acct-c", Type: models.TOPUP, Amount: 10, Reference: fmt.Sprintf("R%d", i%25),
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	acct, err := f.engine.GetBalance(ctx, "acct-c")
	require.NoError(t, err)
	assert.Equal(t, int64(250), acct.Balance, "25 distinct references credited once each")
	f.assertBalanceInvariant(t, "acct-c")
}

func TestConcurrentDeductionsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Config{})
	f.open(t, "acct-d", 1000)

	var g errgroup.Group
	results := make([]error, 30)
	for i := 0; i < 30; i++ {
		i := i
		g.Go(func() error {
			_, results[i] = f.engine.Credit(ctx, ledger.CreditRequest{
				AccountID: "acct-d", Type: models.DEDUCTION, Amount: 100, Reference: fmt.Sprintf("D%d", i),
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 10, succeeded)

	acct, _ := f.engine.GetBalance(ctx, "acct-d")
	assert.Equal(t, int64(0), acct.Balance)
	f.assertBalanceInvariant(t, "acct-d")
}

func TestHoldCompleteAndMarkFailed(t *testing.T) {
	ctx := context.Background()

	t.Run("Hold Then Complete", func(t *testing.T) {
		f := newFixture(t, ledger.Config{})
		f.open(t, "acct-h", 1000)

		held, err := f.engine.Hold(ctx, ledger.CreditRequest{
			AccountID: "acct-h", Type: models.DEDUCTION, Amount: 300, Reference: "listing-42", RelatedListingID: "42",
		})
		require.NoError(t, err)
		assert.Equal(t, models.PENDING, held.Status)

		acct, _ := f.engine.GetBalance(ctx, "acct-h")
		assert.Equal(t, int64(1000), acct.Balance, "pending transactions have no balance effect")

		done, err := f.engine.Complete(ctx, held.Id)
		require.NoError(t, err)
		assert.Equal(t, models.COMPLETED, done.Status)
		assert.Equal(t, int64(700), done.BalanceAfter)

		again, err := f.engine.Complete(ctx, held.Id)
		require.NoError(t, err)
		assert.Equal(t, int64(700), again.BalanceAfter)
		f.assertBalanceInvariant(t, "acct-h")
	})

	t.Run("Mark Failed", func(t *testing.T) {
		f := newFixture(t, ledger.Config{})
		f.open(t, "acct-h", 1000)

		held, err := f.engine.Hold(ctx, ledger.CreditRequest{AccountID: "acct-h", Type: models.DEDUCTION, Amount: 300, Reference: "listing-7"})
		require.NoError(t, err)

		failed, err := f.engine.MarkFailed(ctx, held.Id, "listing rejected")
		require.NoError(t, err)
		assert.Equal(t, models.FAILED, failed.Status)
		assert.Equal(t, "listing rejected", failed.FailureReason)

		_, err = f.engine.MarkFailed(ctx, held.Id, "again")
		assert.NoError(t, err, "failing a failed transaction is a no-op")

		_, err = f.engine.Complete(ctx, held.Id)
		assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

		retry, err := f.engine.Hold(ctx, ledger.CreditRequest{AccountID: "acct-h", Type: models.DEDUCTION, Amount: 300, Reference: "listing-7"})
		require.NoError(t, err, "a failed transaction releases its reference")
		assert.NotEqual(t, held.Id, retry.Id)
	})

	t.Run("Mark Failed On Completed", func(t *testing.T) {
		f := newFixture(t, ledger.Config{})
		f.open(t, "acct-h", 1000)

		tx, err := f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-h", Type: models.DEDUCTION, Amount: 100, Reference: "D1"})
		require.NoError(t, err)

		_, err = f.engine.MarkFailed(ctx, tx.Id, "too late")
		assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
	})

	t.Run("Complete Checks Funds", func(t *testing.T) {
		f := newFixture(t, ledger.Config{})
		f.open(t, "acct-h", 500)

		held, err := f.engine.Hold(ctx, ledger.CreditRequest{AccountID: "acct-h", Type: models.DEDUCTION, Amount: 400, Reference: "L1"})
		require.NoError(t, err)
		_, err = f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-h", Type: models.DEDUCTION, Amount: 300, Reference: "L2"})
		require.NoError(t, err)

		_, err = f.engine.Complete(ctx, held.Id)
		assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	})

	t.Run("Unknown Transaction", func(t *testing.T) {
		f := newFixture(t, ledger.Config{})

		_, err := f.engine.MarkFailed(ctx, "nope", "x")
		assert.ErrorIs(t, err, ledger.ErrUnknownTransaction)
	})
}

func TestAdjustAndReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Config{})
	f.open(t, "acct-j", 100)

	tx, err := f.engine.Adjust(ctx, ledger.CreditRequest{AccountID: "acct-j", Amount: -250, Reference: "ADJ-1", Description: "chargeback"})
	require.NoError(t, err)
	assert.Equal(t, models.ADJUSTMENT, tx.Type)
	assert.Equal(t, int64(-150), tx.BalanceAfter, "adjustments skip the funds check")

	_, err = f.engine.Adjust(ctx, ledger.CreditRequest{AccountID: "acct-j", Amount: 0, Reference: "ADJ-2"})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	withReceipt, err := f.engine.AttachReceipt(ctx, tx.Id, "https://receipts.example/adj-1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://receipts.example/adj-1.pdf", withReceipt.ReceiptUrl)
	assert.Equal(t, int64(-250), withReceipt.Amount)

	_, err = f.engine.AttachReceipt(ctx, tx.Id, "")
	assert.ErrorIs(t, err, ledger.ErrMissingReceipt)
	f.assertBalanceInvariant(t, "acct-j")
}

// laggingStore reports a transaction log that has not caught up with the balance.
type laggingStore struct {
	*memory.Store
}

func (laggingStore) SumCompleted(ctx context.Context, accountID string) (int64, error) {
	return 0, fmt.Errorf("%w: index holds 0 of 1 completed transactions", storage.ErrLedgerBehind)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("Repairs Drift", func(t *testing.T) {
		f := newFixture(t, ledger.Config{})
		f.open(t, "acct-r", 900)
		f.store.ForceBalance("acct-r", 1234)

		rec, err := f.engine.Reconcile(ctx, "acct-r")
		require.NoError(t, err)
		assert.True(t, rec.Drifted)
		assert.Equal(t, int64(1234), rec.Cached)
		assert.Equal(t, int64(900), rec.Computed)

		f.assertBalanceInvariant(t, "acct-r")
		drift, err := f.engine.DriftHistory(ctx, "acct-r")
		require.NoError(t, err)
		require.Len(t, drift, 1)
		assert.Equal(t, int64(1234), drift[0].Cached)
	})

	t.Run("Lazy Check On Read", func(t *testing.T) {
		f := newFixture(t, ledger.Config{ConsistencyCheckInterval: time.Hour})
		f.open(t, "acct-r", 900)
		f.store.ForceBalance("acct-r", 10)

		acct, err := f.engine.GetBalance(ctx, "acct-r")
		require.NoError(t, err)
		assert.Equal(t, int64(10), acct.Balance, "check not due yet")

		f.clock.Advance(2 * time.Hour)
		acct, err = f.engine.GetBalance(ctx, "acct-r")
		require.NoError(t, err)
		assert.Equal(t, int64(900), acct.Balance)
	})

	t.Run("No Drift", func(t *testing.T) {
		f := newFixture(t, ledger.Config{})
		f.open(t, "acct-r", 900)

		rec, err := f.engine.Reconcile(ctx, "acct-r")
		require.NoError(t, err)
		assert.False(t, rec.Drifted)
		drift, _ := f.engine.DriftHistory(ctx, "acct-r")
		assert.Empty(t, drift)
	})

	t.Run("Lagging Ledger Keeps Cached Balance", func(t *testing.T) {
		f := newFixture(t, ledger.Config{ConsistencyCheckInterval: time.Minute})
		f.open(t, "acct-r", 500)
		f.engine.Store = laggingStore{f.store}

		rec, err := f.engine.Reconcile(ctx, "acct-r")
		require.NoError(t, err)
		assert.False(t, rec.Drifted)
		assert.Equal(t, int64(500), rec.Account.Balance)

		f.clock.Advance(time.Hour)
		acct, err := f.engine.GetBalance(ctx, "acct-r")
		require.NoError(t, err)
		assert.Equal(t, int64(500), acct.Balance)

		stored, err := f.store.GetAccount(ctx, "acct-r")
		require.NoError(t, err)
		assert.Equal(t, int64(500), stored.Balance)
		drift, _ := f.engine.DriftHistory(ctx, "acct-r")
		assert.Empty(t, drift)
	})
}

func TestLockTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Config{LockTimeout: 20 * time.Millisecond})
	f.open(t, "acct-t", 0)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = f.engine.InAccount(ctx, "acct-t", func(w *ledger.Writer) error {
			close(started)
			<-done
			return nil
		})
	}()
	<-started

	_, err := f.engine.Credit(ctx, ledger.CreditRequest{AccountID: "acct-t", Type: models.TOPUP, Amount: 1, Reference: "late"})
	close(done)

	assert.ErrorIs(t, err, ledger.ErrUpstreamTimeout)
}

func TestOpenAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Config{DefaultCurrency: "EUR"})

	acct, err := f.engine.OpenAccount(ctx, "new-user", "")
	require.NoError(t, err)
	assert.Equal(t, "EUR", acct.Currency)
	assert.Equal(t, int64(0), acct.Balance)

	same, err := f.engine.OpenAccount(ctx, "new-user", "USD")
	require.NoError(t, err)
	assert.Equal(t, "EUR", same.Currency, "opening an existing account returns it unchanged")
}
