package advisory

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chris/classifieds-wallet/pkg/clock"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
)

// Level is the warning attached to a balance.
type Level string

const (
	LevelNone     Level = "none"
	LevelLow      Level = "low_balance"
	LevelCritical Level = "critical_balance"
)

// scanBatch is the page size used while summing deductions.
const scanBatch = 100

// Config holds the advisory thresholds, in days.
type Config struct {
	WindowDays   int
	LowDays      float64
	CriticalDays float64
}

// DefaultConfig returns a 30 day window with warnings at 7 and 2 days.
func DefaultConfig() Config {
	return Config{WindowDays: 30, LowDays: 7, CriticalDays: 2}
}

// BalanceReader returns the confirmed balance of an account.
type BalanceReader interface {
	GetBalance(ctx context.Context, accountID string) (*models.Account, error)
}

// Advisory is a non-authoritative estimate of how long a balance will last.
type Advisory struct {
	AccountID string
	Balance   int64
	Currency  string
	// BurnRate is the average deduction volume per day, in minor units.
	BurnRate   float64
	WindowDays int
	// DaysRemaining is nil when nothing was spent in the window.
	DaysRemaining *float64
	Level         Level
}

// Service derives balance warnings from recent history. Its output is never used to
// allow or refuse a deduction.
type Service struct {
	Balances BalanceReader
	Store    storage.TransactionReader
	Clock    clock.Clock
	Config   Config
}

// New creates a Service with the given thresholds.
func New(balances BalanceReader, store storage.TransactionReader, cfg Config) *Service {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultConfig().WindowDays
	}
	return &Service{Balances: balances, Store: store, Clock: clock.RealClock{}, Config: cfg}
}

// ComputeBurnRate returns the completed deduction volume of the trailing window divided
// by its length in days.
func (s *Service) ComputeBurnRate(ctx context.Context, accountID string, windowDays int) (float64, error) {
	if windowDays <= 0 {
		return 0, fmt.Errorf("window must be at least one day, got %d", windowDays)
	}

	filter := storage.TransactionFilter{
		Type:   models.DEDUCTION,
		Status: models.COMPLETED,
		Since:  s.Clock.Now().Add(-time.Duration(windowDays) * 24 * time.Hour),
	}

	var total int64
	for offset := 0; ; offset += scanBatch {
		batch, err := s.Store.ListTransactions(ctx, accountID, filter, scanBatch, offset)
		if err != nil {
			return 0, fmt.Errorf("failed to list deductions: %w", err)
		}
		for _, tx := range batch {
			total += tx.Amount
		}
		if len(batch) < scanBatch {
			break
		}
	}

	return float64(total) / float64(windowDays), nil
}

// Compute returns the advisory for an account using the configured window.
func (s *Service) Compute(ctx context.Context, accountID string) (*Advisory, error) {
	acct, err := s.Balances.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}

	rate, err := s.ComputeBurnRate(ctx, accountID, s.Config.WindowDays)
	if err != nil {
		return nil, err
	}

	adv := &Advisory{
		AccountID:  acct.Id,
		Balance:    acct.Balance,
		Currency:   acct.Currency,
		BurnRate:   rate,
		WindowDays: s.Config.WindowDays,
		Level:      LevelNone,
	}
	if rate > 0 {
		days := math.Max(float64(acct.Balance), 0) / rate
		adv.DaysRemaining = &days
	}
	adv.Level = s.level(acct.Balance, adv.DaysRemaining)
	return adv, nil
}

func (s *Service) level(balance int64, daysRemaining *float64) Level {
	if balance <= 0 {
		return LevelCritical
	}
	if daysRemaining == nil {
		return LevelNone
	}
	switch {
	case *daysRemaining < s.Config.CriticalDays:
		return LevelCritical
	case *daysRemaining < s.Config.LowDays:
		return LevelLow
	}
	return LevelNone
}
