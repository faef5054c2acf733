package mapping

import (
	"fmt"

	"github.com/chris/classifieds-wallet/pkg/advisory"
	"github.com/chris/classifieds-wallet/pkg/api"
	"github.com/chris/classifieds-wallet/pkg/history"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/money"
)

// ToApiMoney converts minor units to the API money shape.
func ToApiMoney(amount int64, currency string) api.Money {
	return api.Money{Amount: amount, Display: money.FormatMinor(amount, currency), Currency: currency}
}

// ToApiWallet converts a domain Account model to an API Wallet model.
func ToApiWallet(account *models.Account) *api.Wallet {
	return &api.Wallet{
		AccountId: account.Id,
		Balance:   ToApiMoney(account.Balance, account.Currency),
		UpdatedAt: account.UpdatedAt,
	}
}

// ToApiTransaction converts a domain Transaction model to an API Transaction model.
func ToApiTransaction(tx *models.Transaction) *api.Transaction {
	return &api.Transaction{
		Id:               tx.Id,
		AccountId:        tx.AccountId,
		Type:             string(tx.Type),
		Status:           string(tx.Status),
		Amount:           ToApiMoney(tx.Amount, tx.Currency),
		SignedAmount:     tx.SignedAmount(),
		BalanceAfter:     tx.BalanceAfter,
		Description:      tx.Description,
		DescriptionLocal: tx.DescriptionLocal,
		Reference:        tx.Reference,
		RelatedListingId: tx.RelatedListingId,
		ReceiptUrl:       tx.ReceiptUrl,
		FailureReason:    tx.FailureReason,
		Metadata:         tx.Metadata,
		CreatedAt:        tx.CreatedAt,
		CompletedAt:      tx.CompletedAt,
	}
}

// ToApiHistory converts a history page.
func ToApiHistory(page *history.Page) *api.History {
	items := make([]api.Transaction, len(page.Items))
	for i := range page.Items {
		items[i] = *ToApiTransaction(&page.Items[i])
	}
	return &api.History{Items: items, Page: page.Page, PageSize: page.PageSize, HasMore: page.HasMore}
}

// ToApiAdvisory converts a balance advisory.
func ToApiAdvisory(a *advisory.Advisory) *api.Advisory {
	return &api.Advisory{
		AccountId:     a.AccountID,
		Balance:       ToApiMoney(a.Balance, a.Currency),
		BurnRate:      a.BurnRate,
		WindowDays:    a.WindowDays,
		DaysRemaining: a.DaysRemaining,
		Level:         string(a.Level),
	}
}

// ToApiTopUp converts a domain TopUpRequest model to an API TopUp model.
func ToApiTopUp(req *models.TopUpRequest) *api.TopUp {
	return &api.TopUp{
		Id:            req.Id,
		AccountId:     req.AccountId,
		RequesterId:   req.RequesterId,
		Method:        string(req.Method),
		Amount:        ToApiMoney(req.Amount, req.Currency),
		Status:        string(req.Status),
		Reference:     req.Reference,
		ReceiptUrl:    req.ReceiptUrl,
		ReviewerId:    req.ReviewerId,
		Reason:        req.Reason,
		TransactionId: req.TransactionId,
		CreatedAt:     req.CreatedAt,
		ResolvedAt:    req.ResolvedAt,
	}
}

// ToApiTopUps converts a list of requests.
func ToApiTopUps(reqs []models.TopUpRequest) []api.TopUp {
	out := make([]api.TopUp, len(reqs))
	for i := range reqs {
		out[i] = *ToApiTopUp(&reqs[i])
	}
	return out
}

// ToApiReconciliation converts the result of a consistency check.
func ToApiReconciliation(rec *ledger.Reconciliation) *api.Reconciliation {
	return &api.Reconciliation{
		Wallet:   *ToApiWallet(rec.Account),
		Cached:   rec.Cached,
		Computed: rec.Computed,
		Drifted:  rec.Drifted,
	}
}

// ToApiDrift converts drift records.
func ToApiDrift(records []models.DriftRecord) []api.Drift {
	out := make([]api.Drift, len(records))
	for i, r := range records {
		out[i] = api.Drift{Cached: r.Cached, Computed: r.Computed, DetectedAt: r.DetectedAt}
	}
	return out
}

// ResolveAmount picks the minor-unit amount, parsing the decimal form when the
// integer one is absent.
func ResolveAmount(minor *int64, decimal, currency string) (int64, error) {
	switch {
	case minor != nil && decimal != "":
		return 0, fmt.Errorf("%w: send amount or amount_decimal, not both", api.ErrBadRequest)
	case minor != nil:
		return *minor, nil
	case decimal != "":
		return money.ParseMinor(decimal, currency)
	}
	return 0, fmt.Errorf("%w: amount is required", ledger.ErrInvalidAmount)
}

// ToDomainCreditRequest converts an API NewTransaction for an account.
func ToDomainCreditRequest(accountID, defaultCurrency string, in *api.NewTransaction) (ledger.CreditRequest, error) {
	currency := in.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	amount, err := ResolveAmount(in.Amount, in.AmountDecimal, currency)
	if err != nil {
		return ledger.CreditRequest{}, err
	}
	return ledger.CreditRequest{
		AccountID:        accountID,
		Type:             models.TransactionType(in.Type),
		Amount:           amount,
		Currency:         in.Currency,
		Reference:        in.Reference,
		Description:      in.Description,
		DescriptionLocal: in.DescriptionLocal,
		RelatedListingID: in.RelatedListingId,
		ReceiptURL:       in.ReceiptUrl,
		Metadata:         in.Metadata,
	}, nil
}
