package service

import (
	"context"
	"time"

	"github.com/Dan9191/finance-ledger/internal/apperror"
	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/Dan9191/finance-ledger/internal/money"
	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/shopspring/decimal"
)

// AccountBalance is one line of a summary
type AccountBalance struct {
	AccountID string          `json:"account_id"`
	Name      string          `json:"name"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Converted decimal.Decimal `json:"converted"`
}

// Summary is the user's balances converted into one currency
type Summary struct {
	Currency string           `json:"currency"`
	Date     time.Time        `json:"date"`
	Accounts []AccountBalance `json:"accounts"`
	Total    decimal.Decimal  `json:"total"`
}

// Summary converts the current balance of every active account into base,
// or into the configured base currency when base is empty
func (s *Service) Summary(ctx context.Context, userID, base string) (*Summary, error) {
	if base == "" {
		base = s.config.BaseCurrency
	}
	currency, ok := money.Lookup(base)
	if !ok {
		return nil, apperror.Invalid("currency", "currency.unknown", nil)
	}

	var accounts []*models.Account
	err := s.view(ctx, func(l repository.Ledger) error {
		var err error
		accounts, err = l.ListAccounts(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	date := s.now()
	summary := &Summary{Currency: currency.Code, Date: date, Accounts: []AccountBalance{}, Total: decimal.Zero}
	for _, a := range accounts {
		if a.Status != models.AccountActive {
			continue
		}
		converted, err := s.rates.Convert(ctx, a.CurrentBalance, a.Currency, currency.Code, date)
		if err != nil {
			return nil, apperror.Unavailable("rates.unavailable", err)
		}
		summary.Accounts = append(summary.Accounts, AccountBalance{
			AccountID: a.ID,
			Name:      a.Name,
			Currency:  a.Currency,
			Balance:   a.CurrentBalance,
			Converted: converted,
		})
		summary.Total = summary.Total.Add(converted)
	}
	return summary, nil
}

// Rates returns the day's rate table used by summaries
func (s *Service) Rates(ctx context.Context) (map[string]decimal.Decimal, error) {
	table, err := s.rates.Rates(ctx, s.now())
	if err != nil {
		return nil, apperror.Unavailable("rates.unavailable", err)
	}
	return table, nil
}
