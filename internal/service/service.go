package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Dan9191/finance-ledger/internal/apperror"
	"github.com/Dan9191/finance-ledger/internal/category"
	"github.com/Dan9191/finance-ledger/internal/config"
	"github.com/Dan9191/finance-ledger/internal/feed"
	"github.com/Dan9191/finance-ledger/internal/ledger"
	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/Dan9191/finance-ledger/internal/money"
	"github.com/Dan9191/finance-ledger/internal/rates"
	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// maxAttempts bounds retries of a command that lost a version race
const maxAttempts = 3

// dateLayouts are the accepted formats of the created field
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// Service handles business logic
type Service struct {
	store  repository.Store
	engine *ledger.Engine
	feed   *feed.Querier
	rates  *rates.Converter
	log    *logrus.Logger
	config *config.Config
	now    func() time.Time
}

// NewService initializes a new service
func NewService(store repository.Store, engine *ledger.Engine, rates *rates.Converter, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{
		store:  store,
		engine: engine,
		feed:   feed.NewQuerier(store, log, cfg.FeedDefaultLimit, cfg.FeedMaxLimit),
		rates:  rates,
		log:    log,
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// update runs fn in a store transaction, retrying when an account version
// changed underneath it, and translates the outcome into an apperror
func (s *Service) update(ctx context.Context, fn func(l repository.Ledger) error) error {
	for attempt := 1; ; attempt++ {
		err := s.store.Update(ctx, fn)
		if errors.Is(err, repository.ErrVersionConflict) && attempt < maxAttempts {
			s.log.WithField("attempt", attempt).Debug("Version conflict, retrying command")
			continue
		}
		return translate(err)
	}
}

// view runs fn in a read-only store transaction
func (s *Service) view(ctx context.Context, fn func(l repository.Ledger) error) error {
	return translate(s.store.View(ctx, fn))
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	if errors.Is(err, repository.ErrVersionConflict) {
		return apperror.Conflict("ledger.conflict", err)
	}
	return apperror.Storage(err)
}

// notFound maps repository.ErrNotFound to a NotFound error on field
func notFound(err error, field, code string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.NotFound(field, code)
	}
	return err
}

func parseCreated(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, apperror.Required(field)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperror.Invalid(field, field+".invalid", nil)
}

func parseAmount(field, value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, apperror.Required(field)
	}
	d, err := money.Parse(value)
	if err != nil {
		return decimal.Zero, apperror.Invalid(field, field+".invalid", err)
	}
	return d, nil
}

// roundFor rounds an amount to the account's currency
func roundFor(account *models.Account, amount decimal.Decimal) (decimal.Decimal, error) {
	c, ok := money.Lookup(account.Currency)
	if !ok {
		return decimal.Zero, apperror.Internalf("account %s has unknown currency %s", account.ID, account.Currency)
	}
	return c.Round(amount), nil
}

func (s *Service) loadAccount(ctx context.Context, l repository.Ledger, userID, id, field string) (*models.Account, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperror.Required(field)
	}
	account, err := l.GetAccount(ctx, userID, id)
	if err != nil {
		return nil, notFound(err, field, "account.notFound")
	}
	return account, nil
}

func (s *Service) loadTree(ctx context.Context, l repository.Ledger, userID string) (*category.Tree, error) {
	blob, err := l.GetCategoryTree(ctx, userID)
	if err != nil {
		return nil, notFound(err, "category", "category.treeNotFound")
	}
	tree, err := category.Parse(blob)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return tree, nil
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
