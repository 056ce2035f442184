// Package rates converts amounts between currencies with a fixed daily rate lookup
package rates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dan9191/finance-ledger/internal/money"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrUnknownRate is returned when a currency has no rate for the day
var ErrUnknownRate = errors.New("unknown rate")

// maxCachedDays bounds the per-day cache
const maxCachedDays = 31

// Source provides the rates of a day, each the price of one unit in a common base currency
type Source interface {
	DailyRates(ctx context.Context, date time.Time) (map[string]decimal.Decimal, error)
}

// Fixed is a Source returning the same rates for every day
type Fixed map[string]decimal.Decimal

// DailyRates implements Source
func (f Fixed) DailyRates(ctx context.Context, date time.Time) (map[string]decimal.Decimal, error) {
	return f, nil
}

// Converter converts amounts using one rate table per day
type Converter struct {
	source Source
	log    *logrus.Logger

	mu    sync.Mutex
	cache map[string]map[string]decimal.Decimal
}

// NewConverter creates a new Converter
func NewConverter(source Source, log *logrus.Logger) *Converter {
	return &Converter{
		source: source,
		log:    log,
		cache:  make(map[string]map[string]decimal.Decimal),
	}
}

// Rates returns the rate table for the day, fetching it once per day
func (c *Converter) Rates(ctx context.Context, date time.Time) (map[string]decimal.Decimal, error) {
	key := date.UTC().Format("2006-01-02")

	c.mu.Lock()
	cached, ok := c.cache[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	table, err := c.source.DailyRates(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rates for %s: %w", key, err)
	}

	c.mu.Lock()
	if len(c.cache) >= maxCachedDays {
		c.cache = make(map[string]map[string]decimal.Decimal)
	}
	c.cache[key] = table
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"date": key, "rates": len(table)}).Debug("Rates cached")
	return table, nil
}

// Convert converts amount from one currency to another at the day's rates.
// The result is rounded to the target currency's decimal digits.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error) {
	target, ok := money.Lookup(to)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownRate, to)
	}
	if from == to {
		return target.Round(amount), nil
	}

	table, err := c.Rates(ctx, date)
	if err != nil {
		return decimal.Zero, err
	}
	fromRate, ok := table[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownRate, from)
	}
	toRate, ok := table[to]
	if !ok || toRate.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownRate, to)
	}
	return target.Round(amount.Mul(fromRate).Div(toRate)), nil
}
