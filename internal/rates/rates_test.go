package rates

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls int
	table map[string]decimal.Decimal
	err   error
}

func (s *countingSource) DailyRates(ctx context.Context, date time.Time) (map[string]decimal.Decimal, error) {
	s.calls++
	return s.table, s.err
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestConverter_Convert(t *testing.T) {
	source := Fixed{
		"RUB": decimal.NewFromInt(1),
		"USD": decimal.RequireFromString("90"),
		"JPY": decimal.RequireFromString("0.6"),
	}
	c := NewConverter(source, quietLogger())
	ctx := context.Background()
	date := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		amount string
		from   string
		to     string
		want   string
	}{
		{"same currency rounds", "10.005", "RUB", "RUB", "10.01"},
		{"to base", "2", "USD", "RUB", "180"},
		{"from base", "100", "RUB", "USD", "1.11"},
		{"zero digit target", "100", "USD", "JPY", "15000"},
		{"negative", "-1", "USD", "RUB", "-90"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Convert(ctx, decimal.RequireFromString(tt.amount), tt.from, tt.to, date)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}

	_, err := c.Convert(ctx, decimal.NewFromInt(1), "EUR", "RUB", date)
	assert.ErrorIs(t, err, ErrUnknownRate)

	_, err = c.Convert(ctx, decimal.NewFromInt(1), "RUB", "XXX", date)
	assert.ErrorIs(t, err, ErrUnknownRate)
}

func TestConverter_CachesPerDay(t *testing.T) {
	source := &countingSource{table: map[string]decimal.Decimal{"RUB": decimal.NewFromInt(1), "USD": decimal.NewFromInt(90)}}
	c := NewConverter(source, quietLogger())
	ctx := context.Background()
	day := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	_, err := c.Rates(ctx, day)
	require.NoError(t, err)
	_, err = c.Rates(ctx, day.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)

	_, err = c.Rates(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestConverter_SourceError(t *testing.T) {
	source := &countingSource{err: errors.New("down")}
	c := NewConverter(source, quietLogger())

	_, err := c.Convert(context.Background(), decimal.NewFromInt(1), "USD", "RUB", time.Now())
	assert.Error(t, err)

	// failures are not cached
	_, _ = c.Rates(context.Background(), time.Now())
	assert.Equal(t, 2, source.calls)
}
