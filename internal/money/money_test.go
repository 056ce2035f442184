package money

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"10", "10", false},
		{" -12.50 ", "-12.5", false},
		{"0.001", "0.001", false},
		{"1e2", "100", false},
		{"", "", true},
		{"abc", "", true},
		{"NaN", "", true},
		{"Inf", "", true},
		{"1.2.3", "", true},
		{"1e18", "1000000000000000000", false},
		{"1e100000000", "", true},
		{"1e-100000000", "", true},
		{"1e19", "", true},
		{"0.0000000000000000001", "", true},
		{"1234567890123456789012345678901", "", true},
		{strings.Repeat("9", 65), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidAmount))
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestRoundTo(t *testing.T) {
	tests := []struct {
		input  string
		digits int32
		want   string
	}{
		{"1.005", 2, "1.01"},
		{"-1.005", 2, "-1.01"},
		{"2.5", 0, "3"},
		{"-2.5", 0, "-3"},
		{"1.2345", 3, "1.235"},
		{"7", 2, "7"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := RoundTo(decimal.RequireFromString(tt.input), tt.digits)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestLookup(t *testing.T) {
	jpy, ok := Lookup("jpy")
	require.True(t, ok)
	assert.Equal(t, int32(0), jpy.DecimalDigits)
	assert.True(t, jpy.Round(decimal.RequireFromString("99.5")).Equal(decimal.NewFromInt(100)))

	_, ok = Lookup("XXX")
	assert.False(t, ok)
}

func TestArithmetic(t *testing.T) {
	a := decimal.RequireFromString("0.1")
	b := decimal.RequireFromString("0.2")

	assert.True(t, Add(a, b).Equal(decimal.RequireFromString("0.3")))
	assert.True(t, Negate(a).Equal(decimal.RequireFromString("-0.1")))
	assert.Equal(t, -1, Compare(a, b))
	assert.Equal(t, 0, Compare(Add(), decimal.Zero))
}
