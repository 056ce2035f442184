package fixtures

import (
	"testing"

	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	seed, err := Default()
	require.NoError(t, err)
	require.Len(t, seed.Accounts, 2)
	assert.Equal(t, "Cash", seed.Accounts[0].Name)
	assert.Equal(t, models.AccountStandard, seed.Accounts[0].Kind)
}

func TestSeed_TreeHasFreshIDs(t *testing.T) {
	seed, err := Default()
	require.NoError(t, err)

	first, err := seed.Tree()
	require.NoError(t, err)
	second, err := seed.Tree()
	require.NoError(t, err)

	assert.Equal(t, first.Len(), second.Len())
	assert.NotEqual(t, "blank", first.Blank().ID)
	assert.NotEqual(t, first.Blank().ID, second.Blank().ID)
	assert.Equal(t, "Transfer", first.Transfer().Name)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml", "categories: [unterminated"},
		{"tree without system nodes", "categories:\n  id: root\n  name: All\n  type: any\n"},
		{"account without currency", `
categories:
  id: root
  name: All
  type: any
  system: true
  children:
    - {id: b, name: B, type: any, system: true, blank: true}
    - {id: t, name: T, type: any, system: true, transfer: true}
accounts:
  - name: Cash
    kind: standard
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
