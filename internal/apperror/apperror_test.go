package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Wrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("save: %w", Storage(cause))

	assert.Equal(t, KindStorage, KindOf(err))
	assert.Equal(t, "storage.failure", CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		kind  Kind
		code  string
		field string
	}{
		{"required", Required("amount"), KindValidationRequired, "amount.required", "amount"},
		{"invalid", Invalid("created", "created.invalid", nil), KindValidationInvalid, "created.invalid", "created"},
		{"not found", NotFound("account", "account.notFound"), KindNotFound, "account.notFound", "account"},
		{"rule", Rule("category", "category.invalidType"), KindBusinessRule, "category.invalidType", "category"},
		{"conflict", Conflict("ledger.conflict", nil), KindConflict, "ledger.conflict", ""},
		{"unauthorized", Unauthorized("credentials.invalid"), KindUnauthorized, "credentials.invalid", ""},
		{"unavailable", Unavailable("rates.unavailable", nil), KindUnavailable, "rates.unavailable", ""},
		{"internal", Internalf("boom %d", 1), KindInternal, CodeInternal, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.field, tt.err.Field)
		})
	}
}

func TestUnclassified(t *testing.T) {
	err := errors.New("plain")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, CodeInternal, CodeOf(err))

	_, ok := As(err)
	assert.False(t, ok)
}
