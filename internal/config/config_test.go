package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "bolt")
	t.Setenv("FEED_DEFAULT_LIMIT", "")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "bolt", cfg.StoreDriver)
	assert.Equal(t, 50, cfg.FeedDefaultLimit)
	assert.Equal(t, 200, cfg.FeedMaxLimit)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo"}},
		{"bad limit", map[string]string{"STORE_DRIVER": "bolt", "FEED_DEFAULT_LIMIT": "ten"}},
		{"limit above max", map[string]string{"STORE_DRIVER": "bolt", "FEED_DEFAULT_LIMIT": "300", "FEED_MAX_LIMIT": "200"}},
		{"max limit above cap", map[string]string{"STORE_DRIVER": "bolt", "FEED_MAX_LIMIT": "201"}},
		{"max limit zero", map[string]string{"STORE_DRIVER": "bolt", "FEED_DEFAULT_LIMIT": "0", "FEED_MAX_LIMIT": "0"}},
		{"empty secret", map[string]string{"STORE_DRIVER": "bolt", "JWT_SECRET": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewConfig()
			assert.Error(t, err)
		})
	}
}
