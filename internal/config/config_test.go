package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")
	t.Setenv("POS_CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
	assert.True(t, cfg.Engine.OverpayFactor.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, cfg.Engine.MinTolerance.Equal(decimal.NewFromInt(1)))
}

func TestLoadOverlaysEngineFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  overpay_factor: "2"
  default_tax_rate: "18"
`), 0o600))
	t.Setenv("POS_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Engine.OverpayFactor.Equal(decimal.NewFromInt(2)))
	assert.True(t, cfg.Engine.DefaultTaxRate.Equal(decimal.NewFromInt(18)))
	assert.True(t, cfg.Engine.MinTolerance.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int32(2), cfg.Engine.CurrencyScale)
}

func TestLoadEngineFileRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"factor below one": "engine:\n  overpay_factor: \"0.5\"\n",
		"not a number":     "engine:\n  min_tolerance: \"abc\"\n",
		"tax above 100":    "engine:\n  default_tax_rate: \"101\"\n",
		"broken yaml":      "engine: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "pos.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := LoadEngineFile(path, DefaultEngine())
			require.Error(t, err)
		})
	}
}

func TestLoadEngineFileMissing(t *testing.T) {
	_, err := LoadEngineFile(filepath.Join(t.TempDir(), "absent.yaml"), DefaultEngine())
	require.Error(t, err)
}

func TestLoadParsesLoyaltyMembers(t *testing.T) {
	t.Setenv("POS_CONFIG_FILE", "")
	t.Setenv("LOYALTY_MEMBERS", "cust-1:gold, cust-2:SILVER,broken,:PLATINUM")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"cust-1": "GOLD", "cust-2": "SILVER"}, cfg.LoyaltyMembers)
}
