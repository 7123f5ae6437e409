package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kasirledger/backend/internal/config"
	"kasirledger/backend/internal/money"
)

func TestValidateSecurityConfig(t *testing.T) {
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"}))
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "123456"}))
	assert.NoError(t, validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"}))
}

func TestValidatePINStrength(t *testing.T) {
	for _, weak := range []string{"444444", "234567", "987654", "112233"} {
		assert.Error(t, validatePINStrength(weak), weak)
	}
	assert.NoError(t, validatePINStrength("739154"))
}

func TestBuildInMemoryServesHealth(t *testing.T) {
	cfg := config.Config{
		AuthSecret:            "0123456789abcdef0123456789abcdef",
		ManagerPIN:            "739154",
		AccessTokenTTLMinutes: 60,
		StoreID:               "main-store",
		AllowedOrigin:         "*",
		LoyaltyMembers:        map[string]string{"cust-1": "GOLD"},
		Engine:                config.DefaultEngine(),
	}
	t.Cleanup(func() { money.Scale = 2 })

	handler, closers, err := build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, closers)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
