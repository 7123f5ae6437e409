package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func legacyAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := legacyAdminStore()

	manager := NewAuthManager("test-secret", time.Hour, "123456", store, nil)
	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.NotEqual(t, "admin123", users[0].Password)
	assert.True(t, strings.HasPrefix(users[0].Password, "$2"), "expected bcrypt hash, got %s", users[0].Password)
}

func TestCreateUserStoresPasswordHash(t *testing.T) {
	store := legacyAdminStore()
	manager := NewAuthManager("test-secret", time.Hour, "123456", store, nil)
	ctx := context.Background()

	user, err := manager.CreateUser(ctx, domain.CashierCreateRequest{Username: "KasirBaru", Password: "pass1234"}, domain.RoleCashier)
	require.NoError(t, err)
	assert.Equal(t, "kasirbaru", user.Username)

	saved := store.users["kasirbaru"]
	assert.NotEqual(t, "pass1234", saved.Password)
	assert.True(t, strings.HasPrefix(saved.Password, "$2"))

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "kasirbaru", Password: "pass1234"})
	require.NoError(t, err)

	_, err = manager.CreateUser(ctx, domain.CashierCreateRequest{Username: "kasirbaru", Password: "pass1234"}, domain.RoleCashier)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = manager.CreateUser(ctx, domain.CashierCreateRequest{Username: "root2", Password: "pass1234"}, domain.RoleAdmin)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestListUsersHidesAdmins(t *testing.T) {
	store := legacyAdminStore()
	manager := NewAuthManager("test-secret", time.Hour, "", store, nil)
	_, err := manager.CreateUser(context.Background(), domain.CashierCreateRequest{Username: "shiftlead", Password: "pass1234"}, domain.RoleManager)
	require.NoError(t, err)

	users := manager.ListUsers(context.Background())
	require.Len(t, users, 1)
	assert.Equal(t, domain.RoleManager, users[0].Role)
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321", &userStoreStub{}, nil)

	assert.NotEqual(t, "654321", manager.managerPIN)
	assert.True(t, manager.ValidateManagerPIN("654321"))
	assert.False(t, manager.ValidateManagerPIN("111111"))
}

func TestManagerPINDisabledWhenUnset(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "", &userStoreStub{}, nil)
	assert.False(t, manager.ValidateManagerPIN("disabled"))
	assert.False(t, manager.ValidateManagerPIN(""))
}

func TestParseTokenRejectsForeignIssuerAndExpiry(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "", legacyAdminStore(), nil)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)
	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "admin", Role: domain.RoleAdmin}, actor)

	foreign := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "admin",
			Issuer:    "someone-else",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleAdmin,
	})
	signed, err := foreign.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = manager.ParseToken(signed)
	require.ErrorIs(t, err, errInvalidToken)

	expired, err := manager.sign("admin", domain.RoleAdmin, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = manager.ParseToken(expired)
	require.ErrorIs(t, err, errInvalidToken)
}
