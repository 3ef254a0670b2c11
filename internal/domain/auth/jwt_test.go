package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "fiscalcore/internal/core/context"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("secret"))

	token, expires, err := svc.GenerateAccessToken(appctx.UserContext{
		UserID:   "u-1",
		TenantID: "t-1",
		Roles:    []string{RoleBillingAdmin},
	})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expires, time.Minute)

	user, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.UserID)
	assert.Equal(t, "t-1", user.TenantID)
	assert.Equal(t, []string{RoleBillingAdmin}, user.Roles)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService(DefaultJWTConfig("secret"))
	valid := appctx.UserContext{UserID: "u-1", TenantID: "t-1"}

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTService(DefaultJWTConfig("other"))
		token, _, err := other.GenerateAccessToken(valid)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewJWTService(DefaultJWTConfig("secret"))
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, _, err := old.GenerateAccessToken(valid)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		cfg := DefaultJWTConfig("secret")
		cfg.Issuer = "someone-else"
		token, _, err := NewJWTService(cfg).GenerateAccessToken(valid)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("no tenant", func(t *testing.T) {
		token, _, err := svc.GenerateAccessToken(appctx.UserContext{UserID: "u-1"})
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, errNoTenant)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-token")
		assert.Error(t, err)
	})
}

func TestSystemContext(t *testing.T) {
	u := SystemContext("t-9")
	assert.Equal(t, "t-9", u.TenantID)
	assert.Equal(t, SystemUserID, u.UserID)
	assert.Contains(t, u.Roles, RoleSystem)
}
