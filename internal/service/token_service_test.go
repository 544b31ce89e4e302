package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-seat-booking/internal/models"
	appErrors "github.com/noah-isme/class-seat-booking/pkg/errors"
)

func TestTokenServiceRoundTrip(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "seat-booking", Expiry: time.Hour})
	token, expiresAt, err := svc.Issue(models.Actor{TenantID: "colid-1", UserID: "stu-1", Name: "Ayu", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, models.Actor{TenantID: "colid-1", UserID: "stu-1", Name: "Ayu", Role: models.RoleStudent}, claims.Actor())
}

func TestTokenServiceRejects(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "seat-booking", Expiry: time.Hour})

	other := NewTokenService(TokenConfig{Secret: "other", Issuer: "seat-booking"})
	forged, _, err := other.Issue(models.Actor{TenantID: "colid-1", UserID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)

	wrongIssuer := NewTokenService(TokenConfig{Secret: "secret", Issuer: "elsewhere"})
	foreign, _, err := wrongIssuer.Issue(models.Actor{TenantID: "colid-1", UserID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)

	noTenant, _, err := svc.Issue(models.Actor{UserID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)

	badRole, _, err := svc.Issue(models.Actor{TenantID: "colid-1", UserID: "stu-1", Role: "PRINCIPAL"})
	require.NoError(t, err)

	expiredSvc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "seat-booking", Expiry: time.Minute})
	expiredSvc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _, err := expiredSvc.Issue(models.Actor{TenantID: "colid-1", UserID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &models.JWTClaims{UserID: "stu-1", TenantID: "colid-1", Role: models.RoleStudent})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"forged":       forged,
		"issuer":       foreign,
		"no tenant":    noTenant,
		"unknown role": badRole,
		"expired":      expired,
		"unsigned":     unsigned,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			require.Error(t, err)
			assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
		})
	}
}
