package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
)

func newTestService() *JWTService {
	return NewJWTService("test-signing-key", "attest", "profile-api")
}

func TestJWTService_RoundTrip(t *testing.T) {
	svc := newTestService()
	userID := id.NewUserID()

	tokenString, err := svc.GenerateAccessToken(userID, []string{"profile", "email"}, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, "profile email", claims.Scope)
}

func TestJWTService_RejectsExpired(t *testing.T) {
	svc := newTestService()

	tokenString, err := svc.GenerateAccessToken(id.NewUserID(), nil, -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(tokenString)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Contains(t, err.Error(), "expired")
}

func TestJWTService_RejectsWrongKey(t *testing.T) {
	tokenString, err := newTestService().GenerateAccessToken(id.NewUserID(), nil, time.Hour)
	require.NoError(t, err)

	other := NewJWTService("other-key", "attest", "profile-api")
	_, err = other.ValidateToken(tokenString)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestJWTService_RejectsWrongAudience(t *testing.T) {
	issued := NewJWTService("test-signing-key", "attest", "another-api")
	tokenString, err := issued.GenerateAccessToken(id.NewUserID(), nil, time.Hour)
	require.NoError(t, err)

	_, err = newTestService().ValidateToken(tokenString)
	require.Error(t, err)
}

func TestAdapter_SplitsScopes(t *testing.T) {
	svc := newTestService()
	userID := id.NewUserID()
	tokenString, err := svc.GenerateAccessToken(userID, []string{"profile", "identities"}, time.Hour)
	require.NoError(t, err)

	claims, err := NewAdapter(svc).ValidateToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, []string{"profile", "identities"}, claims.Scopes)
}
