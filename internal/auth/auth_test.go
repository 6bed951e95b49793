package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finovahq/javob/internal/model"
)

func newTestManager(t *testing.T, expiration time.Duration) *JWTManager {
	t.Helper()
	m, err := NewJWTManager("", "", expiration)
	require.NoError(t, err)
	return m
}

func TestIssueAndValidateToken(t *testing.T) {
	m := newTestManager(t, time.Hour)

	token, exp, err := m.IssueToken("admin", model.RoleAdmin)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.UserID)
	assert.Equal(t, model.RoleAdmin, claims.Role)
	assert.Equal(t, "javob", claims.Issuer)
}

func TestValidateExpiredToken(t *testing.T) {
	m := newTestManager(t, -time.Minute)

	token, _, err := m.IssueToken("admin", model.RoleAdmin)
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenFromOtherKeyPair(t *testing.T) {
	issuer := newTestManager(t, time.Hour)
	verifier := newTestManager(t, time.Hour)

	token, _, err := issuer.IssueToken("admin", model.RoleAdmin)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateGarbageToken(t *testing.T) {
	m := newTestManager(t, time.Hour)

	_, err := m.ValidateToken("not.a.jwt")
	assert.Error(t, err)
}

func TestNewJWTManagerMissingFiles(t *testing.T) {
	_, err := NewJWTManager("/nonexistent/priv.pem", "/nonexistent/pub.pem", time.Hour)
	assert.Error(t, err)
}
