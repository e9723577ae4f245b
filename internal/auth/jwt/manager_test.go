package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailhub/backend/internal/domain"
)

const testSecret = "test-secret-key-at-least-32-characters"

func testAlias() *domain.Alias {
	return &domain.Alias{ID: "alias-1", DomainID: "dom-1", Address: "inbox@example.com"}
}

func TestManager_IssueAndValidate(t *testing.T) {
	m := NewManager(testSecret, "mailhub", time.Hour)

	token, err := m.Issue(testAlias())
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alias-1", claims.AliasID())
	assert.Equal(t, "dom-1", claims.DomainID)
	assert.Equal(t, "inbox@example.com", claims.Address)
	assert.Equal(t, "mailhub", claims.Issuer)
}

func TestManager_Issue_MissingIdentity(t *testing.T) {
	m := NewManager(testSecret, "mailhub", time.Hour)

	_, err := m.Issue(nil)
	assert.Error(t, err)
	_, err = m.Issue(&domain.Alias{ID: "alias-1"})
	assert.Error(t, err)
}

func TestManager_ValidateToken_Invalid(t *testing.T) {
	m := NewManager(testSecret, "mailhub", time.Hour)
	token, err := m.Issue(testAlias())
	require.NoError(t, err)

	tests := []struct {
		name    string
		manager *Manager
		token   string
	}{
		{"垃圾令牌", m, "not-a-token"},
		{"密钥不同", NewManager("another-secret-key-with-32-characters", "mailhub", time.Hour), token},
		{"签发者不同", NewManager(testSecret, "someone-else", time.Hour), token},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.manager.ValidateToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestManager_ValidateToken_Expired(t *testing.T) {
	m := NewManager(testSecret, "mailhub", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := m.Issue(testAlias())
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestManager_ValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	m := NewManager(testSecret, "mailhub", time.Hour)

	claims := Claims{
		DomainID: "dom-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "mailhub",
			Subject:   "alias-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
