package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateTokenRoundTripsGroupsAndLanguages(t *testing.T) {
	mgr := NewJWTManager(DefaultJWTConfig("test-secret"))
	tenantID := uuid.New()

	token, err := mgr.GenerateToken(tenantID, "acme", []string{"eng", "support"}, []string{"en", "ja"})
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, tenantID.String(), claims.TenantID)
	assert.Equal(t, []string{"eng", "support"}, claims.GroupIDs)
	assert.Equal(t, []string{"en", "ja"}, claims.Languages)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	mgr := NewJWTManager(DefaultJWTConfig("secret-a"))
	token, err := mgr.GenerateToken(uuid.New(), "acme", nil, nil)
	require.NoError(t, err)

	other := NewJWTManager(DefaultJWTConfig("secret-b"))
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}
