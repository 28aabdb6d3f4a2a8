package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	u, err := CreateUser("testuser", "test@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "testuser", u.Name)
	assert.Equal(t, ROLE_USER, u.Role)
	assert.Equal(t, STATUS_ACTIVE, u.Status)
	assert.NotEqual(t, "secret123", u.Password)
	assert.True(t, CheckPasswordHash("secret123", u.Password))
	assert.False(t, CheckPasswordHash("wrongpass", u.Password))
}

func TestCreateUserValidation(t *testing.T) {
	_, err := CreateUser("testuser", "not-an-email", "secret123")
	assert.Error(t, err)

	_, err = CreateUser("ab", "test@example.com", "secret123")
	assert.Error(t, err)
}

func TestIssueAPIKey(t *testing.T) {
	u := &User{}
	assert.False(t, u.HasActiveAPIKey())

	key, err := u.IssueAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "cf_"))
	assert.Equal(t, HashAPIKey(key), u.APIKeyHash)
	assert.Equal(t, key[:10], u.APIKeyPrefix)
	assert.NotNil(t, u.APIKeyCreatedAt)
	assert.True(t, u.HasActiveAPIKey())

	// Rotation invalidates the previous key.
	next, err := u.IssueAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, next)
	assert.NotEqual(t, HashAPIKey(key), u.APIKeyHash)
}

func TestIsActive(t *testing.T) {
	u := &User{Status: STATUS_ACTIVE}
	assert.True(t, u.IsActive())

	u.Status = STATUS_DISABLED
	assert.False(t, u.IsActive())
}
