package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name  string
		plain string
		want  bool
	}{
		{"too short", "ab1", false},
		{"letters only", "abcdefgh", false},
		{"digits only", "12345678", false},
		{"letters and digits", "abcdef12", true},
		{"mixed case with digit", "Passw0rdX", true},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidatePassword(tt.plain))
		})
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("abcdef12")
	require.NoError(t, err)
	assert.NotEqual(t, "abcdef12", hash)

	assert.True(t, CheckPassword(hash, "abcdef12"))
	assert.False(t, CheckPassword(hash, "wrong-pass"))
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("admin", "ADMIN", "test-secret", time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "ADMIN", claims.Role)

	_, err = ParseToken(token, "other-secret")
	assert.Error(t, err)
}
