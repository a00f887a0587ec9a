package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	tests := []struct {
		name       string
		staffName  string
		expiration time.Duration
		secret     string
	}{
		{"valid token generation", "Dr. Reyes", 15 * time.Minute, "test-secret-key-32-characters!"},
		{"short expiration", "Front Desk", time.Second, "test-secret"},
		{"long expiration", "Manager", 24 * time.Hour, "test-secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateToken(tt.staffName, tt.expiration, tt.secret)
			require.NoError(t, err)
			assert.Greater(t, len(token), 100)
		})
	}
}

func TestValidateToken(t *testing.T) {
	secret := "validation-secret-key-32-chars"

	validToken, err := GenerateToken("Dr. Reyes", time.Hour, secret)
	require.NoError(t, err)
	expiredToken, err := GenerateToken("Dr. Reyes", -time.Hour, secret)
	require.NoError(t, err)
	anonymousToken, err := GenerateToken("", time.Hour, secret)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		secret  string
		wantErr bool
	}{
		{"valid token", validToken, secret, false},
		{"expired token", expiredToken, secret, true},
		{"wrong secret", validToken, "wrong-secret", true},
		{"no staff name", anonymousToken, secret, true},
		{"invalid token format", "invalid.token.format", secret, true},
		{"empty token", "", secret, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ValidateToken(tt.token, tt.secret)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Dr. Reyes", claims.StaffName)
		})
	}
}

func TestClaimsTimestamps(t *testing.T) {
	secret := "timestamp-test-secret"
	expiration := time.Hour

	before := time.Now().Add(-time.Second)
	token, err := GenerateToken("Front Desk", expiration, secret)
	require.NoError(t, err)
	after := time.Now().Add(time.Second)

	claims, err := ValidateToken(token, secret)
	require.NoError(t, err)

	assert.WithinRange(t, claims.IssuedAt.Time, before, after)
	assert.WithinRange(t, claims.NotBefore.Time, before, after)
	assert.WithinRange(t, claims.ExpiresAt.Time, before.Add(expiration), after.Add(expiration))
	assert.Equal(t, "Front Desk", claims.Subject)
}

func BenchmarkValidateToken(b *testing.B) {
	secret := "benchmark-secret-key"
	token, _ := GenerateToken("benchmark-staff", 15*time.Minute, secret)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ValidateToken(token, secret); err != nil {
			b.Fatalf("ValidateToken() error = %v", err)
		}
	}
}
