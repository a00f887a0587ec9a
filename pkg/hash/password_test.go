package hash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"long password", "front-desk-2024!", false},
		{"minimum length", "Pass123!", false},
		{"too short", "short", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hashed, err := Hash(tt.password)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPasswordTooShort)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, tt.password, hashed)
			assert.True(t, strings.HasPrefix(hashed, "$2a$12$"), hashed)
		})
	}
}

func TestHashIsSalted(t *testing.T) {
	a, err := Hash("same-password")
	require.NoError(t, err)
	b, err := Hash("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestMatches(t *testing.T) {
	hashed, err := Hash("front-desk-2024!")
	require.NoError(t, err)

	ok, err := Matches(hashed, "front-desk-2024!")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Matches(hashed, "Front-desk-2024!")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Matches("not-a-hash", "front-desk-2024!")
	assert.Error(t, err)
	assert.False(t, ok)
}
