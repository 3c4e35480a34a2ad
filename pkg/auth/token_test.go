package auth

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenGenerator_GeneratedTokensRoundTrip(t *testing.T) {
	tg := NewTokenGenerator()
	seen := make(map[string]struct{})

	for i := 0; i < 50; i++ {
		token, hash, prefix, err := tg.GenerateToken()
		require.NoError(t, err)

		require.NoError(t, tg.ValidateTokenFormat(token))
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, TokenPrefix))
		require.NoError(t, err)
		assert.Len(t, raw, TokenLength)

		assert.Equal(t, tg.HashToken(token), hash, "the stored hash is the lookup hash")
		assert.Equal(t, tg.ExtractPrefix(token), prefix)
		assert.Len(t, prefix, len(TokenPrefix)+8)
		assert.True(t, strings.HasPrefix(token, prefix))

		_, dup := seen[hash]
		require.False(t, dup, "token %d repeated an earlier hash", i)
		seen[hash] = struct{}{}
	}
}

func TestTokenGenerator_HashToken(t *testing.T) {
	tg := NewTokenGenerator()

	tests := []struct {
		token string
		want  string
	}{
		{"permgate_AAAAAAAAAAA", "1877a3a3246496e7c61eda166b2423d83f23fa5f0d95b5df2c4190bf483f270e"},
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tg.HashToken(tt.token), "hash of %q", tt.token)
	}

	assert.NotEqual(t, tg.HashToken("permgate_a"), tg.HashToken("permgate_b"))
}

func TestTokenGenerator_ValidateTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()

	tests := []struct {
		name    string
		token   string
		wantErr string
	}{
		{name: "url-safe body", token: "permgate_-_abcXYZ09"},
		{name: "bearer scheme left in", token: "Bearer permgate_abc", wantErr: "must start with"},
		{name: "other product prefix", token: "spoke_abcdef", wantErr: "must start with"},
		{name: "prefix only", token: "permgate_", wantErr: "too short"},
		{name: "padded standard base64", token: "permgate_YWJj+/==", wantErr: "invalid token encoding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tg.ValidateTokenFormat(tt.token)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestTokenGenerator_ExtractPrefix(t *testing.T) {
	tg := NewTokenGenerator()

	tests := []struct {
		token string
		want  string
	}{
		{"permgate_0123456789abcdef", "permgate_01234567"},
		{"permgate_01234567", "permgate_01234567"},
		{"permgate_0123", "permgate_0123"},
		{"not-a-token", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tg.ExtractPrefix(tt.token), "prefix of %q", tt.token)
	}
}
