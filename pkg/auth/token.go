package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/permgate/pkg/rbac"
)

const (
	// TokenPrefix identifies permgate tokens
	TokenPrefix = "permgate_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates and validates API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token
// Format: permgate_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encodedToken

	return fullToken, tg.HashToken(fullToken), tg.ExtractPrefix(fullToken), nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// ExtractPrefix returns the displayable prefix (first 8 chars after permgate_)
func (tg *TokenGenerator) ExtractPrefix(token string) string {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) >= 8 {
		return TokenPrefix + encodedPart[:8]
	}

	return token
}

// TokenStore persists API tokens in the api_tokens table and resolves
// presented tokens to the owning user's Principal
type TokenStore struct {
	db        *sql.DB
	generator *TokenGenerator
	now       func() time.Time
}

// NewTokenStore creates a new token store
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{
		db:        db,
		generator: NewTokenGenerator(),
		now:       time.Now,
	}
}

// CreateToken issues a token for a user. The plaintext is returned once and never stored.
func (ts *TokenStore) CreateToken(ctx context.Context, userID int64, name string, expiresAt *time.Time) (*APIToken, string, error) {
	token, tokenHash, tokenPrefix, err := ts.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	apiToken := &APIToken{
		UserID:      userID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Name:        name,
		ExpiresAt:   expiresAt,
		CreatedAt:   ts.now(),
	}

	query := `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err = ts.db.QueryRowContext(ctx, query,
		apiToken.UserID,
		apiToken.TokenHash,
		apiToken.TokenPrefix,
		apiToken.Name,
		nullTime(apiToken.ExpiresAt),
		apiToken.CreatedAt,
	).Scan(&apiToken.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to store token: %w", err)
	}

	return apiToken, token, nil
}

// Authenticate resolves a presented token to the owning user's Principal
// and records its use
func (ts *TokenStore) Authenticate(ctx context.Context, token string) (*rbac.Principal, error) {
	if err := ts.generator.ValidateTokenFormat(token); err != nil {
		return nil, ErrInvalidToken
	}

	query := `
		SELECT t.id, t.user_id, t.expires_at, t.revoked_at, u.role
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1
	`
	var (
		tokenID, userID int64
		expiresAt       sql.NullTime
		revokedAt       sql.NullTime
		role            string
	)
	err := ts.db.QueryRowContext(ctx, query, ts.generator.HashToken(token)).Scan(&tokenID, &userID, &expiresAt, &revokedAt, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	now := ts.now()
	if revokedAt.Valid {
		return nil, ErrTokenRevoked
	}
	if expiresAt.Valid && !now.Before(expiresAt.Time) {
		return nil, ErrTokenExpired
	}

	if _, err := ts.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`, now, tokenID); err != nil {
		return nil, fmt.Errorf("failed to record token use: %w", err)
	}

	return &rbac.Principal{UserID: userID, Role: rbac.AccountRole(role)}, nil
}

// RevokeToken marks a token revoked; revoking twice is a no-op
func (ts *TokenStore) RevokeToken(ctx context.Context, tokenID int64) error {
	result, err := ts.db.ExecContext(ctx,
		`UPDATE api_tokens SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`,
		ts.now(), tokenID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		var one int
		err := ts.db.QueryRowContext(ctx, `SELECT 1 FROM api_tokens WHERE id = $1`, tokenID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		if err != nil {
			return fmt.Errorf("failed to revoke token: %w", err)
		}
	}
	return nil
}

// ListUserTokens lists a user's tokens, newest first, including revoked ones
func (ts *TokenStore) ListUserTokens(ctx context.Context, userID int64) ([]*APIToken, error) {
	query := `
		SELECT id, user_id, token_prefix, name, expires_at, last_used_at, created_at, revoked_at
		FROM api_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := ts.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	tokens := []*APIToken{}
	for rows.Next() {
		var (
			t                              APIToken
			expiresAt, lastUsed, revokedAt sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.TokenPrefix, &t.Name, &expiresAt, &lastUsed, &t.CreatedAt, &revokedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		t.ExpiresAt = timePtr(expiresAt)
		t.LastUsedAt = timePtr(lastUsed)
		t.RevokedAt = timePtr(revokedAt)
		tokens = append(tokens, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	return tokens, nil
}

// PurgeInactive deletes tokens revoked or expired before cutoff and returns how many were removed
func (ts *TokenStore) PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := ts.db.ExecContext(ctx, `
		DELETE FROM api_tokens
		WHERE (revoked_at IS NOT NULL AND revoked_at < $1)
		   OR (expires_at IS NOT NULL AND expires_at < $1)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to purge tokens: %w", err)
	}
	return n, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
