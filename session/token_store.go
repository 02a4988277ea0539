package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/autorent-leon/consoleauth/jwt"
)

// ErrEmptyToken is returned by [TokenStore.Save] for a blank token.
var ErrEmptyToken = errors.New("empty session token")

// Verifier checks a token signature and returns its claims.
// [*jwt.Manager] implements it.
type Verifier interface {
	Parse(token string) (*jwt.SessionClaims, error)
}

// TokenStoreOption configures a [TokenStore].
type TokenStoreOption func(*TokenStore)

// WithVerifier makes IsExpired also reject tokens whose signature does not
// verify.
func WithVerifier(v Verifier) TokenStoreOption {
	return func(s *TokenStore) { s.verifier = v }
}

// TokenStore holds the session token in a [Storage]. Nothing is kept in
// memory: every Read goes back to storage.
type TokenStore struct {
	storage  Storage
	key      string
	now      func() time.Time
	verifier Verifier
}

// NewTokenStore creates a TokenStore over storage. key defaults to
// [DefaultTokenKey] and now to time.Now.
func NewTokenStore(storage Storage, key string, now func() time.Time, opts ...TokenStoreOption) *TokenStore {
	if key == "" {
		key = DefaultTokenKey
	}
	if now == nil {
		now = time.Now
	}
	s := &TokenStore{
		storage: storage,
		key:     key,
		now:     now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read returns the stored token. ok is false when none is stored.
func (s *TokenStore) Read(ctx context.Context) (string, bool, error) {
	token, ok, err := s.storage.Get(ctx, s.key)
	if err != nil {
		return "", false, err
	}
	if !ok || strings.TrimSpace(token) == "" {
		return "", false, nil
	}
	return token, true, nil
}

// Save persists token.
func (s *TokenStore) Save(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	return s.storage.Set(ctx, s.key, token)
}

// Clear wipes the storage namespace.
func (s *TokenStore) Clear(ctx context.Context) error {
	return s.storage.Clear(ctx)
}

// IsExpired decodes token and compares its exp claim with the store clock.
// Malformed tokens are expired, and so are tokens the verifier rejects
// when one is configured.
func (s *TokenStore) IsExpired(token string) bool {
	if s.verifier != nil {
		if _, err := s.verifier.Parse(token); err != nil {
			return true
		}
	}
	return jwt.IsExpired(token, s.now())
}

// Claims decodes the token without verification.
func (s *TokenStore) Claims(token string) (*jwt.SessionClaims, error) {
	return jwt.Decode(token)
}
