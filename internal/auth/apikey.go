// Package auth implements API key credentials for the public REST API:
// generation, one-way hashing, validation, and scope checks.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	dbpkg "codetrace/internal/db"
)

// Scope names gating access to routes. ScopeAdmin is a wildcard that
// satisfies any requirement.
const (
	ScopeWriteEvents   = "write:events"
	ScopeReadEvents    = "read:events"
	ScopeReadSessions  = "read:sessions"
	ScopeReadAnalytics = "read:analytics"
	ScopeAdmin         = "admin"
)

// KnownScopes lists every scope a key may be granted.
var KnownScopes = []string{
	ScopeWriteEvents,
	ScopeReadEvents,
	ScopeReadSessions,
	ScopeReadAnalytics,
	ScopeAdmin,
}

const (
	keyPrefix        = "ct_live_"
	keyRandomLength  = 32
	keyTotalLength   = len(keyPrefix) + keyRandomLength // 40
	visiblePrefixLen = 12
)

const keyCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Validation failure reasons. The message of each is safe to return to
// the caller verbatim.
var (
	ErrMissingKey    = errors.New("missing X-API-Key header")
	ErrInvalidFormat = errors.New("invalid API key format")
	ErrUnknownKey    = errors.New("invalid API key")
	ErrKeyExpired    = errors.New("API key has expired")
)

// GeneratedKey carries the one-time plaintext next to what gets stored.
type GeneratedKey struct {
	Plaintext string
	Hash      string
	Prefix    string
}

// GenerateKey creates a fresh credential. The plaintext exists only in
// the returned value; callers must hand it to the owner and drop it.
func GenerateKey() (*GeneratedKey, error) {
	buf := make([]byte, keyRandomLength)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	random := make([]byte, keyRandomLength)
	for i, b := range buf {
		random[i] = keyCharset[int(b)%len(keyCharset)]
	}

	plaintext := keyPrefix + string(random)
	return &GeneratedKey{
		Plaintext: plaintext,
		Hash:      HashKey(plaintext),
		Prefix:    plaintext[:visiblePrefixLen],
	}, nil
}

// HashKey returns the hex SHA-256 of a plaintext key. Deterministic so
// presented credentials can be looked up by hash.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ValidFormat reports whether a presented credential has the expected
// fixed-prefix, fixed-length shape. Checked before any lookup.
func ValidFormat(key string) bool {
	return strings.HasPrefix(key, keyPrefix) && len(key) == keyTotalLength
}

// Validation is the result of a successful credential check.
type Validation struct {
	UserID string
	Scopes []string
	Key    *dbpkg.APIKey
}

// ValidateKey checks a raw X-API-Key header value against stored keys.
// On success it stamps last_used_at from a goroutine so the write can
// never block or fail the request.
func ValidateKey(db *gorm.DB, raw string) (*Validation, error) {
	if raw == "" {
		return nil, ErrMissingKey
	}
	if !ValidFormat(raw) {
		return nil, ErrInvalidFormat
	}

	key, err := dbpkg.FindAPIKeyByHash(db, HashKey(raw))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownKey
	}
	if err != nil {
		return nil, err
	}

	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, ErrKeyExpired
	}

	go func(keyID string) {
		if err := dbpkg.TouchAPIKeyLastUsed(db, keyID); err != nil {
			log.Warn().Err(err).Str("key_id", keyID).Msg("failed to update API key last_used_at")
		}
	}(key.ID)

	return &Validation{
		UserID: key.UserID,
		Scopes: []string(key.Scopes),
		Key:    key,
	}, nil
}

// HasRequiredScopes reports whether keyScopes is a superset of required.
// The admin scope satisfies everything.
func HasRequiredScopes(keyScopes, required []string) bool {
	granted := make(map[string]bool, len(keyScopes))
	for _, s := range keyScopes {
		if s == ScopeAdmin {
			return true
		}
		granted[s] = true
	}
	for _, s := range required {
		if !granted[s] {
			return false
		}
	}
	return true
}

// IsAuthFailure reports whether err is one of the credential validation
// failures whose message may be shown to the caller.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrMissingKey) ||
		errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrUnknownKey) ||
		errors.Is(err, ErrKeyExpired)
}
