package broker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/jihoonkang/stockpipe/internal/domain"
)

// Token validity rules. A token declares a 24-hour lifetime; it is usable
// while now < expires_at - validityBuffer, and refreshed proactively once the
// remaining time drops under refreshWindow. The upstream issues at most one
// token per day, so a refused issuance falls back to any still-valid cache.
const (
	validityBuffer = 5 * time.Minute
	refreshWindow  = 30 * time.Minute
	minTokenLength = 100
)

// TokenState describes the cached token's position in its lifecycle.
type TokenState string

const (
	TokenValid        TokenState = "VALID"
	TokenExpiringSoon TokenState = "EXPIRING_SOON"
	TokenExpired      TokenState = "EXPIRED"
	TokenMissing      TokenState = "MISSING"
)

// TokenStatus is the answer to GetTokenStatus.
type TokenStatus struct {
	State     TokenState    `json:"state"`
	ExpiresAt time.Time     `json:"expires_at"`
	Remaining time.Duration `json:"remaining"`
}

// tokenCache is the on-disk record. The file is chmod 0600 and guarded by an
// advisory lock on a sibling .lock file for cross-process coordination.
type tokenCache struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"` // ISO-8601
	CachedAt    string `json:"cached_at"`  // ISO-8601
	PID         int    `json:"pid"`
}

// issuer requests a fresh token from the upstream. Implemented by Client;
// split out so TokenManager tests can stub issuance.
type issuer interface {
	issueToken() (token string, expiresAt time.Time, err error)
}

// TokenManager owns the token cache file. All reads re-parse the file so
// sibling processes see each other's refreshes; writes take the file lock.
type TokenManager struct {
	path   string
	issuer issuer
	now    func() time.Time
	log    zerolog.Logger
}

// NewTokenManager creates a token manager for the given cache path.
func NewTokenManager(path string, issuer issuer, log zerolog.Logger) *TokenManager {
	return &TokenManager{
		path:   path,
		issuer: issuer,
		now:    time.Now,
		log:    log.With().Str("component", "token_manager").Logger(),
	}
}

// AccessToken returns a usable bearer token, applying the lifecycle rules:
//
//  1. forceRefresh requests a new token unconditionally.
//  2. A valid cached token inside the refresh window triggers a pre-emptive
//     refresh; if that refresh fails the still-valid token is returned.
//  3. A valid cached token is returned as-is.
//  4. Otherwise a new token is requested and persisted.
func (m *TokenManager) AccessToken(forceRefresh bool) (string, error) {
	if forceRefresh {
		return m.requestAndStore()
	}

	cached := m.load()
	if cached != nil {
		expiresAt, _ := time.Parse(time.RFC3339, cached.ExpiresAt)
		remaining := expiresAt.Sub(m.now())

		if remaining > validityBuffer && remaining < refreshWindow {
			token, err := m.requestAndStore()
			if err != nil {
				m.log.Warn().Err(err).
					Dur("remaining", remaining).
					Msg("Pre-emptive token refresh failed, reusing still-valid token")
				return cached.AccessToken, nil
			}
			return token, nil
		}
		if remaining > validityBuffer {
			return cached.AccessToken, nil
		}
	}

	return m.requestAndStore()
}

// Status reports the cached token's lifecycle state without side effects.
func (m *TokenManager) Status() TokenStatus {
	cached := m.load()
	if cached == nil {
		return TokenStatus{State: TokenMissing}
	}

	expiresAt, _ := time.Parse(time.RFC3339, cached.ExpiresAt)
	remaining := expiresAt.Sub(m.now())

	status := TokenStatus{ExpiresAt: expiresAt, Remaining: remaining}
	switch {
	case remaining <= validityBuffer:
		status.State = TokenExpired
	case remaining < refreshWindow:
		status.State = TokenExpiringSoon
	default:
		status.State = TokenValid
	}
	return status
}

// Invalidate deletes the cache file (used when the upstream rejects the token).
func (m *TokenManager) Invalidate() {
	_ = os.Remove(m.path)
}

// requestAndStore issues a new token. A daily-cap refusal (AuthRefused) falls
// back to a still-valid cache; without one it is surfaced as transient so the
// caller's retry policy applies.
func (m *TokenManager) requestAndStore() (string, error) {
	token, expiresAt, err := m.issuer.issueToken()
	if err != nil {
		if domain.IsKind(err, domain.KindAuthRefused) {
			// The fallback token must itself clear the validity buffer;
			// a token about to lapse is no better than none.
			if cached := m.load(); cached != nil {
				expiresAt, _ := time.Parse(time.RFC3339, cached.ExpiresAt)
				if expiresAt.Sub(m.now()) > validityBuffer {
					m.log.Warn().
						Msg("Token issuance refused (daily cap), falling back to cached token")
					return cached.AccessToken, nil
				}
			}
			return "", domain.NewTransientError("token issuance refused with no cached fallback", err)
		}
		return "", fmt.Errorf("token issuance failed: %w", err)
	}

	if err := m.store(token, expiresAt); err != nil {
		// A cache-write failure is not fatal: the token itself is good.
		m.log.Warn().Err(err).Msg("Failed to persist token cache")
	}
	return token, nil
}

// load reads and validates the cache file. Any validation failure deletes the
// file so the next call re-requests; a corrupt cache never survives.
func (m *TokenManager) load() *tokenCache {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil
	}

	var cache tokenCache
	if err := json.Unmarshal(data, &cache); err != nil {
		m.log.Warn().Err(err).Str("path", m.path).Msg("Corrupt token cache, deleting")
		m.Invalidate()
		return nil
	}

	if len(cache.AccessToken) < minTokenLength || cache.ExpiresAt == "" || cache.CachedAt == "" {
		m.log.Warn().Str("path", m.path).Msg("Incomplete token cache, deleting")
		m.Invalidate()
		return nil
	}

	expiresAt, err := time.Parse(time.RFC3339, cache.ExpiresAt)
	if err != nil || !expiresAt.After(m.now()) {
		m.Invalidate()
		return nil
	}

	return &cache
}

// store writes the cache file under the cross-process lock: lock sibling
// .lock, write a temp file, atomically rename over the target, chmod 0600.
func (m *TokenManager) store(token string, expiresAt time.Time) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create token cache directory: %w", err)
	}

	lock := flock.New(m.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock token cache: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	cache := tokenCache{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		CachedAt:    m.now().Format(time.RFC3339),
		PID:         os.Getpid(),
	}
	data, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("failed to encode token cache: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace token cache: %w", err)
	}
	if err := os.Chmod(m.path, 0600); err != nil {
		return fmt.Errorf("failed to chmod token cache: %w", err)
	}
	return nil
}
