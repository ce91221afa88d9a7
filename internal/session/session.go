// Package session guarantees that every outgoing API call carries a valid,
// non-expired access token, refreshing and persisting transparently.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brewkit/lmctl/internal/auth"
	"github.com/brewkit/lmctl/internal/domain"
	"github.com/brewkit/lmctl/internal/installkey"
	"github.com/brewkit/lmctl/internal/store"
)

// DefaultSafetyMargin is how long before its actual expiry a token is
// treated as expired, so a token is never handed out microseconds before
// expiring mid-flight.
const DefaultSafetyMargin = 60 * time.Second

var (
	// ErrReauthenticationRequired means stored credentials are absent or no
	// longer usable; the user must log in again. Surfacing it also clears
	// any stale stored tokens.
	ErrReauthenticationRequired = errors.New("session: reauthentication required")

	// ErrTransientFailure means the token could not be refreshed right now
	// but stored credentials remain valid; retrying later may succeed.
	ErrTransientFailure = errors.New("session: transient failure")
)

// Authenticator is the token-exchange dependency, satisfied by
// *auth.Authenticator.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (domain.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error)
}

// Manager owns the credentials for the process lifetime. It is not safe
// for concurrent use; the CLI is a single logical flow per invocation.
type Manager struct {
	store  store.Store
	auth   Authenticator
	margin time.Duration
	logger *slog.Logger

	creds  *domain.Credentials
	loaded bool

	now func() time.Time
}

func NewManager(st store.Store, a Authenticator, margin time.Duration, logger *slog.Logger) *Manager {
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		auth:   a,
		margin: margin,
		logger: logger,
		now:    time.Now,
	}
}

// GetValidToken returns an access token guaranteed to outlive the safety
// margin. The hot path — a stored token that is still valid — makes zero
// network calls. An expired or near-expiry token triggers exactly one
// refresh, and the rotated pair is persisted before the token is returned.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	if err := m.ensureLoaded(); err != nil {
		return "", err
	}

	if m.creds == nil || m.creds.RefreshToken == "" {
		return "", fmt.Errorf("%w: no stored credentials", ErrReauthenticationRequired)
	}

	if !m.creds.ExpiresWithin(m.now(), m.margin) {
		return m.creds.AccessToken, nil
	}

	return m.refresh(ctx)
}

// ForceRefresh discards the current access token and performs a refresh
// regardless of expiry. The apiclient uses it when a call comes back 401
// even though the token looked valid (expiry raced the request).
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	if err := m.ensureLoaded(); err != nil {
		return "", err
	}
	if m.creds == nil || m.creds.RefreshToken == "" {
		return "", fmt.Errorf("%w: no stored credentials", ErrReauthenticationRequired)
	}
	return m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	pair, err := m.auth.Refresh(ctx, m.creds.RefreshToken)
	switch {
	case errors.Is(err, auth.ErrRefreshRejected):
		// The stored refresh token is dead. Clear it so future commands
		// prompt for a login instead of re-offering stale tokens.
		m.logger.Warn("stored refresh token rejected, clearing credentials")
		if cerr := m.store.Clear(); cerr != nil {
			m.logger.Warn("failed to clear stored credentials", "error", cerr)
		}
		m.creds = nil
		return "", fmt.Errorf("%w: refresh token rejected", ErrReauthenticationRequired)
	case err != nil:
		// Network blip. Stored credentials stay untouched so the user can
		// retry later without re-entering a password.
		return "", fmt.Errorf("%w: %v", ErrTransientFailure, err)
	}

	m.creds.ApplyTokens(pair)
	if err := m.store.Save(m.creds); err != nil {
		// The exchange succeeded, so the token is usable this invocation
		// even if persisting it failed.
		m.logger.Warn("failed to persist refreshed tokens", "error", err)
	} else {
		m.logger.Debug("refreshed tokens persisted", "expires_at", pair.ExpiresAt)
	}
	return m.creds.AccessToken, nil
}

// LoginAndSave performs a fresh email/password login and persists the
// resulting credentials. The password itself is stored only when the user
// asked for it. key, when non-nil, is persisted with the credentials so
// future invocations sign their requests.
func (m *Manager) LoginAndSave(ctx context.Context, email, password string, savePassword bool, key *installkey.Key) error {
	pair, err := m.auth.Login(ctx, email, password)
	if err != nil {
		return err
	}

	creds := &domain.Credentials{
		Email:           email,
		InstallationKey: key,
	}
	if savePassword {
		creds.Password = password
	}
	creds.ApplyTokens(pair)

	if err := m.store.Save(creds); err != nil {
		return fmt.Errorf("session: persist credentials: %w", err)
	}

	m.creds = creds
	m.loaded = true
	m.logger.Debug("login persisted", "email", email, "expires_at", pair.ExpiresAt)
	return nil
}

// Logout clears stored and in-memory credentials.
func (m *Manager) Logout() error {
	m.creds = nil
	m.loaded = true
	return m.store.Clear()
}

func (m *Manager) ensureLoaded() error {
	if m.loaded {
		return nil
	}

	creds, err := m.store.Load()
	if err != nil {
		if errors.Is(err, store.ErrCorrupt) {
			// A file we cannot parse is as useless as no file; the user
			// has to log in again either way.
			m.logger.Warn("stored credentials unreadable", "error", err)
			return fmt.Errorf("%w: %v", ErrReauthenticationRequired, err)
		}
		return err
	}

	m.creds = creds
	m.loaded = true
	return nil
}
