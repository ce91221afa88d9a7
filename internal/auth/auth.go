// Package auth exchanges account credentials for token pairs against the
// vendor's customer-app API. It performs no retries: a credential-bearing
// request that fails must surface immediately rather than risk an account
// lockout. Retry policy lives in the apiclient layer and applies only to
// resource calls.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/brewkit/lmctl/internal/domain"
	"github.com/brewkit/lmctl/internal/installkey"
)

// DefaultBaseURL is the production vendor API.
const DefaultBaseURL = "https://lion.lamarzocco.io/api/customer-app"

// DefaultTokenTTL is the assumed access token lifetime when the token is
// not a parseable JWT and the server asserted no expiry.
const DefaultTokenTTL = 60 * time.Minute

var (
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrRefreshRejected    = errors.New("auth: refresh token rejected")
	ErrUnreachable        = errors.New("auth: vendor API unreachable")
)

// Authenticator calls the vendor token endpoints. Key, when present, adds
// the installation-signed headers newer API versions require.
type Authenticator struct {
	BaseURL    string
	HTTPClient *http.Client
	TokenTTL   time.Duration
	Key        *installkey.Key
	Logger     *slog.Logger

	now func() time.Time
}

func New(baseURL string, key *installkey.Key, logger *slog.Logger) *Authenticator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		TokenTTL:   DefaultTokenTTL,
		Key:        key,
		Logger:     logger,
		now:        time.Now,
	}
}

type signinRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Login exchanges email and password for a token pair.
// 401/403 map to ErrInvalidCredentials; anything else to ErrUnreachable.
func (a *Authenticator) Login(ctx context.Context, email, password string) (domain.TokenPair, error) {
	pair, err := a.exchange(ctx, "/auth/signin", signinRequest{Username: email, Password: password}, ErrInvalidCredentials)
	if err != nil {
		return domain.TokenPair{}, err
	}
	a.Logger.Debug("signin succeeded", "email", email)
	return pair, nil
}

// Refresh exchanges a refresh token for a new token pair. 401/403 mean the
// refresh token itself is invalid or expired and map to ErrRefreshRejected,
// signalling that a full re-login is required.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	pair, err := a.exchange(ctx, "/auth/refreshtoken", refreshRequest{RefreshToken: refreshToken}, ErrRefreshRejected)
	if err != nil {
		return domain.TokenPair{}, err
	}
	a.Logger.Debug("token refresh succeeded")
	return pair, nil
}

func (a *Authenticator) exchange(ctx context.Context, path string, payload any, rejectErr error) (domain.TokenPair, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("auth: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("auth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := a.signRequest(req); err != nil {
		return domain.TokenPair{}, err
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: read response: %v", ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var tok tokenResponse
		if err := json.Unmarshal(raw, &tok); err != nil || tok.AccessToken == "" {
			return domain.TokenPair{}, fmt.Errorf("%w: malformed token response", ErrUnreachable)
		}
		return a.pairFrom(tok), nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		a.Logger.Debug("token endpoint rejected request", "path", path, "status", resp.StatusCode)
		return domain.TokenPair{}, fmt.Errorf("%w: %s", rejectErr, errorMessage(raw, resp.StatusCode))
	default:
		return domain.TokenPair{}, fmt.Errorf("%w: %s", ErrUnreachable, errorMessage(raw, resp.StatusCode))
	}
}

// RegisterInstallation announces this installation's public key to the
// cloud via /auth/init. It must succeed once before signed requests are
// accepted; subsequent registrations of the same key are idempotent
// server-side.
func (a *Authenticator) RegisterInstallation(ctx context.Context) error {
	if a.Key == nil {
		return errors.New("auth: no installation key to register")
	}

	proof, err := a.Key.Proof(a.Key.BaseString())
	if err != nil {
		return fmt.Errorf("auth: registration proof: %w", err)
	}

	body, err := json.Marshal(map[string]string{"pk": a.Key.PublicKeyB64()})
	if err != nil {
		return fmt.Errorf("auth: encode registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/auth/init", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("auth: build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-App-Installation-Id", a.Key.InstallationID)
	req.Header.Set("X-Request-Proof", proof)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		a.Logger.Debug("installation registered", "installation_id", a.Key.InstallationID)
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: registration rejected: %s", ErrInvalidCredentials, errorMessage(raw, resp.StatusCode))
	default:
		return fmt.Errorf("%w: %s", ErrUnreachable, errorMessage(raw, resp.StatusCode))
	}
}

func (a *Authenticator) signRequest(req *http.Request) error {
	if a.Key == nil {
		return nil
	}
	headers, err := a.Key.SignedHeaders(a.now())
	if err != nil {
		return fmt.Errorf("auth: sign request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return nil
}

// pairFrom derives the access token expiry. The vendor issues JWTs, so the
// exp claim is read without signature verification (the client has no
// verification key and only needs the timestamp). Tokens that do not parse
// fall back to issue time plus the configured TTL, keeping the invariant
// that a stored token always carries an expiry.
func (a *Authenticator) pairFrom(tok tokenResponse) domain.TokenPair {
	ttl := a.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	expiresAt := a.now().Add(ttl)

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			expiresAt = exp.Time
		}
	}

	return domain.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
	}
}

func errorMessage(raw []byte, status int) string {
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil {
		if er.Message != "" {
			return er.Message
		}
		if er.Error != "" {
			return er.Error
		}
	}
	return fmt.Sprintf("status %d", status)
}
