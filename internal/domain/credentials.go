package domain

import (
	"time"

	"github.com/brewkit/lmctl/internal/installkey"
)

// TokenPair is what the vendor token endpoints return: a short-lived access
// token (JWT) and a longer-lived refresh token, with the derived expiry of
// the access token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Credentials is the persisted authentication state for one account. The
// session manager owns the in-memory copy for the life of the process; the
// credential store persists it across invocations.
type Credentials struct {
	Email             string           `yaml:"email"`
	Password          string           `yaml:"password,omitempty"`
	AccessToken       string           `yaml:"access_token"`
	RefreshToken      string           `yaml:"refresh_token"`
	AccessTokenExpiry time.Time        `yaml:"access_token_expiry"`
	InstallationKey   *installkey.Key  `yaml:"installation_key,omitempty"`
}

// HasToken reports whether an access token is present. The invariant is
// that a present token always carries a trustworthy expiry.
func (c *Credentials) HasToken() bool {
	return c.AccessToken != "" && !c.AccessTokenExpiry.IsZero()
}

// ExpiresWithin reports whether the access token is absent, already
// expired, or will expire within margin.
func (c *Credentials) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if !c.HasToken() {
		return true
	}
	return !now.Add(margin).Before(c.AccessTokenExpiry)
}

// ApplyTokens replaces the token pair after a confirmed successful
// exchange. All other fields are preserved.
func (c *Credentials) ApplyTokens(pair TokenPair) {
	c.AccessToken = pair.AccessToken
	c.RefreshToken = pair.RefreshToken
	c.AccessTokenExpiry = pair.ExpiresAt
}
