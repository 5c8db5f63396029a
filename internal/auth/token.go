// internal/auth/token.go
//
// Scoped access tokens (HS256 JWT).
//
// Context
// -------
// Core tokens identify a user of the core database and are accepted on
// core routes only.  Tenant tokens identify a user of one tenant database
// and carry that tenant's id in the `tid` claim.
//
// Notes
// -----
//   • Only HS256 is accepted.  Tokens signed with any other method fail
//     verification even when the key would match.
//   • Two spaces after periods.

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// DefaultTTL is used when Issuer.TTL is zero.
const DefaultTTL = time.Hour

type claims struct {
	Email    string `json:"email,omitempty"`
	Scope    Scope  `json:"scope"`
	TenantID string `json:"tid,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tokens with one shared secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer.  A zero ttl means DefaultTTL.
func NewIssuer(secret, issuer string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: signing secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// IssueCore returns a token for a core user.
func (i *Issuer) IssueCore(userID, email string) (string, error) {
	return i.issue(Principal{Subject: userID, Email: email, Scope: ScopeCore})
}

// IssueTenant returns a token for a user of tenantID.
func (i *Issuer) IssueTenant(tenantID, userID, email string) (string, error) {
	if tenantID == "" {
		return "", errors.New("auth: tenant token needs a tenant id")
	}
	return i.issue(Principal{Subject: userID, Email: email, Scope: ScopeTenant, TenantID: tenantID})
}

func (i *Issuer) issue(p Principal) (string, error) {
	now := i.now()
	c := claims{
		Email:    p.Email,
		Scope:    p.Scope,
		TenantID: p.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// Verify parses raw and returns its principal.
func (i *Issuer) Verify(raw string) (Principal, error) {
	var c claims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) { return i.secret, nil }, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	switch {
	case c.Subject == "":
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	case c.Scope == ScopeCore && c.TenantID != "":
		return Principal{}, fmt.Errorf("%w: core token names a tenant", ErrInvalidToken)
	case c.Scope == ScopeTenant && c.TenantID == "":
		return Principal{}, fmt.Errorf("%w: tenant token without tenant", ErrInvalidToken)
	case c.Scope != ScopeCore && c.Scope != ScopeTenant:
		return Principal{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidToken, c.Scope)
	}
	return Principal{Subject: c.Subject, Email: c.Email, Scope: c.Scope, TenantID: c.TenantID}, nil
}
