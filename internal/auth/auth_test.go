package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestIssueAndVerifyScopes(t *testing.T) {
	i, err := NewIssuer(secret, "tenancy", time.Minute)
	require.NoError(t, err)

	core, err := i.IssueCore("u1", "ada@example.com")
	require.NoError(t, err)
	p, err := i.Verify(core)
	require.NoError(t, err)
	assert.Equal(t, Principal{Subject: "u1", Email: "ada@example.com", Scope: ScopeCore}, p)

	ten, err := i.IssueTenant("acme", "t7", "ada@example.com")
	require.NoError(t, err)
	p, err = i.Verify(ten)
	require.NoError(t, err)
	assert.Equal(t, ScopeTenant, p.Scope)
	assert.Equal(t, "acme", p.TenantID)

	_, err = i.IssueTenant("", "t7", "x")
	assert.Error(t, err)
}

func TestVerifyRejects(t *testing.T) {
	i, err := NewIssuer(secret, "tenancy", time.Minute)
	require.NoError(t, err)
	tok, err := i.IssueCore("u1", "a@b.c")
	require.NoError(t, err)

	other, err := NewIssuer(strings.Repeat("z", 32), "tenancy", time.Minute)
	require.NoError(t, err)
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong key")

	later := *i
	later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = later.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "scope": "core"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = i.Verify(none)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")

	_, err = i.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsInconsistentClaims(t *testing.T) {
	i, err := NewIssuer(secret, "", time.Minute)
	require.NoError(t, err)

	for _, p := range []Principal{
		{Subject: "u1", Scope: ScopeCore, TenantID: "acme"},
		{Subject: "u1", Scope: ScopeTenant},
		{Subject: "u1", Scope: "root"},
		{Scope: ScopeCore},
	} {
		tok, err := i.issue(p)
		require.NoError(t, err)
		_, err = i.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, "%+v", p)
	}
}

func TestNewIssuerNeedsLongSecret(t *testing.T) {
	_, err := NewIssuer("short", "", 0)
	assert.Error(t, err)
}

func TestPasswords(t *testing.T) {
	h, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NoError(t, CheckPassword(h, "correct horse"))
	assert.ErrorIs(t, CheckPassword(h, "wrong"), ErrBadCredentials)

	_, err = HashPassword("short")
	assert.Error(t, err)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Subject: "u1", Scope: ScopeCore})
	p, ok := PrincipalFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", p.Subject)
}
