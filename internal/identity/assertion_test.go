package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/keystone/internal/errors"
)

const (
	testIssuer   = "https://id.example.test"
	testAudience = "keystone"
)

func newKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func signAssertion(t *testing.T, priv ed25519.PrivateKey, claims assertionClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign assertion: %v", err)
	}
	return signed
}

func validClaims(now time.Time) assertionClaims {
	return assertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Company:       "acme",
		Roles:         []string{"manager", "auditor"},
		Flags:         map[string]bool{"beta_menu": true},
		Authenticated: true,
	}
}

func testConfig(pub ed25519.PublicKey, now time.Time) AssertionConfig {
	return AssertionConfig{
		Issuer:   testIssuer,
		Audience: testAudience,
		Key:      pub,
		Now:      func() time.Time { return now },
	}
}

func TestVerifyAssertionSuccess(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	pub, priv := newKeyPair(t)

	assertion := signAssertion(t, priv, validClaims(now))
	id, err := VerifyAssertion(assertion, testConfig(pub, now))
	if err != nil {
		t.Fatalf("verify assertion: %v", err)
	}
	if id.UserID != "user-1" {
		t.Fatalf("expected user-1, got %q", id.UserID)
	}
	if id.Company != "acme" {
		t.Fatalf("expected company acme, got %q", id.Company)
	}
	if !id.HasRole("manager") || id.HasRole("owner") {
		t.Fatalf("unexpected roles %v", id.Roles)
	}
	if !id.FlagEnabled("beta_menu") || id.FlagEnabled("other") {
		t.Fatalf("unexpected flags %v", id.Flags)
	}
	if !id.Authenticated {
		t.Fatal("expected authenticated identity")
	}
}

func TestVerifyAssertionExpired(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	pub, priv := newKeyPair(t)

	claims := validClaims(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	assertion := signAssertion(t, priv, claims)

	_, err := VerifyAssertion(assertion, testConfig(pub, now))
	if !apperrors.IsCode(err, apperrors.CodeIdentityAssertionExpired) {
		t.Fatalf("expected expired assertion error, got %v", err)
	}
}

func TestVerifyAssertionWrongKey(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	pub, _ := newKeyPair(t)
	_, otherPriv := newKeyPair(t)

	assertion := signAssertion(t, otherPriv, validClaims(now))
	_, err := VerifyAssertion(assertion, testConfig(pub, now))
	if !apperrors.IsCode(err, apperrors.CodeIdentityAssertionInvalid) {
		t.Fatalf("expected invalid assertion error, got %v", err)
	}
}

func TestVerifyAssertionClaimMismatches(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	pub, priv := newKeyPair(t)

	tests := []struct {
		name   string
		mutate func(*assertionClaims)
	}{
		{name: "issuer mismatch", mutate: func(c *assertionClaims) { c.Issuer = "https://rogue.example" }},
		{name: "audience mismatch", mutate: func(c *assertionClaims) { c.Audience = jwt.ClaimStrings{"other"} }},
		{name: "missing subject", mutate: func(c *assertionClaims) { c.Subject = "" }},
		{name: "missing expiry", mutate: func(c *assertionClaims) { c.ExpiresAt = nil }},
		{name: "not yet valid", mutate: func(c *assertionClaims) { c.NotBefore = jwt.NewNumericDate(now.Add(time.Hour)) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims := validClaims(now)
			tc.mutate(&claims)
			assertion := signAssertion(t, priv, claims)
			_, err := VerifyAssertion(assertion, testConfig(pub, now))
			if !apperrors.IsCode(err, apperrors.CodeIdentityAssertionInvalid) {
				t.Fatalf("expected invalid assertion error, got %v", err)
			}
		})
	}
}

func TestVerifyAssertionEmpty(t *testing.T) {
	pub, _ := newKeyPair(t)
	_, err := VerifyAssertion("  ", testConfig(pub, time.Now()))
	if !apperrors.IsCode(err, apperrors.CodeIdentityAssertionInvalid) {
		t.Fatalf("expected invalid assertion error, got %v", err)
	}
}

func TestIdentityContextRoundTrip(t *testing.T) {
	id := Identity{UserID: "user-9", Company: "acme", Authenticated: true}
	ctx := WithIdentity(context.Background(), id)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected identity in context")
	}
	if got.UserID != "user-9" || got.Company != "acme" {
		t.Fatalf("unexpected identity %+v", got)
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no identity in fresh context")
	}
}
