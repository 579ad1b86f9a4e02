package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/keystone/internal/errors"
)

// assertionEnv holds raw env values before post-parse validation.
type assertionEnv struct {
	Issuer    string `env:"KEYSTONE_IDENTITY_ISSUER"`
	Audience  string `env:"KEYSTONE_IDENTITY_AUDIENCE"`
	PublicKey string `env:"KEYSTONE_IDENTITY_PUBLIC_KEY"`
}

// AssertionConfig defines how identity assertions are verified.
type AssertionConfig struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// assertionClaims is the internal claims type used for JWT parsing.
type assertionClaims struct {
	jwt.RegisteredClaims
	Company       string          `json:"company"`
	Roles         []string        `json:"roles"`
	Flags         map[string]bool `json:"flags"`
	Authenticated bool            `json:"authenticated"`
}

// LoadAssertionConfigFromEnv reads assertion verification configuration.
func LoadAssertionConfigFromEnv(now func() time.Time) (AssertionConfig, error) {
	var raw assertionEnv
	if err := env.Parse(&raw); err != nil {
		return AssertionConfig{}, fmt.Errorf("parse identity env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" {
		return AssertionConfig{}, fmt.Errorf("KEYSTONE_IDENTITY_ISSUER is required")
	}
	if audience == "" {
		return AssertionConfig{}, fmt.Errorf("KEYSTONE_IDENTITY_AUDIENCE is required")
	}
	if publicKey == "" {
		return AssertionConfig{}, fmt.Errorf("KEYSTONE_IDENTITY_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return AssertionConfig{}, fmt.Errorf("decode identity public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return AssertionConfig{}, fmt.Errorf("identity public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return AssertionConfig{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// VerifyAssertion verifies a signed identity assertion and maps its claims to
// an Identity. The assertion is minted by the external identity provider; this
// core only checks the signature and the issuer/audience/expiry envelope.
func VerifyAssertion(assertion string, cfg AssertionConfig) (Identity, error) {
	assertion = strings.TrimSpace(assertion)
	if assertion == "" {
		return Identity{}, apperrors.New(apperrors.CodeIdentityAssertionInvalid, "identity assertion is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return Identity{}, errors.New("identity verifier is not configured")
	}

	var parsed assertionClaims
	_, err := jwt.ParseWithClaims(assertion, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Identity{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return Identity{}, apperrors.WithMetadata(
			apperrors.CodeIdentityAssertionInvalid,
			"identity assertion issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return Identity{}, apperrors.WithMetadata(
			apperrors.CodeIdentityAssertionInvalid,
			"identity assertion audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}
	if parsed.Subject == "" {
		return Identity{}, apperrors.New(apperrors.CodeIdentityAssertionInvalid, "identity assertion sub is required")
	}
	if parsed.ExpiresAt == nil {
		return Identity{}, apperrors.New(apperrors.CodeIdentityAssertionInvalid, "identity assertion exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Identity{}, apperrors.New(apperrors.CodeIdentityAssertionExpired, "identity assertion is expired")
	}
	if parsed.NotBefore != nil {
		nbf := parsed.NotBefore.Time.UTC()
		if now.Before(nbf) {
			return Identity{}, apperrors.New(apperrors.CodeIdentityAssertionInvalid, "identity assertion not active yet")
		}
	}

	return Identity{
		UserID:        parsed.Subject,
		Company:       strings.TrimSpace(parsed.Company),
		Roles:         parsed.Roles,
		Flags:         parsed.Flags,
		Authenticated: parsed.Authenticated,
	}, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeIdentityAssertionInvalid, "identity assertion signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeIdentityAssertionInvalid, "identity assertion alg is invalid")
	}
	return apperrors.New(apperrors.CodeIdentityAssertionInvalid, "identity assertion is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
