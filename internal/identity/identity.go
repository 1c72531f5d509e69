// Package identity fronts the external authentication provider. The
// marketplace only needs to create and delete identities and to turn a
// session token into an email address.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/jensholdgaard/bluepenguin/internal/clock"
	"github.com/jensholdgaard/bluepenguin/internal/config"
)

var (
	ErrIdentityExists     = errors.New("identity already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = errors.New("invalid session")
	ErrUnavailable        = errors.New("identity provider unavailable")
)

// Provider manages identities.
type Provider interface {
	// CreateIdentity registers email and returns the provider's user ID,
	// which the marketplace reuses as the account ID.
	CreateIdentity(ctx context.Context, email, password string) (string, error)
	// DeleteIdentity removes the identity. Deleting an unknown ID succeeds.
	DeleteIdentity(ctx context.Context, id string) error
	// SignIn exchanges credentials for a session token.
	SignIn(ctx context.Context, email, password string) (string, error)
	// VerifySession validates token and returns the session's email.
	VerifySession(ctx context.Context, token string) (string, error)
}

// New returns the provider selected by cfg.Driver.
func New(cfg config.IdentityConfig, clk clock.Clock) (Provider, error) {
	switch cfg.Driver {
	case "local":
		return NewLocal(cfg.JWTSecret, clk), nil
	case "supabase":
		return NewSupabase(cfg, clk), nil
	default:
		return nil, fmt.Errorf("unknown identity driver %q", cfg.Driver)
	}
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// verifier checks HS256 session tokens signed with a shared secret.
type verifier struct {
	secret []byte
	now    func() time.Time
}

func (v verifier) verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidSession
	}

	var claims sessionClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	parsed, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.ExpiresAt == nil || !claims.VerifyExpiresAt(v.now(), true) {
		return "", fmt.Errorf("%w: expired", ErrInvalidSession)
	}
	if claims.Email == "" {
		return "", fmt.Errorf("%w: no email claim", ErrInvalidSession)
	}
	return claims.Email, nil
}

func (v verifier) sign(subject, email string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := sessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing session: %w", err)
	}
	return signed, nil
}
