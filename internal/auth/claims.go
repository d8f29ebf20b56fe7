package auth

import (
	"errors"
	"fmt"
	"time"

	"streamads/internal/config"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid or expired session token")
)

// Claims is the validated session behind a request.
type Claims struct {
	UserID string
	Role   Role
	// Token is the raw bearer token, forwarded to the backend unchanged.
	Token string
}

// Verifier validates HS256 session tokens issued by the marketplace's auth provider.
type Verifier struct {
	key    []byte
	issuer string
	skew   time.Duration
}

func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{
		key:    []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		skew:   30 * time.Second,
	}, nil
}

// Verify checks the token signature and time claims and extracts typed claims.
// The user id comes from the userId claim, falling back to sub.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	options := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256(), v.key),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.skew),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.Parse([]byte(token), options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var userID string
	if err := parsed.Get("userId", &userID); err != nil || userID == "" {
		userID, _ = parsed.Subject()
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}

	var role string
	_ = parsed.Get("role", &role)

	return &Claims{
		UserID: userID,
		Role:   ParseRole(role),
		Token:  token,
	}, nil
}

// Sign issues a token the Verifier accepts. Production tokens come from the
// external auth provider; this is used by tooling and tests.
func (v *Verifier) Sign(userID string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	builder := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim("role", string(role))
	if v.issuer != "" {
		builder = builder.Issuer(v.issuer)
	}

	tok, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), v.key))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}
