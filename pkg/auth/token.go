package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/pkg/config"
)

const clockSkew = 30 * time.Second

var (
	signingMethod = jwt.SigningMethodHS256

	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Issuer mints and verifies access tokens for one JWT configuration.
type Issuer struct {
	cfg config.JWTConfig
	now func() time.Time
}

func NewIssuer(cfg config.JWTConfig) (*Issuer, error) {
	switch {
	case cfg.Secret == "":
		return nil, fmt.Errorf("jwt secret is required")
	case cfg.Issuer == "":
		return nil, fmt.Errorf("jwt issuer is required")
	}
	return &Issuer{cfg: cfg, now: time.Now}, nil
}

// DefaultTTL is the configured lifetime of a token.
func (i *Issuer) DefaultTTL() time.Duration {
	return time.Duration(i.cfg.ExpirationMinutes) * time.Minute
}

// Mint signs a token for payload valid for ttl, or DefaultTTL when ttl is
// zero.
func (i *Issuer) Mint(payload AccessTokenPayload, ttl time.Duration) (string, *AccessTokenClaims, error) {
	if ttl == 0 {
		ttl = i.DefaultTTL()
	}
	if ttl <= 0 {
		return "", nil, fmt.Errorf("token lifetime must be positive")
	}
	if !payload.Role.IsValid() {
		return "", nil, fmt.Errorf("invalid member role %q", payload.Role)
	}
	if payload.StoreID == uuid.Nil {
		return "", nil, fmt.Errorf("store id is required")
	}

	now := i.now()
	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := &AccessTokenClaims{
		UserID:  payload.UserID,
		StoreID: payload.StoreID,
		Role:    payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(i.cfg.Secret))
	if err != nil {
		return "", nil, fmt.Errorf("signing jwt: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies signature, issuer and lifetime. Failures wrap
// ErrTokenExpired or ErrTokenInvalid.
func (i *Issuer) Parse(raw string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return []byte(i.cfg.Secret), nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

// MintAccessToken signs payload as of now with the configured lifetime.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	issuer, err := NewIssuer(cfg)
	if err != nil {
		return "", err
	}
	issuer.now = func() time.Time { return now }
	token, _, err := issuer.Mint(payload, issuer.DefaultTTL())
	return token, err
}

func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	issuer, err := NewIssuer(cfg)
	if err != nil {
		return nil, err
	}
	return issuer.Parse(raw)
}
