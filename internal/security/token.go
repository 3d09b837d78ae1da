package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrMissingToken     = errors.New("missing token")
)

type Config struct {
	// Secret signs and verifies tokens. Generated is true when no JWT_SECRET was supplied
	// and a per-process random secret was used instead.
	Secret     []byte
	Generated  bool
	Issuer     string
	Audience   string
	BcryptCost int
}

// ConfigFromEnv reads JWT_SECRET, JWT_ISSUER, JWT_AUDIENCE and BCRYPT_COST.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Secret:     []byte(os.Getenv("JWT_SECRET")),
		Issuer:     os.Getenv("JWT_ISSUER"),
		Audience:   os.Getenv("JWT_AUDIENCE"),
		BcryptCost: 12,
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if v, err := strconv.Atoi(os.Getenv("BCRYPT_COST")); err == nil && v > 0 {
		cfg.BcryptCost = v
	}
	if len(cfg.Secret) == 0 {
		cfg.Secret = make([]byte, 64)
		if _, err := rand.Read(cfg.Secret); err != nil {
			return cfg, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Generated = true
	}
	return cfg, nil
}

// Claims is the payload of an issued token: subject is the username.
type Claims struct {
	Authorities []string `json:"authorities"`
	jwt.RegisteredClaims
}

func (c *Claims) Username() string { return c.Subject }

// HasAuthority reports whether the token grants a.
func (c *Claims) HasAuthority(a string) bool {
	for _, have := range c.Authorities {
		if have == a {
			return true
		}
	}
	return false
}

// TokenProvider issues and verifies HS512 tokens. Verification never touches storage.
type TokenProvider struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewTokenProvider(cfg Config) *TokenProvider {
	issuer, audience := cfg.Issuer, cfg.Audience
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if audience == "" {
		audience = DefaultAudience
	}
	return &TokenProvider{
		secret:   cfg.Secret,
		issuer:   issuer,
		audience: audience,
		ttl:      ExpirationTime,
		now:      time.Now,
	}
}

// WithClock swaps the time source used for both issuing and verifying.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	p.now = now
	return p
}

func (p *TokenProvider) Issue(username string, authorities []string) (string, error) {
	now := p.now()
	claims := &Claims{
		Authorities: append([]string(nil), authorities...),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (p *TokenProvider) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	// Strict decoding rejects signature segments whose unused trailing bits are set,
	// so every altered character changes what is verified.
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return p.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(p.now),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), badSignatureSegment(parsed, err):
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		}
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrTokenMalformed)
	}
	return claims, nil
}

// badSignatureSegment reports a token whose header and claims parsed but whose
// signature segment could not be decoded.
func badSignatureSegment(t *jwt.Token, err error) bool {
	return errors.Is(err, jwt.ErrTokenMalformed) && t != nil && t.Method != nil && t.Signature == nil
}
