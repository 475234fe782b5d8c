package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "practicedesk"

// Resolver turns an opaque authentication handle into a Principal.
type Resolver interface {
	Resolve(ctx context.Context, handle string) (Principal, error)
}

// Claims carries the tenant membership of the subject.
type Claims struct {
	TenantGroup string `json:"tenant_group"`
	Role        string `json:"role"`
	FirmID      string `json:"firm_id,omitempty"`
	BusinessID  string `json:"business_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 bearer tokens.
type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTokenService builds a TokenService. An empty secret is rejected.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	s := &TokenService{
		secret: []byte(secret),
		issuer: defaultIssuer,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ Resolver = (*TokenService)(nil)

// Issue signs a token for p valid for ttl.
func (s *TokenService) Issue(p Principal, ttl time.Duration) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be greater than zero")
	}
	now := s.now()
	claims := Claims{
		TenantGroup: string(p.TenantGroup),
		Role:        string(p.Role),
		FirmID:      p.FirmID,
		BusinessID:  p.BusinessID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Resolve verifies the token and re-derives the principal from its claims.
// Every failure collapses to ErrInvalidToken.
func (s *TokenService) Resolve(_ context.Context, handle string) (Principal, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return Principal{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(handle, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5*time.Second),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	p, err := claims.principal()
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	return p, nil
}

func (c *Claims) principal() (Principal, error) {
	group, err := ParseTenantGroup(c.TenantGroup)
	if err != nil {
		return Principal{}, err
	}
	role, err := ParseRole(c.Role)
	if err != nil {
		return Principal{}, err
	}
	p := Principal{
		ID:          strings.TrimSpace(c.Subject),
		TenantGroup: group,
		Role:        role,
		FirmID:      strings.TrimSpace(c.FirmID),
		BusinessID:  strings.TrimSpace(c.BusinessID),
	}
	if err := p.Validate(); err != nil {
		return Principal{}, err
	}
	return p, nil
}
