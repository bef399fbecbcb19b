// Package token signs and verifies the RS256 access and refresh tokens.
//
// Access and refresh tokens are separate signing contexts: each is signed by
// a key registered for its own purpose and a token presented in the wrong
// context never verifies, even when its signature is otherwise valid.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"shopfront.io/internal/ids"
	"shopfront.io/internal/keys"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
	defaultIssuer     = "shopfront"

	leeway = 5 * time.Second

	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// ErrInvalidToken is returned for every verification failure. Callers never
// learn which check rejected the token.
var ErrInvalidToken = errors.New("token: invalid token")

// Claims is the payload carried by both token types.
type Claims struct {
	Role      string `json:"role,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Subject identifies who a token is minted for.
type Subject struct {
	UserID string
	Role   string
}

// Signed is a freshly minted token along with the values callers persist.
type Signed struct {
	Token     string
	TokenID   string
	KeyID     string
	ExpiresAt time.Time
}

// Service mints and verifies tokens against a key registry.
type Service struct {
	registry   *keys.Registry
	now        func() time.Time
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration

	// allowMissingKeyID accepts tokens without a kid header when exactly one
	// key of the right purpose is active.
	allowMissingKeyID bool
}

// Option configures Service behavior.
type Option func(*Service)

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithAllowMissingKeyID toggles the kid-less fallback.
func WithAllowMissingKeyID(allow bool) Option {
	return func(s *Service) {
		s.allowMissingKeyID = allow
	}
}

// NewService constructs Service backed by registry.
func NewService(registry *keys.Registry, opts ...Option) (*Service, error) {
	if registry == nil {
		return nil, errors.New("token: key registry is required")
	}
	svc := &Service{
		registry:          registry,
		now:               time.Now,
		issuer:            defaultIssuer,
		accessTTL:         defaultAccessTTL,
		refreshTTL:        defaultRefreshTTL,
		allowMissingKeyID: true,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// SignAccess mints an access token for sub.
func (s *Service) SignAccess(sub Subject) (Signed, error) {
	return s.sign(sub, keys.PurposeAccess, TypeAccess, s.accessTTL)
}

// SignRefresh mints a refresh token for sub.
func (s *Service) SignRefresh(sub Subject) (Signed, error) {
	return s.sign(sub, keys.PurposeRefresh, TypeRefresh, s.refreshTTL)
}

// VerifyAccess checks an access token and returns its claims.
func (s *Service) VerifyAccess(raw string) (*Claims, error) {
	return s.verify(raw, keys.PurposeAccess, TypeAccess)
}

// VerifyRefresh checks a refresh token and returns its claims.
func (s *Service) VerifyRefresh(raw string) (*Claims, error) {
	return s.verify(raw, keys.PurposeRefresh, TypeRefresh)
}

// ParseUnverified decodes claims without checking the signature or expiry.
// The result must only be used to locate state the caller already owns.
func ParseUnverified(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(raw), claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func (s *Service) sign(sub Subject, purpose keys.Purpose, tokenType string, ttl time.Duration) (Signed, error) {
	if strings.TrimSpace(sub.UserID) == "" {
		return Signed{}, errors.New("token: subject is required")
	}
	signer, err := s.registry.Signer(purpose)
	if err != nil {
		return Signed{}, err
	}
	now := s.now().UTC()
	exp := now.Add(ttl)
	jti := ids.NewTokenID()
	claims := Claims{
		Role:      sub.Role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   sub.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = signer.ID
	signed, err := tok.SignedString(signer.PrivateKey)
	if err != nil {
		return Signed{}, fmt.Errorf("token: sign %s: %w", tokenType, err)
	}
	return Signed{
		Token:     signed,
		TokenID:   jti,
		KeyID:     signer.ID,
		ExpiresAt: time.Unix(exp.Unix(), 0).UTC(),
	}, nil
}

func (s *Service) verify(raw string, purpose keys.Purpose, tokenType string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, s.keyFunc(purpose),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenType || strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) keyFunc(purpose keys.Purpose) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		var (
			entry keys.Entry
			ok    bool
		)
		if kid == "" {
			if !s.allowMissingKeyID {
				return nil, errors.New("missing kid")
			}
			entry, ok = s.registry.SoleActive(purpose)
		} else {
			entry, ok = s.registry.Get(kid)
		}
		if !ok || entry.PublicKey == nil {
			return nil, errors.New("unknown kid")
		}
		if entry.Purpose != purpose {
			return nil, errors.New("kid belongs to another signing context")
		}
		return entry.PublicKey, nil
	}
}
