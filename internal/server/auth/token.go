// Package auth issues and validates the scoped session tokens (HS256 JWTs)
// used by the login, refresh, and recovery flows.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/corpass/corpass/internal/common"
)

// Scope restricts a token to one functional purpose. An access token can
// never be replayed as a refresh token and vice versa.
type Scope string

const (
	ScopeAccess  Scope = "access_token"
	ScopeRefresh Scope = "refresh_token"
)

// Claims carries the registered claims plus the token scope.
type Claims struct {
	jwt.RegisteredClaims
	Scope Scope `json:"scp"`
}

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenService signs and validates session tokens with a single server-wide
// symmetric secret. Safe for concurrent use.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenService constructs a TokenService. Zero TTLs fall back to the
// defaults of one hour for access and seven days for refresh tokens.
func NewTokenService(secret []byte, accessTTL, refreshTTL time.Duration) *TokenService {
	if accessTTL == 0 {
		accessTTL = time.Hour
	}
	if refreshTTL == 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenService{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// IssueAccessToken mints an access-scoped token for the subject (the user's
// Cor-ID).
func (s *TokenService) IssueAccessToken(subject string) (string, error) {
	return s.issue(subject, ScopeAccess, s.accessTTL)
}

// IssueRefreshToken mints a refresh-scoped token for the subject.
func (s *TokenService) IssueRefreshToken(subject string) (string, error) {
	return s.issue(subject, ScopeRefresh, s.refreshTTL)
}

func (s *TokenService) issue(subject string, scope Scope, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: scope,
	})
	return token.SignedString(s.secret)
}

// Validate parses the token and returns its subject. A bad signature, an
// unexpected signing method, expiry, or a scope other than expectedScope all
// return common.ErrInvalidToken; callers never learn which check failed.
func (s *TokenService) Validate(tokenString string, expectedScope Scope) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return "", common.ErrInvalidToken
	}
	if claims.Scope != expectedScope {
		return "", common.ErrInvalidToken
	}
	return claims.Subject, nil
}
