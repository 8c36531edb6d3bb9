package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 10 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims are the JWT claims carried by both token kinds. Access tokens
// include username and email for downstream convenience; refresh tokens
// carry only the subject.
type Claims struct {
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies the access/refresh token pair. The two
// kinds use distinct secrets and distinct expiries; a typ claim keeps one
// from ever being accepted as the other.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewTokenManager(accessSecret, refreshSecret string) *TokenManager {
	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
	}
}

func (m *TokenManager) WithTTLs(accessTTL, refreshTTL time.Duration) *TokenManager {
	if accessTTL > 0 {
		m.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		m.refreshTTL = refreshTTL
	}
	return m
}

// Issue mints an access/refresh pair for user. The returned time is the
// refresh token's expiry, recorded alongside the stored token so the
// maintenance sweep can clear stale rows without decoding JWTs.
func (m *TokenManager) Issue(user User) (Tokens, time.Time, error) {
	now := time.Now().UTC()

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username:  user.Username,
		Email:     user.Email,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			ID:        uuid.NewString(),
		},
	})
	accessToken, err := access.SignedString(m.accessSecret)
	if err != nil {
		return Tokens{}, time.Time{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshExpiresAt := now.Add(m.refreshTTL)
	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TokenType: tokenTypeRefresh,
		// The jti keeps two rotations inside the same second from
		// minting byte-identical tokens.
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExpiresAt),
			ID:        uuid.NewString(),
		},
	})
	refreshToken, err := refresh.SignedString(m.refreshSecret)
	if err != nil {
		return Tokens{}, time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return Tokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(m.accessTTL.Seconds()),
	}, refreshExpiresAt, nil
}

// VerifyAccess checks signature and expiry against the access secret and
// returns the decoded claims.
func (m *TokenManager) VerifyAccess(token string) (Claims, error) {
	return m.verify(token, m.accessSecret, tokenTypeAccess)
}

// VerifyRefresh checks signature and expiry against the refresh secret.
// Cryptographic validity alone does not make the token acceptable; the
// caller still compares it against the stored value.
func (m *TokenManager) VerifyRefresh(token string) (Claims, error) {
	return m.verify(token, m.refreshSecret, tokenTypeRefresh)
}

func (m *TokenManager) verify(token string, secret []byte, wantType string) (Claims, error) {
	claims := Claims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, err
	}
	if !parsed.Valid {
		return Claims{}, jwt.ErrTokenUnverifiable
	}
	if claims.TokenType != wantType {
		return Claims{}, fmt.Errorf("unexpected token type %q", claims.TokenType)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("token missing subject")
	}

	return claims, nil
}

// AccessTTL is exposed so cookie lifetimes can match token lifetimes.
func (m *TokenManager) AccessTTL() time.Duration { return m.accessTTL }

func (m *TokenManager) RefreshTTL() time.Duration { return m.refreshTTL }
