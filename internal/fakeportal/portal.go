// Package fakeportal is an in-process stand-in for the video portal's auth API
// and its identity provider. It issues HS256 access tokens, rotates refresh
// tokens with reuse detection and serves the user endpoint, which is enough to
// drive a session end to end in tests and local demos.
package fakeportal

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/panyam/portalauth/client"
)

// Default token lifetimes
const (
	DefaultAccessTokenExpiry  = 15 * time.Minute
	DefaultRefreshTokenExpiry = 7 * 24 * time.Hour
)

var (
	ErrTokenNotFound = errors.New("refresh token not found")
	ErrTokenRevoked  = errors.New("refresh token revoked")
	ErrTokenExpired  = errors.New("refresh token expired")
	ErrTokenReused   = errors.New("refresh token reused")
	ErrUnknownUser   = errors.New("unknown user")
)

type refreshRecord struct {
	UserID    string
	Family    string
	ExpiresAt time.Time
	Used      bool
	Revoked   bool
}

// Portal holds users and issued refresh tokens
type Portal struct {
	JWTSecretKey string
	JWTIssuer    string

	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration

	// OmitUserOnRefresh leaves the user out of refresh responses so clients
	// must reload the profile
	OmitUserOnRefresh bool

	// KeepRefreshToken answers refreshes without a rotated refresh token
	KeepRefreshToken bool

	Clock clockwork.Clock

	mu      sync.Mutex
	users   map[string]*client.ProfilePayload
	refresh map[string]*refreshRecord

	ProfileCalls atomic.Int64
	RefreshCalls atomic.Int64
	LogoutCalls  atomic.Int64
}

// New creates a portal signing tokens with secret
func New(secret string) *Portal {
	return &Portal{
		JWTSecretKey:       secret,
		JWTIssuer:          "fakeportal",
		AccessTokenExpiry:  DefaultAccessTokenExpiry,
		RefreshTokenExpiry: DefaultRefreshTokenExpiry,
		Clock:              clockwork.NewRealClock(),
		users:              map[string]*client.ProfilePayload{},
		refresh:            map[string]*refreshRecord{},
	}
}

// AddUser registers a user. An empty ID gets a generated one, which is returned.
func (p *Portal) AddUser(user client.ProfilePayload) string {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[user.ID] = &user
	return user.ID
}

// User returns a copy of a registered user
func (p *Portal) User(userID string) (client.ProfilePayload, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[userID]
	if !ok {
		return client.ProfilePayload{}, false
	}
	return *u, true
}

// IssueTokens logs userID in and returns a fresh pair, as the identity
// provider does before redirecting to the callback.
func (p *Portal) IssueTokens(userID string) (access, refresh string, err error) {
	if _, ok := p.User(userID); !ok {
		return "", "", ErrUnknownUser
	}
	family, err := generateSecureToken()
	if err != nil {
		return "", "", err
	}
	if refresh, err = p.newRefreshToken(userID, family[:16]); err != nil {
		return "", "", err
	}
	if access, err = p.CreateAccessToken(userID); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// CreateAccessToken creates a signed JWT access token
func (p *Portal) CreateAccessToken(userID string) (string, error) {
	now := p.Clock.Now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"type": "access",
		"jti":  uuid.NewString(),
		"iat":  now.Unix(),
		"exp":  now.Add(p.AccessTokenExpiry).Unix(),
	}
	if p.JWTIssuer != "" {
		claims["iss"] = p.JWTIssuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(p.JWTSecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken verifies signature, type, issuer and expiry and returns the subject
func (p *Portal) ValidateAccessToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(p.JWTSecretKey), nil
	}, jwt.WithTimeFunc(p.Clock.Now), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	if tokenType, ok := claims["type"].(string); !ok || tokenType != "access" {
		return "", fmt.Errorf("invalid token type")
	}
	if p.JWTIssuer != "" {
		if iss, _ := claims.GetIssuer(); iss != p.JWTIssuer {
			return "", fmt.Errorf("invalid issuer")
		}
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("missing subject")
	}
	return sub, nil
}

// RotateRefreshToken spends oldToken and returns the user and the replacement.
// Presenting an already spent token revokes its whole family.
func (p *Portal) RotateRefreshToken(oldToken string) (userID, newToken string, err error) {
	p.mu.Lock()
	rec, ok := p.refresh[oldToken]
	if !ok {
		p.mu.Unlock()
		return "", "", ErrTokenNotFound
	}
	switch {
	case rec.Revoked:
		p.mu.Unlock()
		return "", "", ErrTokenRevoked
	case p.Clock.Now().After(rec.ExpiresAt):
		p.mu.Unlock()
		return "", "", ErrTokenExpired
	case rec.Used:
		p.revokeFamilyLocked(rec.Family)
		p.mu.Unlock()
		return "", "", ErrTokenReused
	}
	if p.KeepRefreshToken {
		p.mu.Unlock()
		return rec.UserID, "", nil
	}
	rec.Used = true
	p.mu.Unlock()

	newToken, err = p.newRefreshToken(rec.UserID, rec.Family)
	return rec.UserID, newToken, err
}

// RevokeRefreshToken revokes one token. Unknown tokens are ignored.
func (p *Portal) RevokeRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.refresh[token]; ok {
		rec.Revoked = true
	}
}

// RefreshTokenActive reports whether token could still be exchanged
func (p *Portal) RefreshTokenActive(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.refresh[token]
	return ok && !rec.Revoked && !rec.Used && !p.Clock.Now().After(rec.ExpiresAt)
}

func (p *Portal) revokeFamilyLocked(family string) {
	for _, rec := range p.refresh {
		if rec.Family == family {
			rec.Revoked = true
		}
	}
}

func (p *Portal) newRefreshToken(userID, family string) (string, error) {
	token, err := generateSecureToken()
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refresh[token] = &refreshRecord{
		UserID:    userID,
		Family:    family,
		ExpiresAt: p.Clock.Now().Add(p.RefreshTokenExpiry),
	}
	return token, nil
}

// generateSecureToken generates a cryptographically secure random token
func generateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
