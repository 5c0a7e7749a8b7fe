// Package token issues and verifies the signed bearer tokens used for
// sessions and for email verification links.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	audienceSession      = "session"
	audienceVerification = "email-verification"
)

// ErrInvalidToken is returned for malformed, expired, or mis-signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims carries the identity encoded in a token.
type Claims struct {
	AccountID int64  `json:"id"`
	Username  string `json:"username"`
	jwt.RegisteredClaims
}

// Remaining returns how long the token stays valid.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// Manager signs tokens with HS256.
type Manager struct {
	secret          []byte
	sessionTTL      time.Duration
	verificationTTL time.Duration
	now             func() time.Time
}

// NewManager creates a Manager. secret must not be empty.
func NewManager(secret []byte, sessionTTL, verificationTTL time.Duration) (*Manager, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if sessionTTL <= 0 || verificationTTL <= 0 {
		return nil, errors.New("invalid token TTL configuration")
	}
	return &Manager{
		secret:          secret,
		sessionTTL:      sessionTTL,
		verificationTTL: verificationTTL,
		now:             time.Now,
	}, nil
}

// Issue returns a session token for the account.
func (m *Manager) Issue(accountID int64, username string) (string, error) {
	return m.sign(accountID, username, strconv.FormatInt(accountID, 10), audienceSession, m.sessionTTL)
}

// Verify parses a session token.
func (m *Manager) Verify(token string) (*Claims, error) {
	return m.parse(token, audienceSession)
}

// IssueVerification returns a token to embed in an email verification link.
// It names the account by username only, so it can be issued before the
// account is inserted.
func (m *Manager) IssueVerification(username string) (string, error) {
	return m.sign(0, username, username, audienceVerification, m.verificationTTL)
}

// VerifyVerification parses an email verification token.
func (m *Manager) VerifyVerification(token string) (*Claims, error) {
	return m.parse(token, audienceVerification)
}

func (m *Manager) sign(accountID int64, username, subject, audience string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		AccountID: accountID,
		Username:  username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (m *Manager) parse(token, audience string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			return m.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
