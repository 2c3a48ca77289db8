package simulator

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/Nish7156/loyalty-client/pkg/errors"
	"github.com/Nish7156/loyalty-client/pkg/middleware"
)

const (
	roleCustomer = "CUSTOMER"
	roleStaff    = "STAFF"
)

type sessionClaims struct {
	Role     string `json:"role"`
	BranchID string `json:"branchId,omitempty"`
	jwt.RegisteredClaims
}

// tokenIssuer mints and validates the simulator's HS256 session tokens.
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newTokenIssuer(secret string, ttl time.Duration) *tokenIssuer {
	return &tokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *tokenIssuer) issue(subject, role, branchID string) (string, error) {
	now := t.now()
	claims := sessionClaims{
		Role:     role,
		BranchID: branchID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// validate implements middleware.TokenValidator.
func (t *tokenIssuer) validate(token string) (*middleware.Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, apperrors.Unauthorized("invalid or expired token")
	}

	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || claims.Subject == "" {
		return nil, apperrors.Unauthorized("invalid token claims")
	}
	return &middleware.Claims{Subject: claims.Subject, Role: claims.Role}, nil
}
