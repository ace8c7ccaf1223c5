// Package auth issues and validates the HS256 bearer tokens that guard the
// HTTP API.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrInvalidRole  = errors.New("invalid role: must be service, admin, or staff")
)

// Role decides which routes a caller may use.
type Role string

const (
	// RoleService is a producer such as the job scheduler.
	RoleService Role = "service"
	RoleAdmin   Role = "admin"
	// RoleStaff may only touch its own /staff/{staffID} routes.
	RoleStaff Role = "staff"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleService, RoleAdmin, RoleStaff:
		return true
	}
	return false
}

// Claims carry the role; the subject is the staff id for staff tokens and
// the client name otherwise.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

type Service struct {
	secretKey     []byte
	tokenDuration time.Duration
	now           func() time.Time
}

func NewService(secretKey string, tokenDuration time.Duration) *Service {
	return &Service{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
		now:           time.Now,
	}
}

// GenerateToken signs a token for subject. A non-positive ttl falls back to
// the service default.
func (s *Service) GenerateToken(subject string, role Role, ttl time.Duration) (string, error) {
	if !role.IsValid() {
		return "", ErrInvalidRole
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("token subject must not be empty")
	}
	if ttl <= 0 {
		ttl = s.tokenDuration
	}

	now := s.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secretKey, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || !claims.Role.IsValid() || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
