package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phonginreallife/autoanswer/internal/clock"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminSubject        = "admin"
	DefaultAdminSession = 12 * time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthNotConfigured  = errors.New("admin authentication is not configured")
)

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AdminAuthService guards the credential endpoints with a single
// bcrypt-hashed operator password and HS256 session tokens.
type AdminAuthService struct {
	jwtSecret    []byte
	passwordHash []byte
	sessionTTL   time.Duration
	clock        clock.Clock
}

func NewAdminAuthService(jwtSecret, passwordHash string, clk clock.Clock) *AdminAuthService {
	return &AdminAuthService{
		jwtSecret:    []byte(jwtSecret),
		passwordHash: []byte(passwordHash),
		sessionTTL:   DefaultAdminSession,
		clock:        clk,
	}
}

// HashPassword creates a bcrypt hash of the password
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func (s *AdminAuthService) configured() bool {
	return len(s.jwtSecret) > 0 && len(s.passwordHash) > 0
}

// Login checks the password and issues a session token.
func (s *AdminAuthService) Login(password string) (*LoginResponse, error) {
	if !s.configured() {
		return nil, ErrAuthNotConfigured
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.sessionTTL)
	claims := AdminClaims{
		Role: adminSubject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}
	return &LoginResponse{Token: signed, ExpiresAt: expiresAt}, nil
}

// ValidateToken verifies signature, algorithm and expiry.
func (s *AdminAuthService) ValidateToken(tokenString string) (*AdminClaims, error) {
	if !s.configured() {
		return nil, ErrAuthNotConfigured
	}

	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid || claims.Role != adminSubject {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ExtractTokenFromHeader extracts token from Authorization header
func ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("authorization header is required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("invalid authorization header format")
	}

	return parts[1], nil
}
