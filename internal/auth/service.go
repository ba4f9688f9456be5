package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	ErrMissingToken  = errors.New("authorization required")
	ErrInvalidToken  = errors.New("invalid token")
	ErrAdminDisabled = errors.New("admin api disabled: no admin token configured")
)

// Service guards the admin API with one static bearer token.
type Service struct {
	token      string
	cookieName string
	headerName string
}

// NewService builds a guard. An empty token rejects every request.
func NewService(token string) *Service {
	return &Service{
		token:      strings.TrimSpace(token),
		cookieName: "seylane_admin",
		headerName: "Authorization",
	}
}

func (s *Service) Enabled() bool { return s != nil && s.token != "" }

// ValidateToken compares in constant time.
func (s *Service) ValidateToken(token string) error {
	if !s.Enabled() {
		return ErrAdminDisabled
	}
	if token == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}
