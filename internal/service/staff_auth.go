package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"eyeworks-storefront/internal/domain"
	"eyeworks-storefront/pkg/hash"
	"eyeworks-storefront/pkg/jwt"

	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrStaffLoginDisabled = errors.New("staff login is not configured")
)

// StaffAuth exchanges the shared staff password for a signed staff token.
type StaffAuth struct {
	passwordHash string
	secret       string
	expiration   time.Duration
}

func NewStaffAuth(passwordHash, secret string, expiration time.Duration) *StaffAuth {
	return &StaffAuth{
		passwordHash: passwordHash,
		secret:       secret,
		expiration:   expiration,
	}
}

func (a *StaffAuth) Login(req domain.StaffLoginRequest) (*domain.StaffLoginResponse, error) {
	if a.passwordHash == "" {
		return nil, ErrStaffLoginDisabled
	}

	ok, err := hash.Matches(a.passwordHash, req.Password)
	if err != nil {
		log.Error().Err(err).Msg("STAFF_PASSWORD_HASH is not a bcrypt hash")
		return nil, ErrStaffLoginDisabled
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	name := strings.TrimSpace(req.Name)
	token, err := jwt.GenerateToken(name, a.expiration, a.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate staff token: %w", err)
	}

	log.Info().Str("staff", name).Msg("staff signed in")
	return &domain.StaffLoginResponse{
		StaffName:   name,
		AccessToken: token,
		ExpiresIn:   int64(a.expiration.Seconds()),
	}, nil
}
