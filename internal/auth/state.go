package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// stateTTL bounds how long an OAuth round trip may take.
const stateTTL = 10 * time.Minute

// ErrBadState is returned when a callback state token is missing,
// tampered with, or expired.
var ErrBadState = errors.New("invalid oauth state")

// StateSigner issues and verifies the OAuth state parameter as a
// short-lived signed token, so the callback can reject forged or
// replayed-from-elsewhere redirects without server-side storage.
type StateSigner struct {
	secret []byte
	now    func() time.Time // injectable clock for testing
}

func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: []byte(secret), now: time.Now}
}

// Issue returns a fresh state token carrying a random nonce.
func (s *StateSigner) Issue() (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(stateTTL).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing state token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of a state token.
func (s *StateSigner) Verify(state string) error {
	if state == "" {
		return ErrBadState
	}
	_, err := jwt.Parse(state, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadState, err)
	}
	return nil
}
