package video

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JoinClaims are embedded in room join tokens.
type JoinClaims struct {
	jwt.RegisteredClaims

	Room   string `json:"room"`
	UserID string `json:"user_id"`
}

// TokenSigner mints short-lived join tokens verified by the video provider.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

func NewTokenSigner(secret string, ttl time.Duration) (*TokenSigner, error) {
	if secret == "" {
		return nil, errors.New("VIDEO_TOKEN_SECRET is required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &TokenSigner{secret: []byte(secret), ttl: ttl, clock: time.Now}, nil
}

func (s *TokenSigner) Sign(roomName, userID string) (string, error) {
	if roomName == "" || userID == "" {
		return "", errors.New("room and user required")
	}
	now := s.clock()
	claims := JoinClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Room:   roomName,
		UserID: userID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses a join token. The provider does this on its side; tests use it here.
func (s *TokenSigner) Verify(token string) (JoinClaims, error) {
	var c JoinClaims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return JoinClaims{}, err
	}
	return c, nil
}
