package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/repository"
)

var ErrInvalidToken = errors.New("invalid token")

// JWTResolver maps a bearer token to a verified user id. When users is set,
// the subject must also exist in the user store.
type JWTResolver struct {
	secret []byte
	users  repository.UserRepository
}

func NewJWTResolver(secret string, users repository.UserRepository) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), users: users}
}

func (r *JWTResolver) Resolve(ctx context.Context, tokenStr string) (uuid.UUID, error) {
	if tokenStr == "" {
		return uuid.Nil, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}

	if r.users != nil {
		u, err := r.users.GetByID(ctx, userID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("looking up token subject: %w", err)
		}
		if u == nil {
			return uuid.Nil, fmt.Errorf("%w: unknown user", ErrInvalidToken)
		}
	}

	return userID, nil
}

// GenerateToken issues an HS256 token for userID. Token issuance belongs to
// the login service; this exists for tooling and tests.
func GenerateToken(userID uuid.UUID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
