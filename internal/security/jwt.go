package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/user"
)

type JWTProvider struct {
	secret []byte
	now    func() time.Time
}

func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), now: time.Now}
}

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (p *JWTProvider) Generate(userID common.UUID, role user.Role, ttl time.Duration) (string, time.Time, error) {
	now := p.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		UserID: userID.String(),
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse verifies an HS256 token and returns the caller it identifies.
func (p *JWTProvider) Parse(tokenString string) (user.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.now))
	if err != nil {
		return user.Actor{}, err
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	id, err := common.ParseUUID(claims.UserID)
	if err != nil {
		return user.Actor{}, errors.New("invalid user id claim")
	}
	role := user.Role(strings.ToLower(strings.TrimSpace(claims.Role)))
	if !role.Valid() {
		return user.Actor{}, errors.New("invalid role claim")
	}
	return user.Actor{ID: id, Role: role}, nil
}
