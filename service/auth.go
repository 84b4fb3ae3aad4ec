package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what the sync channel knows about a user. By default the
// join payload is trusted as-is; deployments that configure a JWT secret
// get signed channel tokens instead.
type Identity struct {
	UserId      string
	DisplayName string
}

// TokensEnabled reports whether signed channel tokens are required.
func (s *Service) TokensEnabled() bool {
	return len(s.JWTSecret) > 0
}

func (s *Service) CreateChannelToken(userId string, displayName string) (string, error) {
	if !s.TokensEnabled() {
		return "", errors.New("channel tokens not configured")
	}

	claims := jwt.MapClaims{
		"userId":      userId,
		"displayName": displayName,
		"exp":         time.Now().Add(24 * time.Hour).Unix(),
		"iat":         time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.JWTSecret)
	if err != nil {
		return "", err
	}

	return signedToken, nil
}

func (s *Service) VerifyChannelToken(tokenString string) (Identity, error) {
	if len(tokenString) == 0 {
		return Identity{}, errors.New("token not provided")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return s.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, err
	}

	if !token.Valid {
		return Identity{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errors.New("invalid token claims")
	}

	userId, ok := claims["userId"].(string)
	if !ok {
		return Identity{}, errors.New("missing userId claim")
	}

	// displayName is optional; an absent claim falls back to the join payload
	displayName, _ := claims["displayName"].(string)

	return Identity{UserId: userId, DisplayName: displayName}, nil
}
