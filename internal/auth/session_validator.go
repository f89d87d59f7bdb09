package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "bearer "

var (
	ErrMissingSessionToken   = errors.New("session validator: token required")
	ErrInvalidSessionToken   = errors.New("session validator: invalid token")
	ErrExpiredSessionToken   = errors.New("session validator: token expired")
	ErrMissingSessionSubject = errors.New("session validator: subject required")
	ErrWrongTokenUse         = errors.New("session validator: wrong token use")
)

// ValidateAccessToken verifies an access token and returns its claims.
func (i *TokenIssuer) ValidateAccessToken(tokenString string) (SessionClaims, error) {
	return i.validate(tokenString, tokenUseAccess)
}

// ValidateRefreshToken verifies a refresh token and returns its claims.
func (i *TokenIssuer) ValidateRefreshToken(tokenString string) (SessionClaims, error) {
	return i.validate(tokenString, tokenUseRefresh)
}

// ValidateRequest extracts the bearer access token from the Authorization header and validates it.
func (i *TokenIssuer) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return i.ValidateAccessToken(header[len(bearerPrefix):])
}

func (i *TokenIssuer) validate(tokenString, use string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(*jwt.Token) (interface{}, error) {
			return i.signingSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if claims.TokenUse != use {
		return SessionClaims{}, ErrWrongTokenUse
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	return *claims, nil
}
