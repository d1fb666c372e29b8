// ABOUTME: JWT helpers: HS256 issue/verify for the dev backend, unverified viewer decode for the client
// ABOUTME: The "sub" claim is the user id; "name" carries the display name

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/alumni-dm/internal/chat"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (chat.User, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and returns the user it was issued for.
func (v *JWTVerifier) Verify(tokenString string) (chat.User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return chat.User{}, ErrExpiredToken
		}
		return chat.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return chat.User{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return chat.User{}, ErrInvalidToken
	}
	return userFromClaims(claims)
}

// Generate creates a signed token for user that expires after expiresIn.
func (v *JWTVerifier) Generate(user chat.User, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  user.ID,
		"name": user.Name,
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// ViewerFromToken reads the current viewer from a bearer token without
// verifying its signature. The client never holds the signing secret; the
// backend remains the authority on whether the token is valid.
func ViewerFromToken(tokenString string) (chat.User, error) {
	if tokenString == "" {
		return chat.User{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return chat.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return userFromClaims(claims)
}

func userFromClaims(claims jwt.MapClaims) (chat.User, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return chat.User{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = sub
	}
	return chat.User{ID: sub, Name: name}, nil
}
