package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// UserClaims identifies the acting user of a counting request.
type UserClaims struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	jwt.StandardClaims
}

var ErrInvalidToken = errors.New("invalid token")

func jwtSecret() []byte {
	if secret := os.Getenv("API_SECRET"); secret != "" {
		return []byte(secret)
	}
	return []byte("Assets-Secret")
}

func tokenLifespan() time.Duration {
	hours, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil || hours <= 0 {
		hours = 12
	}
	return time.Duration(hours) * time.Hour
}

// JwtGenerate signs an HS256 token for the user, valid for TOKEN_HOUR_LIFESPAN hours.
func JwtGenerate(userId int, name string, username string) (string, error) {
	now := time.Now()
	claims := &UserClaims{
		ID:       userId,
		Name:     name,
		Username: username,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(tokenLifespan()).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret())
}

// ParseUserToken verifies the signature and expiry and returns the user claims.
func ParseUserToken(token string) (*UserClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &UserClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*UserClaims)
	if !ok || !parsed.Valid || claims.ID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
