package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	customerTokenTTL = 12 * time.Hour
	adminTokenTTL    = 8 * time.Hour
)

// AccessClaims identifies either a customer of the mini app or an admin.
// Admin tokens carry the admin's Telegram id as the actor and no customer.
type AccessClaims struct {
	CustomerID int64 `json:"cid,omitempty"`
	TelegramID int64 `json:"tgid"`
	IsAdmin    bool  `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

func SignCustomerToken(secret string, customerID, telegramID int64, now time.Time) (string, error) {
	return sign(secret, AccessClaims{
		CustomerID: customerID,
		TelegramID: telegramID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(customerTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   "customer",
		},
	})
}

func SignAdminToken(secret string, telegramID int64, now time.Time) (string, error) {
	return sign(secret, AccessClaims{
		TelegramID: telegramID,
		IsAdmin:    true,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(adminTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   "admin",
		},
	})
}

func sign(secret string, claims AccessClaims) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseAccessToken verifies signature and expiry.
func ParseAccessToken(secret string, tokenString string) (*AccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if !claims.IsAdmin && claims.CustomerID <= 0 {
		return nil, errors.New("token has no customer")
	}
	return claims, nil
}

// ActorID is the id recorded on decisions made with these claims.
func (c *AccessClaims) ActorID() int64 {
	if c.IsAdmin {
		return c.TelegramID
	}
	return c.CustomerID
}
