package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents JWT token claims issued to API principals. The
// subscription type doubles as the access level for section rights.
type Claims struct {
	UserID           string `json:"user_id"`
	SubscriptionType string `json:"subscription_type"`
	Email            string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator handles JWT token validation
type JWTValidator struct {
	secret         []byte
	allowedIssuers []string
}

// NewJWTValidator creates a new JWT validator
func NewJWTValidator(secret string, allowedIssuers []string) *JWTValidator {
	return &JWTValidator{
		secret:         []byte(secret),
		allowedIssuers: allowedIssuers,
	}
}

// ValidateToken validates a JWT token string and returns claims
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	// Remove Bearer prefix if present
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	if claims.UserID == "" {
		return nil, errors.New("token missing user_id claim")
	}
	if claims.SubscriptionType == "" {
		return nil, errors.New("token missing subscription_type claim")
	}

	// Validate issuer if an allowlist is configured
	if len(v.allowedIssuers) > 0 {
		validIssuer := false
		for _, allowedIss := range v.allowedIssuers {
			if claims.Issuer == allowedIss {
				validIssuer = true
				break
			}
		}
		if !validIssuer {
			return nil, fmt.Errorf("invalid issuer: %s", claims.Issuer)
		}
	}

	return claims, nil
}

// GenerateToken signs a token for the given principal. Used by the bootstrap
// tooling and tests; production tokens are issued by the tenant's auth system
// with the same claims layout.
func (v *JWTValidator) GenerateToken(userID, subscriptionType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:           userID,
		SubscriptionType: subscriptionType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if len(v.allowedIssuers) > 0 {
		claims.Issuer = v.allowedIssuers[0]
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
