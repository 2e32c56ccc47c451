package kyc

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// audienceStatus scopes tokens to the session-status endpoint.
const audienceStatus = "kyc:status"

// tokenTTL bounds how long a login grants status polling.
const tokenTTL = 15 * time.Minute

type sessionClaims struct {
	jwt.RegisteredClaims
	Wallet string `json:"wallet"`
}

// issueSessionToken signs a short-lived bearer bound to the session and
// wallet, so only the wallet that opened a session can poll it.
func issueSessionToken(signingKey []byte, session Session, now time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.ID.String(),
			Audience:  jwt.ClaimStrings{audienceStatus},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
		Wallet: session.WalletAddress.Hex(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// parseSessionToken verifies the bearer and returns the session ID it is
// bound to.
func parseSessionToken(signingKey []byte, bearer string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(bearer, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return signingKey, nil
	}, jwt.WithAudience(audienceStatus))
	if err != nil || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}
