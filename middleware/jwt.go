package middleware

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Ticket roles.
const (
	RolePlayer    = "player"
	RoleSpectator = "spectator"
)

// Claims is the payload of an encounter ticket. A player ticket names the
// pawn it controls; a spectator ticket only grants read access.
type Claims struct {
	EncounterID string `json:"encounter_id"`
	PlayerID    int64  `json:"player_id,omitempty"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateTicket signs a ticket for one encounter with the given secret and
// TTL. It returns the token and its unique ID.
func GenerateTicket(encounterID string, playerID int64, role, secret string, ttl time.Duration) (string, string, error) {
	now := time.Now()
	jti := uuid.NewString()
	claims := &Claims{
		EncounterID: encounterID,
		PlayerID:    playerID,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	return signed, jti, err
}

// ParseTicket validates a ticket string and returns the claims.
func ParseTicket(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Role != RolePlayer && claims.Role != RoleSpectator {
		return nil, errors.New("invalid ticket role")
	}
	return claims, nil
}
