// internal/auth/handoff.go
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
)

// HandoffAudience is the "aud" of every handoff token.
const HandoffAudience = "match"

// HandoffTTL bounds how long a client may take to present its handoff token.
var HandoffTTL = 5 * time.Minute

// HandoffClaims is what the match engine learns from a verified handoff token.
type HandoffClaims struct {
	LobbyID uuid.UUID   `json:"lobby_id"`
	MatchID string      `json:"match_id"`
	Seats   []uuid.UUID `json:"seats"`
	jwt.RegisteredClaims
}

// SignHandoff signs h with the server key so a match engine holding PublicKey can
// verify the seat mapping a client presents. The token ID doubles as the jti.
func SignHandoff(h models.Handoff) (string, error) {
	if privateKey == nil {
		return "", fmt.Errorf("auth keys not initialized")
	}
	seats := make([]uuid.UUID, len(h.Seats))
	for i, s := range h.Seats {
		seats[i] = s.UserID
	}
	claims := HandoffClaims{
		LobbyID: h.LobbyID,
		MatchID: h.MatchID,
		Seats:   seats,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        h.TokenID.String(),
			Subject:   h.LobbyID.String(),
			Audience:  jwt.ClaimStrings{HandoffAudience},
			IssuedAt:  jwt.NewNumericDate(h.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(h.IssuedAt.Add(HandoffTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(privateKey)
}

// VerifyHandoff checks a handoff token's signature, audience and expiry.
func VerifyHandoff(token string) (*HandoffClaims, error) {
	if publicKey == nil {
		return nil, fmt.Errorf("auth keys not initialized")
	}
	claims := &HandoffClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	}, jwt.WithAudience(HandoffAudience))
	if err != nil {
		return nil, fmt.Errorf("handoff token: %w", err)
	}
	return claims, nil
}
