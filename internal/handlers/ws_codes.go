// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the lobby handler.
// These provide more specific reasons for closure than standard codes.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Provided auth token was invalid or expired.
	InvalidLobbyIDError   = 3003 // Lobby named in the WS URL does not exist or no longer accepts players.
	LobbyRejectedError    = 3004 // Lobby named in the WS URL refused the join (full, already seated elsewhere).
)
