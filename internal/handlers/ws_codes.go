// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the UI bridge.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Seat token was invalid or expired.
	SeatMismatchError     = 3002 // Token was issued for a different seat than this process plays.
)
