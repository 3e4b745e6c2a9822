// internal/protocol/message.go
package protocol

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/jason-s-yu/kampai/internal/models"
)

// Kind names a wire message variant. The name doubles as the marker searched for when decoding.
type Kind string

const (
	KindConnect               Kind = "Connect"
	KindDisconnect            Kind = "Disconnect"
	KindStateSync             Kind = "StateSync"
	KindHandSync              Kind = "HandSync"
	KindIntentRequest         Kind = "IntentRequest"
	KindIntentResult          Kind = "IntentResult"
	KindChallengeWindowOpened Kind = "ChallengeWindowOpened"
	KindTurnTransition        Kind = "TurnTransition"
)

// Message is one of the eight wire variants below.
type Message interface {
	Kind() Kind
	sealed()
}

// Connect is the first frame on every connection; it binds the connection to a player.
type Connect struct {
	Player models.PlayerInfo `json:"player"`
}

// Disconnect tells the remaining peers a player has left.
type Disconnect struct {
	PlayerID uuid.UUID `json:"playerId"`
	Reason   string    `json:"reason,omitempty"`
}

// StateSync carries the shared snapshot plus the recipient's Hand payload.
type StateSync struct {
	State game.GameState `json:"state"`
	Hand  game.Hand      `json:"hand"`
}

// HandSync carries a player's own hand, sent only to that player.
type HandSync struct {
	Hand game.Hand `json:"hand"`
}

// IntentRequest asks the host to apply an intent.
type IntentRequest struct {
	RequestID uuid.UUID   `json:"requestId"`
	Intent    game.Intent `json:"intent"`
}

// IntentResult answers an IntentRequest, and only goes to the requester.
type IntentResult struct {
	RequestID uuid.UUID `json:"requestId"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
}

// ChallengeWindowOpened announces a player is down to one card.
type ChallengeWindowOpened struct {
	PlayerID uuid.UUID `json:"playerId"`
	OpenedAt time.Time `json:"openedAt"`
	Seconds  int       `json:"seconds"`
}

// TurnTransition announces a new turn. Sent back by the new current player it acknowledges the turn.
type TurnTransition struct {
	TurnID          int       `json:"turnId"`
	CurrentPlayerID uuid.UUID `json:"currentPlayerId"`
	Seconds         int       `json:"seconds"`
}

func (Connect) Kind() Kind               { return KindConnect }
func (Disconnect) Kind() Kind            { return KindDisconnect }
func (StateSync) Kind() Kind             { return KindStateSync }
func (HandSync) Kind() Kind              { return KindHandSync }
func (IntentRequest) Kind() Kind         { return KindIntentRequest }
func (IntentResult) Kind() Kind          { return KindIntentResult }
func (ChallengeWindowOpened) Kind() Kind { return KindChallengeWindowOpened }
func (TurnTransition) Kind() Kind        { return KindTurnTransition }

func (Connect) sealed()               {}
func (Disconnect) sealed()            {}
func (StateSync) sealed()             {}
func (HandSync) sealed()              {}
func (IntentRequest) sealed()         {}
func (IntentResult) sealed()          {}
func (ChallengeWindowOpened) sealed() {}
func (TurnTransition) sealed()        {}
