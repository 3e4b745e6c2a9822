package game

import (
	"time"

	"github.com/google/uuid"
)

// ActionRecord is one applied intent as kept in a match's action log.
type ActionRecord struct {
	GameID   uuid.UUID `json:"gameId"`
	Sequence int       `json:"sequence"`
	TurnID   int       `json:"turnId"`
	Intent   Intent    `json:"intent"`
	Phase    Phase     `json:"phase"` // phase after the intent was applied
	At       time.Time `json:"at"`
}
