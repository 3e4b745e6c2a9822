package game

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/models"
)

// IntentType tags the variant carried by an Intent.
type IntentType string

const (
	IntentPlayCard       IntentType = "play_card"
	IntentDrawCard       IntentType = "draw_card"
	IntentPressChallenge IntentType = "press_challenge"
	IntentPressPenalty   IntentType = "press_penalty"
	IntentEndTurn        IntentType = "end_turn"

	// IntentCloseChallengeWindow is only issued by the host's challenge-window timer.
	IntentCloseChallengeWindow IntentType = "close_challenge_window"
)

// SystemPlayerID is the actor id the host uses for intents that originate from its own timers.
var SystemPlayerID = uuid.Nil

// Intent is a player's request to change the game. Fields beyond Type and PlayerID
// are only meaningful for the variants that use them.
type Intent struct {
	Type     IntentType `json:"type"`
	PlayerID uuid.UUID  `json:"playerId"`

	// PlayCard
	Card        *models.Card `json:"card,omitempty"`
	ChosenColor models.Color `json:"chosenColor,omitempty"`

	// PressPenalty
	TargetID uuid.UUID `json:"targetId,omitempty"`
}

func PlayCard(playerID uuid.UUID, card models.Card, chosen models.Color) Intent {
	return Intent{Type: IntentPlayCard, PlayerID: playerID, Card: &card, ChosenColor: chosen}
}

func DrawCard(playerID uuid.UUID) Intent {
	return Intent{Type: IntentDrawCard, PlayerID: playerID}
}

func PressChallenge(playerID uuid.UUID) Intent {
	return Intent{Type: IntentPressChallenge, PlayerID: playerID}
}

func PressPenalty(playerID, targetID uuid.UUID) Intent {
	return Intent{Type: IntentPressPenalty, PlayerID: playerID, TargetID: targetID}
}

func EndTurn(playerID uuid.UUID) Intent {
	return Intent{Type: IntentEndTurn, PlayerID: playerID}
}

func CloseChallengeWindow() Intent {
	return Intent{Type: IntentCloseChallengeWindow, PlayerID: SystemPlayerID}
}
