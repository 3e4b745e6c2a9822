// internal/game/sync_state.go
package game

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/models"
)

// PlayerState is one seat as seen by every participant: identity plus hand size only.
type PlayerState struct {
	models.PlayerInfo
	HandCount int `json:"handCount"`
}

// GameState is the snapshot distributed to every participant. Pile contents are never
// included, only their sizes.
type GameState struct {
	GameID             uuid.UUID     `json:"gameId"`
	Phase              Phase         `json:"phase"`
	Players            []PlayerState `json:"players"`
	CurrentPlayerIndex int           `json:"currentPlayerIndex"`
	Direction          Direction     `json:"direction"`
	TopCard            models.Card   `json:"topCard"`
	DrawPileSize       int           `json:"drawPileSize"`
	DiscardPileSize    int           `json:"discardPileSize"`
	PendingStackedDraw int           `json:"pendingStackedDraw"`
	ChallengeOpen      bool          `json:"challengeOpen"`
	ChallengeOpenedAt  time.Time     `json:"challengeOpenedAt,omitempty"`
	ChallengedPlayerID uuid.UUID     `json:"challengedPlayerId,omitempty"`
	Rules              RuleConfig    `json:"rules"`
	WinnerID           uuid.UUID     `json:"winnerId,omitempty"`
	LastAction         *Intent       `json:"lastAction,omitempty"`
	TurnID             int           `json:"turnId"`
}

// CurrentPlayerID returns the id of the player whose turn it is.
func (s GameState) CurrentPlayerID() uuid.UUID {
	if s.CurrentPlayerIndex < 0 || s.CurrentPlayerIndex >= len(s.Players) {
		return uuid.Nil
	}
	return s.Players[s.CurrentPlayerIndex].ID
}

// Player looks up a seat by id.
func (s GameState) Player(id uuid.UUID) (PlayerState, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return PlayerState{}, false
}

// Hand is a player's cards. Count is always accurate; Cards may be withheld.
type Hand struct {
	PlayerID uuid.UUID     `json:"playerId"`
	Count    int           `json:"count"`
	Cards    []models.Card `json:"cards"`
}

// Hidden returns the hand with its card list emptied.
func (h Hand) Hidden() Hand {
	return Hand{PlayerID: h.PlayerID, Count: h.Count, Cards: []models.Card{}}
}

// State builds a snapshot of the match.
func (g *Game) State() GameState {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := GameState{
		GameID:             g.ID,
		Phase:              g.phase,
		Players:            make([]PlayerState, len(g.players)),
		CurrentPlayerIndex: g.currentPlayerIndex,
		Direction:          g.direction,
		TopCard:            g.topCard(),
		DrawPileSize:       len(g.drawPile),
		DiscardPileSize:    len(g.discardPile),
		PendingStackedDraw: g.pendingStackedDraw,
		ChallengeOpen:      g.challengeOpen,
		ChallengeOpenedAt:  g.challengeOpenedAt,
		ChallengedPlayerID: g.challengedID,
		Rules:              g.Rules,
		WinnerID:           g.winnerID,
		TurnID:             g.turnID,
	}
	if g.lastAction != nil {
		last := *g.lastAction
		state.LastAction = &last
	}
	for i, p := range g.players {
		state.Players[i] = PlayerState{PlayerInfo: p, HandCount: len(g.hands[i])}
	}
	return state
}

// HandOf returns a copy of a player's full hand.
func (g *Game) HandOf(playerID uuid.UUID) (Hand, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := g.indexOfPlayer(playerID)
	if idx < 0 {
		return Hand{}, false
	}
	return g.handAt(idx), true
}

// HandFor returns the Hand payload a viewer receives with a state sync: the card list is
// only populated when the viewer is the active player, otherwise just the count is sent.
func (g *Game) HandFor(viewer uuid.UUID) Hand {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := g.indexOfPlayer(viewer)
	if idx < 0 {
		return Hand{PlayerID: viewer, Cards: []models.Card{}}
	}
	hand := g.handAt(idx)
	if idx != g.currentPlayerIndex {
		return hand.Hidden()
	}
	return hand
}

func (g *Game) handAt(idx int) Hand {
	cards := make([]models.Card, len(g.hands[idx]))
	copy(cards, g.hands[idx])
	return Hand{PlayerID: g.players[idx].ID, Count: len(cards), Cards: cards}
}

// Players returns the seating order.
func (g *Game) Players() []models.PlayerInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.PlayerInfo(nil), g.players...)
}

// Phase returns the current phase.
func (g *Game) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// TurnID identifies the current turn; it changes on every advance and is used to spot stale timers.
func (g *Game) TurnID() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.turnID
}

// CardTotal counts every card in the draw pile, discard pile and all hands.
func (g *Game) CardTotal() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := len(g.drawPile) + len(g.discardPile)
	for _, h := range g.hands {
		total += len(h)
	}
	return total
}
