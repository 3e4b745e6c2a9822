// internal/lobby/lobby.go
package lobby

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/jason-s-yu/kampai/internal/models"
)

// MaxPlayers caps how many players may sit at one table.
const MaxPlayers = 10

var (
	ErrLobbyFull     = errors.New("lobby is full")
	ErrAlreadyJoined = errors.New("player already in lobby")
)

// Lobby is the pre-match grouping of players on the host, with the rules the next match will use.
type Lobby struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	HostID uuid.UUID `json:"hostId"`

	players []models.PlayerInfo // join order
	rules   game.RuleConfig

	mu sync.Mutex
}

// NewLobby creates a lobby whose first member is the host.
func NewLobby(name string, host models.PlayerInfo, rules game.RuleConfig) *Lobby {
	return &Lobby{
		ID:      uuid.New(),
		Name:    name,
		HostID:  host.ID,
		players: []models.PlayerInfo{host},
		rules:   rules,
	}
}

// Join appends a player in join order.
func (l *Lobby) Join(p models.PlayerInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.players {
		if existing.ID == p.ID {
			return ErrAlreadyJoined
		}
	}
	if len(l.players) >= MaxPlayers {
		return ErrLobbyFull
	}
	l.players = append(l.players, p)
	return nil
}

// Leave removes a player and reports whether they were present.
func (l *Lobby) Leave(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, p := range l.players {
		if p.ID == id {
			l.players = append(l.players[:i], l.players[i+1:]...)
			return true
		}
	}
	return false
}

// Has reports whether a player is in the lobby.
func (l *Lobby) Has(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.players {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Players returns the members in join order.
func (l *Lobby) Players() []models.PlayerInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.PlayerInfo(nil), l.players...)
}

func (l *Lobby) Rules() game.RuleConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rules
}

// UpdateRules merges a partial rule map into the current rules. On error nothing changes.
func (l *Lobby) UpdateRules(newRules map[string]interface{}) (game.RuleConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	updated, err := game.ParseRules(newRules, l.rules)
	if err != nil {
		return l.rules, err
	}
	l.rules = updated
	return l.rules, nil
}

// Snapshot captures the lobby as a Roster for persistence.
func (l *Lobby) Snapshot() Roster {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Roster{
		ID:      l.ID,
		Name:    l.Name,
		HostID:  l.HostID,
		Players: append([]models.PlayerInfo(nil), l.players...),
		Rules:   l.rules,
		SavedAt: time.Now().UTC(),
	}
}

// Restore takes the rules and identity of a saved roster. Players still have to connect
// again; the saved list is returned so callers can show who is expected.
func (l *Lobby) Restore(r Roster) []models.PlayerInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ID = r.ID
	if r.Name != "" {
		l.Name = r.Name
	}
	l.rules = r.Rules
	return append([]models.PlayerInfo(nil), r.Players...)
}
