// internal/lobby/roster_store.go
package lobby

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/jason-s-yu/kampai/internal/models"
)

var ErrRosterNotFound = errors.New("roster not found")

// Roster is a saved table: who played and under which rules. In-progress matches are never saved.
type Roster struct {
	ID      uuid.UUID           `json:"id"`
	Name    string              `json:"name"`
	HostID  uuid.UUID           `json:"hostId"`
	Players []models.PlayerInfo `json:"players"`
	Rules   game.RuleConfig     `json:"rules"`
	SavedAt time.Time           `json:"savedAt"`
}

// RosterStore persists rosters between sessions.
type RosterStore interface {
	SaveRoster(ctx context.Context, r Roster) error
	LoadRoster(ctx context.Context, id uuid.UUID) (Roster, error)
	ListRosters(ctx context.Context) ([]Roster, error)
}

// MemoryStore keeps rosters in memory for the lifetime of the process.
type MemoryStore struct {
	mu      sync.Mutex
	rosters map[uuid.UUID]Roster
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rosters: make(map[uuid.UUID]Roster)}
}

// SaveRoster inserts or replaces the roster with the same id.
func (s *MemoryStore) SaveRoster(_ context.Context, r Roster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Players = append([]models.PlayerInfo(nil), r.Players...)
	s.rosters[r.ID] = r
	return nil
}

func (s *MemoryStore) LoadRoster(_ context.Context, id uuid.UUID) (Roster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rosters[id]
	if !ok {
		return Roster{}, ErrRosterNotFound
	}
	return r, nil
}

// ListRosters returns every roster, most recently saved first.
func (s *MemoryStore) ListRosters(_ context.Context) ([]Roster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Roster, 0, len(s.rosters))
	for _, r := range s.rosters {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}
