package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/jason-s-yu/kampai/internal/models"
)

// Snapshot is what a UI renders: the latest state copy, the local player's own hand and
// the countdown currently shown.
type Snapshot struct {
	Self     models.PlayerInfo   `json:"self"`
	Lobby    []models.PlayerInfo `json:"lobby"`
	Rules    game.RuleConfig     `json:"rules"`
	State    game.GameState      `json:"state"`
	Hand     game.Hand           `json:"hand"`
	Deadline time.Time           `json:"deadline,omitempty"`
}

// InMatch reports whether the snapshot belongs to a running or finished match rather than the lobby.
func (s Snapshot) InMatch() bool {
	return s.State.GameID != uuid.Nil
}

// MyTurn reports whether the local player is the current player.
func (s Snapshot) MyTurn() bool {
	return s.InMatch() && s.State.CurrentPlayerID() == s.Self.ID
}

// Remaining is the countdown left at now, never negative.
func (s Snapshot) Remaining(now time.Time) time.Duration {
	if s.Deadline.IsZero() || now.After(s.Deadline) {
		return 0
	}
	return s.Deadline.Sub(now)
}

// Feed holds only the newest Snapshot. Subscribers that fall behind skip straight to the
// latest value; there is no backlog.
type Feed struct {
	mu     sync.Mutex
	latest Snapshot
	subs   map[chan Snapshot]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan Snapshot]struct{})}
}

// Latest returns the current value.
func (f *Feed) Latest() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

// Publish replaces the current value.
func (f *Feed) Publish(s Snapshot) {
	f.Update(func(cur *Snapshot) { *cur = s })
}

// Update edits the current value in place and pushes the result to every subscriber.
// Slices held by the snapshot must be replaced, not mutated.
func (f *Feed) Update(fn func(*Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.latest)
	for ch := range f.subs {
		offer(ch, f.latest)
	}
}

// Subscribe returns a channel that always yields the newest snapshot, starting with the
// current one, and a function to stop the subscription.
func (f *Feed) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	ch <- f.latest
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
		})
	}
}

// offer replaces whatever is buffered in ch with s.
func offer(ch chan Snapshot, s Snapshot) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
