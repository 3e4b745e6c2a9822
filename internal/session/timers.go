package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/sirupsen/logrus"
)

// phaseTimers holds the host's authoritative countdowns. The turn timer is bound to a
// turn id and the challenge timer to a window's opening time; leaving either scope
// cancels the timer, and a timer that fires late is discarded by its stale check.
// Only the host's dispatch loop touches it.
type phaseTimers struct {
	turn   *time.Timer
	turnID int

	window   *time.Timer
	windowAt time.Time

	deadline time.Time
	fire     func(job)
	log      *logrus.Entry
}

func newPhaseTimers(fire func(job), log *logrus.Entry) *phaseTimers {
	return &phaseTimers{turnID: -1, fire: fire, log: log}
}

// reconcile arms or cancels timers to match state and returns the deadline to display.
func (pt *phaseTimers) reconcile(state game.GameState) time.Time {
	switch {
	case state.GameID == uuid.Nil || state.Phase == game.PhaseGameOver:
		pt.stopAll()

	case state.ChallengeOpen:
		pt.stopTurn()
		if !pt.windowAt.Equal(state.ChallengeOpenedAt) {
			pt.stopWindow()
			openedAt := state.ChallengeOpenedAt
			d := time.Duration(state.Rules.KampaiPenaltySeconds) * time.Second
			pt.windowAt = openedAt
			pt.deadline = time.Now().Add(d)
			pt.window = time.AfterFunc(d, func() {
				pt.fire(job{
					intent: game.CloseChallengeWindow(),
					stale: func(g *game.Game) bool {
						s := g.State()
						return !s.ChallengeOpen || !s.ChallengeOpenedAt.Equal(openedAt)
					},
				})
			})
			pt.log.WithField("seconds", state.Rules.KampaiPenaltySeconds).Debug("Challenge timer armed")
		}

	default:
		pt.stopWindow()
		if state.Rules.TurnDurationSeconds <= 0 {
			pt.stopTurn()
			break
		}
		if pt.turnID != state.TurnID {
			pt.stopTurn()
			turnID := state.TurnID
			player := state.CurrentPlayerID()
			d := time.Duration(state.Rules.TurnDurationSeconds) * time.Second
			pt.turnID = turnID
			pt.deadline = time.Now().Add(d)
			pt.turn = time.AfterFunc(d, func() {
				pt.fire(job{
					intent: game.DrawCard(player),
					stale: func(g *game.Game) bool {
						phase := g.Phase()
						return g.TurnID() != turnID || phase == game.PhaseChallengeWindow || phase == game.PhaseGameOver
					},
				})
			})
			pt.log.WithFields(logrus.Fields{"turn": turnID, "player": player}).Debug("Turn timer armed")
		}
	}
	return pt.deadline
}

func (pt *phaseTimers) stopTurn() {
	if pt.turn != nil {
		pt.turn.Stop()
		pt.turn = nil
	}
	pt.turnID = -1
	if pt.window == nil {
		pt.deadline = time.Time{}
	}
}

func (pt *phaseTimers) stopWindow() {
	if pt.window != nil {
		pt.window.Stop()
		pt.window = nil
	}
	pt.windowAt = time.Time{}
	if pt.turn == nil {
		pt.deadline = time.Time{}
	}
}

func (pt *phaseTimers) stopAll() {
	pt.stopTurn()
	pt.stopWindow()
}
