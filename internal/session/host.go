// Package session glues the rule engine to the transport. The host applies every intent
// through a single dispatch loop and fans the result out with hand-hiding; clients only
// forward intents and mirror what the host sends them.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/jason-s-yu/kampai/internal/lobby"
	"github.com/jason-s-yu/kampai/internal/models"
	"github.com/jason-s-yu/kampai/internal/protocol"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoMatch         = errors.New("no match in progress")
	ErrMatchInProgress = errors.New("match in progress")
	ErrRejoinDenied    = errors.New("cannot rejoin a match in progress")
	ErrClosed          = errors.New("session closed")
)

// Participant is the local player's handle on a session, host or client alike.
type Participant interface {
	Self() models.PlayerInfo
	Submit(ctx context.Context, in game.Intent) error
	Feed() *Feed
}

// Transport is the subset of the connection manager the host needs.
type Transport interface {
	Send(playerID uuid.UUID, msg protocol.Message) error
	Broadcast(msg protocol.Message)
	BroadcastFunc(build func(playerID uuid.UUID) []protocol.Message)
}

// Recorder receives every applied intent.
type Recorder interface {
	Record(ctx context.Context, rec game.ActionRecord) error
}

type HostConfig struct {
	Self        models.PlayerInfo
	TableName   string
	Rules       game.RuleConfig
	Store       lobby.RosterStore // optional
	Recorder    Recorder          // optional
	GameOptions []game.Option
	Log         *logrus.Entry
}

// job is one unit of work for the dispatch loop.
type job struct {
	intent game.Intent
	ack    bool // TurnTransition acknowledgment from the player in intent.PlayerID
	reset  bool // a match started or ended; resync everyone

	// from and requestID identify a remote requester to answer with IntentResult.
	from      uuid.UUID
	requestID uuid.UUID

	// stale discards timer jobs whose phase has already moved on.
	stale func(g *game.Game) bool
	reply chan error
}

// Host owns the authoritative game and serialises every change to it.
type Host struct {
	self     models.PlayerInfo
	lobby    *lobby.Lobby
	store    lobby.RosterStore
	recorder Recorder
	gameOpts []game.Option
	feed     *Feed
	log      *logrus.Entry

	mu        sync.Mutex
	transport Transport
	game      *game.Game
	departed  map[uuid.UUID]bool

	// owned by the dispatch loop
	timers     *phaseTimers
	lastTurnID int
	lastWindow time.Time
	seq        int

	jobs      chan job
	done      chan struct{}
	closeOnce sync.Once
}

// NewHost creates the host session and starts its dispatch loop.
func NewHost(cfg HostConfig) *Host {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	self := cfg.Self
	self.IsHost = true

	h := &Host{
		self:      self,
		lobby:     lobby.NewLobby(cfg.TableName, self, cfg.Rules),
		store:     cfg.Store,
		recorder:  cfg.Recorder,
		gameOpts:  cfg.GameOptions,
		feed:      NewFeed(),
		log:       log.WithField("component", "session"),
		transport: noopTransport{},
		jobs:      make(chan job, 64),
		done:      make(chan struct{}),
	}
	h.timers = newPhaseTimers(h.enqueue, h.log)
	h.lastTurnID = -1
	h.publishLobby()
	go h.loop()
	return h
}

// Attach sets the transport used to reach remote players.
func (h *Host) Attach(t Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transport = t
}

func (h *Host) Self() models.PlayerInfo { return h.self }
func (h *Host) Feed() *Feed             { return h.feed }
func (h *Host) Lobby() *lobby.Lobby     { return h.lobby }

// Game returns the running match, if any.
func (h *Host) Game() *game.Game {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.game
}

func (h *Host) net() Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transport
}

// Close stops the dispatch loop and every timer.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

// Admit decides whether a connecting player may join. Joining is only possible in the lobby.
func (h *Host) Admit(p models.PlayerInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.game != nil {
		if h.departed[p.ID] {
			return ErrRejoinDenied
		}
		return ErrMatchInProgress
	}
	p.IsHost = false
	return h.lobby.Join(p)
}

// OnConnect introduces the new player to the table and the table to the new player.
func (h *Host) OnConnect(p models.PlayerInfo) {
	t := h.net()
	for _, member := range h.lobby.Players() {
		if member.ID != p.ID {
			_ = t.Send(p.ID, protocol.Connect{Player: member})
		}
	}
	t.Broadcast(protocol.Connect{Player: p})
	h.log.WithFields(logrus.Fields{"player": p.ID, "name": p.Name}).Info("Player joined lobby")
	h.publishLobby()
}

// OnMessage routes a remote player's frames into the dispatch loop.
func (h *Host) OnMessage(from uuid.UUID, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.IntentRequest:
		in := m.Intent
		if in.PlayerID != from {
			h.log.WithFields(logrus.Fields{"from": from, "claimed": in.PlayerID}).Warn("Intent player id rewritten to sender")
			in.PlayerID = from
		}
		h.enqueue(job{intent: in, from: from, requestID: m.RequestID})
	case protocol.TurnTransition:
		turnID := m.TurnID
		h.enqueue(job{
			ack:    true,
			intent: game.Intent{PlayerID: from},
			stale:  func(g *game.Game) bool { return g.TurnID() != turnID },
		})
	default:
		h.log.WithFields(logrus.Fields{"from": from, "kind": msg.Kind()}).Debug("Ignoring frame")
	}
}

// OnDisconnect drops the player from the lobby. A player leaving mid-match keeps their
// seat, their turns run out on the turn timer, and they may not come back.
func (h *Host) OnDisconnect(id uuid.UUID) {
	h.lobby.Leave(id)
	h.mu.Lock()
	if h.game != nil {
		h.departed[id] = true
	}
	h.mu.Unlock()
	h.log.WithField("player", id).Info("Player left")
	h.publishLobby()
}

// UpdateRules changes the rules for the next match.
func (h *Host) UpdateRules(newRules map[string]interface{}) (game.RuleConfig, error) {
	rules, err := h.lobby.UpdateRules(newRules)
	if err != nil {
		return rules, err
	}
	h.publishLobby()
	return rules, nil
}

// SaveRoster persists the current table.
func (h *Host) SaveRoster(ctx context.Context) (lobby.Roster, error) {
	r := h.lobby.Snapshot()
	if h.store == nil {
		return r, errors.New("no roster store configured")
	}
	if err := h.store.SaveRoster(ctx, r); err != nil {
		return r, fmt.Errorf("failed to save roster: %w", err)
	}
	return r, nil
}

// RestoreRoster reopens a saved table: its identity and rules are taken over, and the
// saved players are returned so the caller can show who is expected to reconnect.
func (h *Host) RestoreRoster(ctx context.Context, id uuid.UUID) ([]models.PlayerInfo, error) {
	if h.store == nil {
		return nil, errors.New("no roster store configured")
	}
	r, err := h.store.LoadRoster(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := h.lobby.Restore(r)
	h.publishLobby()
	return expected, nil
}

// StartMatch deals a new match to everyone in the lobby. A finished match may be
// replaced; a running one may not.
func (h *Host) StartMatch(ctx context.Context) error {
	h.mu.Lock()
	if h.game != nil && h.game.Phase() != game.PhaseGameOver {
		h.mu.Unlock()
		return ErrMatchInProgress
	}
	opts := append(append([]game.Option(nil), h.gameOpts...), game.WithLogger(h.log))
	g, err := game.NewGame(h.lobby.Players(), h.lobby.Rules(), opts...)
	if err != nil {
		h.mu.Unlock()
		return fmt.Errorf("failed to start match: %w", err)
	}
	h.game = g
	h.departed = make(map[uuid.UUID]bool)
	h.mu.Unlock()

	if h.store != nil {
		if _, err := h.SaveRoster(ctx); err != nil {
			h.log.WithError(err).Warn("Roster not saved")
		}
	}
	h.log.WithFields(logrus.Fields{"game": g.ID, "players": len(g.Players())}).Info("Match started")
	return h.do(ctx, job{reset: true})
}

// ReturnToLobby discards the match and sends everyone back to the lobby.
func (h *Host) ReturnToLobby(ctx context.Context) error {
	h.mu.Lock()
	if h.game == nil {
		h.mu.Unlock()
		return ErrNoMatch
	}
	h.game = nil
	h.departed = nil
	h.mu.Unlock()
	h.log.Info("Returned to lobby")
	return h.do(ctx, job{reset: true})
}

// Submit applies the host player's own intent.
func (h *Host) Submit(ctx context.Context, in game.Intent) error {
	in.PlayerID = h.self.ID
	return h.do(ctx, job{intent: in})
}

// do queues j and waits for the loop to finish it.
func (h *Host) do(ctx context.Context, j job) error {
	j.reply = make(chan error, 1)
	select {
	case h.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrClosed
	}
	select {
	case err := <-j.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrClosed
	}
}

// enqueue queues j without waiting for it.
func (h *Host) enqueue(j job) {
	select {
	case h.jobs <- j:
	case <-h.done:
	}
}

func (h *Host) loop() {
	for {
		select {
		case j := <-h.jobs:
			h.handle(j)
		case <-h.done:
			h.timers.stopAll()
			return
		}
	}
}

func (h *Host) handle(j job) {
	g := h.Game()
	var err error
	switch {
	case j.reset:
		h.timers.stopAll()
		h.lastTurnID = -1
		h.lastWindow = time.Time{}
		h.seq = 0
		if g != nil {
			h.fanOut(g)
		} else {
			h.fanOutLobby()
		}
	case g == nil:
		err = ErrNoMatch
	case j.stale != nil && j.stale(g):
		h.log.WithField("intent", j.intent.Type).Debug("Discarding stale job")
	case j.ack:
		if err = g.AcknowledgeTurn(j.intent.PlayerID); err == nil {
			h.fanOut(g)
		} else {
			h.log.WithError(err).WithField("player", j.intent.PlayerID).Debug("Acknowledgment ignored")
		}
	default:
		if err = g.ApplyIntent(j.intent); err == nil {
			h.record(g, j.intent)
			h.fanOut(g)
		}
	}

	if j.from != uuid.Nil && !j.ack {
		res := protocol.IntentResult{RequestID: j.requestID, Success: err == nil}
		if err != nil {
			res.Reason = err.Error()
		}
		if sendErr := h.net().Send(j.from, res); sendErr != nil {
			h.log.WithError(sendErr).WithField("player", j.from).Warn("IntentResult not delivered")
		}
	}
	if j.reply != nil {
		j.reply <- err
	}
}

// fanOut sends every player the new state with their own view of the hands, then any
// challenge or turn notices, and arms the host timers for the new phase.
func (h *Host) fanOut(g *game.Game) {
	if g.Phase() == game.PhaseTurnTransition {
		_ = g.AcknowledgeTurn(h.self.ID)
	}
	state := g.State()
	deadline := h.timers.reconcile(state)

	var notices []protocol.Message
	if state.ChallengeOpen && !state.ChallengeOpenedAt.Equal(h.lastWindow) {
		h.lastWindow = state.ChallengeOpenedAt
		notices = append(notices, protocol.ChallengeWindowOpened{
			PlayerID: state.ChallengedPlayerID,
			OpenedAt: state.ChallengeOpenedAt,
			Seconds:  state.Rules.KampaiPenaltySeconds,
		})
	}
	if state.Phase != game.PhaseGameOver && state.TurnID != h.lastTurnID {
		h.lastTurnID = state.TurnID
		notices = append(notices, protocol.TurnTransition{
			TurnID:          state.TurnID,
			CurrentPlayerID: state.CurrentPlayerID(),
			Seconds:         state.Rules.TurnDurationSeconds,
		})
	}

	h.net().BroadcastFunc(func(id uuid.UUID) []protocol.Message {
		msgs := []protocol.Message{protocol.StateSync{State: state, Hand: g.HandFor(id)}}
		if hand, ok := g.HandOf(id); ok {
			msgs = append(msgs, protocol.HandSync{Hand: hand})
		}
		return append(msgs, notices...)
	})

	own, _ := g.HandOf(h.self.ID)
	h.feed.Update(func(s *Snapshot) {
		s.Self = h.self
		s.Lobby = h.lobby.Players()
		s.Rules = state.Rules
		s.State = state
		s.Hand = own
		s.Deadline = deadline
	})
	if state.Phase == game.PhaseGameOver {
		h.log.WithFields(logrus.Fields{"game": state.GameID, "winner": state.WinnerID}).Info("Match finished")
	}
}

// fanOutLobby tells everyone the match is gone.
func (h *Host) fanOutLobby() {
	h.net().Broadcast(protocol.StateSync{State: game.GameState{}, Hand: game.Hand{Cards: []models.Card{}}})
	h.publishLobby()
}

func (h *Host) publishLobby() {
	inMatch := h.Game() != nil
	h.feed.Update(func(s *Snapshot) {
		s.Self = h.self
		s.Lobby = h.lobby.Players()
		if !inMatch {
			s.Rules = h.lobby.Rules()
			s.State = game.GameState{}
			s.Hand = game.Hand{PlayerID: h.self.ID, Cards: []models.Card{}}
			s.Deadline = time.Time{}
		}
	})
}

func (h *Host) record(g *game.Game, in game.Intent) {
	if h.recorder == nil {
		return
	}
	h.seq++
	rec := game.ActionRecord{
		GameID:   g.ID,
		Sequence: h.seq,
		TurnID:   g.TurnID(),
		Intent:   in,
		Phase:    g.Phase(),
		At:       time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.recorder.Record(ctx, rec); err != nil {
		h.log.WithError(err).Warn("Action not recorded")
	}
}

type noopTransport struct{}

func (noopTransport) Send(uuid.UUID, protocol.Message) error            { return nil }
func (noopTransport) Broadcast(protocol.Message)                        {}
func (noopTransport) BroadcastFunc(func(uuid.UUID) []protocol.Message) {}
