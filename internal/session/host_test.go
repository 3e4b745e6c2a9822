package session

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/jason-s-yu/kampai/internal/lobby"
	"github.com/jason-s-yu/kampai/internal/models"
	"github.com/jason-s-yu/kampai/internal/protocol"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records every frame per recipient.
type fakeTransport struct {
	mu    sync.Mutex
	ids   []uuid.UUID
	inbox map[uuid.UUID][]protocol.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbox: make(map[uuid.UUID][]protocol.Message)}
}

func (f *fakeTransport) add(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

func (f *fakeTransport) Send(id uuid.UUID, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox[id] = append(f.inbox[id], msg)
	return nil
}

func (f *fakeTransport) Broadcast(msg protocol.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.ids {
		f.inbox[id] = append(f.inbox[id], msg)
	}
}

func (f *fakeTransport) BroadcastFunc(build func(uuid.UUID) []protocol.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.ids {
		f.inbox[id] = append(f.inbox[id], build(id)...)
	}
}

func (f *fakeTransport) messages(id uuid.UUID) []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.inbox[id]...)
}

func (f *fakeTransport) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = make(map[uuid.UUID][]protocol.Message)
}

func ofKind[T protocol.Message](msgs []protocol.Message) []T {
	var out []T
	for _, m := range msgs {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type table struct {
	host    *Host
	net     *fakeTransport
	remotes []models.PlayerInfo
}

// seat ids in seating order: host first, then remotes in join order.
func (tb table) seat(i int) uuid.UUID {
	if i == 0 {
		return tb.host.Self().ID
	}
	return tb.remotes[i-1].ID
}

func newTable(t *testing.T, remotes int, rules game.RuleConfig, seed int64) table {
	t.Helper()
	h := NewHost(HostConfig{
		Self:        models.NewPlayerInfo("host", true),
		TableName:   "test",
		Rules:       rules,
		GameOptions: []game.Option{game.WithRand(rand.New(rand.NewSource(seed)))},
		Log:         quietLog(),
	})
	t.Cleanup(h.Close)
	ft := newFakeTransport()
	h.Attach(ft)
	ft.add(h.Self().ID)

	tb := table{host: h, net: ft}
	for i := 0; i < remotes; i++ {
		p := models.NewPlayerInfo("remote", false)
		require.NoError(t, h.Admit(p))
		ft.add(p.ID)
		h.OnConnect(p)
		tb.remotes = append(tb.remotes, p)
	}
	return tb
}

func untimedRules() game.RuleConfig {
	rules := game.DefaultRuleConfig()
	rules.TurnDurationSeconds = 0
	return rules
}

func TestHostLobbyIntroducesPlayers(t *testing.T) {
	tb := newTable(t, 2, untimedRules(), 1)

	second := tb.remotes[1].ID
	connects := ofKind[protocol.Connect](tb.net.messages(second))
	var names []uuid.UUID
	for _, c := range connects {
		names = append(names, c.Player.ID)
	}
	assert.Contains(t, names, tb.host.Self().ID)
	assert.Contains(t, names, tb.remotes[0].ID)
	assert.Len(t, tb.host.Feed().Latest().Lobby, 3)
	assert.False(t, tb.host.Feed().Latest().InMatch())
}

func TestHostStartMatchNeedsTwoPlayers(t *testing.T) {
	tb := newTable(t, 0, untimedRules(), 1)
	assert.Error(t, tb.host.StartMatch(context.Background()))
	assert.Nil(t, tb.host.Game())
}

// After any successful intent, every StateSync sent to a player who is not the active
// player carries the true count and no cards.
func TestHostFanOutHidesHands(t *testing.T) {
	tb := newTable(t, 2, untimedRules(), 7)
	ctx := context.Background()
	require.NoError(t, tb.host.StartMatch(ctx))
	tb.net.clear()

	require.NoError(t, tb.host.Submit(ctx, game.DrawCard(uuid.Nil)))

	g := tb.host.Game()
	active := g.State().CurrentPlayerID()
	require.Equal(t, tb.seat(1), active)

	for i := 0; i < 3; i++ {
		id := tb.seat(i)
		msgs := tb.net.messages(id)
		syncs := ofKind[protocol.StateSync](msgs)
		require.Len(t, syncs, 1, "one StateSync per player")
		full, ok := g.HandOf(id)
		require.True(t, ok)

		hand := syncs[0].Hand
		assert.Equal(t, id, hand.PlayerID)
		assert.Equal(t, full.Count, hand.Count)
		if id == active {
			assert.Equal(t, full.Cards, hand.Cards)
		} else {
			assert.Empty(t, hand.Cards, "non-active player must not get card contents")
		}

		for _, hs := range ofKind[protocol.HandSync](msgs) {
			assert.Equal(t, id, hs.Hand.PlayerID, "HandSync only carries the recipient's own hand")
		}
		for _, p := range syncs[0].State.Players {
			if p.ID == id {
				assert.Equal(t, full.Count, p.HandCount)
			}
		}
	}
	assert.Equal(t, 8, g.State().Players[0].HandCount)
}

func TestHostRemoteIntentResultGoesOnlyToRequester(t *testing.T) {
	tb := newTable(t, 2, untimedRules(), 3)
	ctx := context.Background()
	require.NoError(t, tb.host.StartMatch(ctx))
	tb.net.clear()

	// seat 2 is not the current player
	req := protocol.IntentRequest{RequestID: uuid.New(), Intent: game.EndTurn(tb.seat(2))}
	tb.host.OnMessage(tb.seat(2), req)

	require.Eventually(t, func() bool {
		return len(ofKind[protocol.IntentResult](tb.net.messages(tb.seat(2)))) == 1
	}, 2*time.Second, 10*time.Millisecond)

	res := ofKind[protocol.IntentResult](tb.net.messages(tb.seat(2)))[0]
	assert.Equal(t, req.RequestID, res.RequestID)
	assert.False(t, res.Success)
	assert.Equal(t, game.ErrNotYourTurn.Reason, res.Reason)
	assert.Empty(t, tb.net.messages(tb.seat(0)), "no broadcast on a rejected intent")
	assert.Empty(t, tb.net.messages(tb.seat(1)))
}

func TestHostRemoteIntentSuccessFollowsStateSync(t *testing.T) {
	tb := newTable(t, 1, untimedRules(), 3)
	ctx := context.Background()
	require.NoError(t, tb.host.StartMatch(ctx))
	require.NoError(t, tb.host.Submit(ctx, game.EndTurn(uuid.Nil)))
	tb.net.clear()

	remote := tb.seat(1)
	req := protocol.IntentRequest{RequestID: uuid.New(), Intent: game.DrawCard(remote)}
	tb.host.OnMessage(remote, req)

	require.Eventually(t, func() bool {
		return len(ofKind[protocol.IntentResult](tb.net.messages(remote))) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msgs := tb.net.messages(remote)
	last := msgs[len(msgs)-1]
	require.IsType(t, protocol.IntentResult{}, last)
	assert.True(t, last.(protocol.IntentResult).Success)
	assert.IsType(t, protocol.StateSync{}, msgs[0])

	hostMsgs := tb.net.messages(tb.seat(0))
	assert.Empty(t, ofKind[protocol.IntentResult](hostMsgs))
	assert.NotEmpty(t, ofKind[protocol.StateSync](hostMsgs))
}

func TestHostRewritesImpersonatedIntent(t *testing.T) {
	tb := newTable(t, 2, untimedRules(), 5)
	ctx := context.Background()
	require.NoError(t, tb.host.StartMatch(ctx))
	tb.net.clear()

	// seat 2 claims to be the host, who is the current player
	tb.host.OnMessage(tb.seat(2), protocol.IntentRequest{RequestID: uuid.New(), Intent: game.DrawCard(tb.seat(0))})
	require.Eventually(t, func() bool {
		return len(ofKind[protocol.IntentResult](tb.net.messages(tb.seat(2)))) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, ofKind[protocol.IntentResult](tb.net.messages(tb.seat(2)))[0].Success)
	assert.Equal(t, 0, tb.host.Game().State().CurrentPlayerIndex)
}

func TestHostTurnTransitionAcknowledgment(t *testing.T) {
	tb := newTable(t, 1, untimedRules(), 9)
	ctx := context.Background()
	require.NoError(t, tb.host.StartMatch(ctx))
	require.NoError(t, tb.host.Submit(ctx, game.EndTurn(uuid.Nil)))

	g := tb.host.Game()
	require.Equal(t, game.PhaseTurnTransition, g.Phase())
	turns := ofKind[protocol.TurnTransition](tb.net.messages(tb.seat(1)))
	require.NotEmpty(t, turns)
	last := turns[len(turns)-1]
	assert.Equal(t, tb.seat(1), last.CurrentPlayerID)

	// a stale acknowledgment is ignored
	tb.host.OnMessage(tb.seat(1), protocol.TurnTransition{TurnID: last.TurnID - 1})
	tb.host.OnMessage(tb.seat(1), protocol.TurnTransition{TurnID: last.TurnID})
	require.Eventually(t, func() bool { return g.Phase() == game.PhasePlaying }, 2*time.Second, 10*time.Millisecond)
}

func TestHostAcknowledgesItsOwnTurn(t *testing.T) {
	tb := newTable(t, 1, untimedRules(), 9)
	ctx := context.Background()
	require.NoError(t, tb.host.StartMatch(ctx))
	require.NoError(t, tb.host.Submit(ctx, game.EndTurn(uuid.Nil)))

	remote := tb.seat(1)
	tb.host.OnMessage(remote, protocol.IntentRequest{RequestID: uuid.New(), Intent: game.EndTurn(remote)})
	require.Eventually(t, func() bool {
		s := tb.host.Game().State()
		return s.CurrentPlayerID() == tb.seat(0) && s.Phase == game.PhasePlaying
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHostJoinRules(t *testing.T) {
	tb := newTable(t, 2, untimedRules(), 1)
	ctx := context.Background()
	require.NoError(t, tb.host.StartMatch(ctx))

	assert.ErrorIs(t, tb.host.Admit(models.NewPlayerInfo("late", false)), ErrMatchInProgress)

	gone := tb.remotes[1]
	tb.host.OnDisconnect(gone.ID)
	assert.ErrorIs(t, tb.host.Admit(gone), ErrRejoinDenied)
	assert.Len(t, tb.host.Game().Players(), 3, "a departed player keeps their seat")

	assert.ErrorIs(t, tb.host.StartMatch(ctx), ErrMatchInProgress)
	require.NoError(t, tb.host.ReturnToLobby(ctx))
	assert.Nil(t, tb.host.Game())
	assert.False(t, tb.host.Feed().Latest().InMatch())
	assert.NoError(t, tb.host.Admit(gone))

	syncs := ofKind[protocol.StateSync](tb.net.messages(tb.seat(1)))
	require.NotEmpty(t, syncs)
	assert.Equal(t, uuid.Nil, syncs[len(syncs)-1].State.GameID)
}

func TestHostIntentWithoutMatch(t *testing.T) {
	tb := newTable(t, 1, untimedRules(), 1)
	assert.ErrorIs(t, tb.host.Submit(context.Background(), game.DrawCard(uuid.Nil)), ErrNoMatch)
}

func TestHostTurnTimerDrawsForIdlePlayer(t *testing.T) {
	rules := game.DefaultRuleConfig()
	rules.TurnDurationSeconds = 1
	tb := newTable(t, 1, rules, 11)
	require.NoError(t, tb.host.StartMatch(context.Background()))

	g := tb.host.Game()
	require.NotZero(t, tb.host.Feed().Latest().Deadline)
	require.Eventually(t, func() bool { return g.TurnID() >= 1 }, 3*time.Second, 20*time.Millisecond)

	last := g.State()
	hand, _ := g.HandOf(tb.seat(0))
	assert.GreaterOrEqual(t, hand.Count, 8, "timed-out host drew a card")
	assert.Equal(t, 108, g.CardTotal())
	assert.NotNil(t, last.LastAction)
}

// openingPlay finds a seed whose host opening hand can be played on the starting card.
func openingPlay(t *testing.T, rules game.RuleConfig) (table, models.Card) {
	t.Helper()
	for seed := int64(1); seed < 200; seed++ {
		tb := newTable(t, 2, rules, seed)
		require.NoError(t, tb.host.StartMatch(context.Background()))
		g := tb.host.Game()
		top := g.State().TopCard
		hand, _ := g.HandOf(tb.seat(0))
		for _, c := range hand.Cards {
			if c.CanPlayOn(top) {
				return tb, c
			}
		}
		tb.host.Close()
	}
	t.Fatal("no playable opening hand found")
	return table{}, models.Card{}
}

func TestHostChallengeWindowNoticeAndExpiry(t *testing.T) {
	rules := untimedRules()
	rules.InitialHandSize = 2
	rules.KampaiPenaltySeconds = 1
	tb, c := openingPlay(t, rules)
	ctx := context.Background()
	tb.net.clear()

	chosen := models.Color("")
	if c.IsWild() {
		chosen = models.ColorBlue
	}
	require.NoError(t, tb.host.Submit(ctx, game.PlayCard(uuid.Nil, c, chosen)))

	g := tb.host.Game()
	require.Equal(t, game.PhaseChallengeWindow, g.Phase())
	for i := 1; i < 3; i++ {
		notices := ofKind[protocol.ChallengeWindowOpened](tb.net.messages(tb.seat(i)))
		require.Len(t, notices, 1)
		assert.Equal(t, tb.seat(0), notices[0].PlayerID)
		assert.Equal(t, 1, notices[0].Seconds)
	}

	require.Eventually(t, func() bool { return g.Phase() != game.PhaseChallengeWindow }, 3*time.Second, 20*time.Millisecond)
	assert.False(t, g.State().ChallengeOpen)
	hand, _ := g.HandOf(tb.seat(0))
	assert.Equal(t, 1, hand.Count, "window expiry carries no penalty")
}

func TestHostPenaltyFromRemoteDuringWindow(t *testing.T) {
	rules := untimedRules()
	rules.InitialHandSize = 2
	rules.KampaiPenaltySeconds = 30
	tb, c := openingPlay(t, rules)
	ctx := context.Background()

	chosen := models.Color("")
	if c.IsWild() {
		chosen = models.ColorGreen
	}
	require.NoError(t, tb.host.Submit(ctx, game.PlayCard(uuid.Nil, c, chosen)))
	g := tb.host.Game()
	require.Equal(t, game.PhaseChallengeWindow, g.Phase())

	penalizer := tb.seat(2)
	tb.host.OnMessage(penalizer, protocol.IntentRequest{RequestID: uuid.New(), Intent: game.PressPenalty(penalizer, tb.seat(0))})
	require.Eventually(t, func() bool { return g.Phase() == game.PhasePlaying }, 2*time.Second, 10*time.Millisecond)

	hand, _ := g.HandOf(tb.seat(0))
	assert.Equal(t, 3, hand.Count)
	assert.Equal(t, 108, g.CardTotal())
}

type memRecorder struct {
	mu   sync.Mutex
	recs []game.ActionRecord
}

func (r *memRecorder) Record(_ context.Context, rec game.ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func TestHostRecordsAppliedIntents(t *testing.T) {
	rec := &memRecorder{}
	h := NewHost(HostConfig{
		Self:     models.NewPlayerInfo("host", true),
		Rules:    untimedRules(),
		Recorder: rec,
		Log:      quietLog(),
	})
	defer h.Close()
	require.NoError(t, h.Admit(models.NewPlayerInfo("ana", false)))

	ctx := context.Background()
	require.NoError(t, h.StartMatch(ctx))
	require.NoError(t, h.Submit(ctx, game.DrawCard(uuid.Nil)))
	assert.Error(t, h.Submit(ctx, game.DrawCard(uuid.Nil)))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.recs, 1)
	assert.Equal(t, 1, rec.recs[0].Sequence)
	assert.Equal(t, game.IntentDrawCard, rec.recs[0].Intent.Type)
	assert.Equal(t, h.Game().ID, rec.recs[0].GameID)
}

func TestHostRosterSaveAndRestore(t *testing.T) {
	store := lobby.NewMemoryStore()
	rules := untimedRules()
	rules.AllowStackingPlusCards = true
	h := NewHost(HostConfig{
		Self:      models.NewPlayerInfo("host", true),
		TableName: "friday",
		Rules:     rules,
		Store:     store,
		Log:       quietLog(),
	})
	defer h.Close()
	ana := models.NewPlayerInfo("ana", false)
	require.NoError(t, h.Admit(ana))

	ctx := context.Background()
	saved, err := h.SaveRoster(ctx)
	require.NoError(t, err)
	assert.Len(t, saved.Players, 2)

	next := NewHost(HostConfig{
		Self:  models.NewPlayerInfo("host", true),
		Rules: untimedRules(),
		Store: store,
		Log:   quietLog(),
	})
	defer next.Close()
	expected, err := next.RestoreRoster(ctx, saved.ID)
	require.NoError(t, err)
	assert.Contains(t, expected, ana)
	assert.Equal(t, "friday", next.Lobby().Name)
	assert.True(t, next.Feed().Latest().Rules.AllowStackingPlusCards)

	_, err = next.RestoreRoster(ctx, uuid.New())
	assert.ErrorIs(t, err, lobby.ErrRosterNotFound)
}
