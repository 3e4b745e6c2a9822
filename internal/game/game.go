// internal/game/game.go
package game

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/models"
	"github.com/sirupsen/logrus"
)

// Phase is the coarse state of a match.
type Phase string

const (
	PhasePlaying         Phase = "PLAYING"
	PhaseChallengeWindow Phase = "CHALLENGE_WINDOW"
	PhaseTurnTransition  Phase = "TURN_TRANSITION"
	PhaseGameOver        Phase = "GAME_OVER"
)

// Direction is +1 for clockwise (join order) and -1 for counter-clockwise.
type Direction int

const (
	Forward  Direction = 1
	Backward Direction = -1
)

// Game is the authoritative rule engine for one match. Exactly one instance exists,
// owned by the host; every exported method is safe for concurrent use.
type Game struct {
	ID    uuid.UUID
	Rules RuleConfig

	players     []models.PlayerInfo
	hands       [][]models.Card // aligned with players
	drawPile    []models.Card   // index 0 is the top
	discardPile []models.Card   // last element is the top

	currentPlayerIndex int
	direction          Direction
	phase              Phase
	pendingStackedDraw int
	turnID             int // increments on every turn advance

	challengeOpen     bool
	challengeOpenedAt time.Time
	challengedID      uuid.UUID

	winnerID   uuid.UUID
	lastAction *Intent

	rng *rand.Rand
	now func() time.Time
	log *logrus.Entry
	mu  sync.Mutex
}

// Option customises a Game at construction.
type Option func(*Game)

// WithRand fixes the shuffle source, mainly for tests.
func WithRand(r *rand.Rand) Option {
	return func(g *Game) { g.rng = r }
}

// WithClock replaces time.Now for challenge-window timing.
func WithClock(now func() time.Time) Option {
	return func(g *Game) { g.now = now }
}

// WithLogger sets the logger entry the engine writes to.
func WithLogger(log *logrus.Entry) Option {
	return func(g *Game) { g.log = log }
}

// NewGame initializes a match: it shuffles a fresh deck, deals InitialHandSize cards
// to each player in join order and turns up a starting card that is not a wild.
func NewGame(players []models.PlayerInfo, rules RuleConfig, opts ...Option) (*Game, error) {
	if len(players) < 2 {
		return nil, errors.New("at least two players are required")
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}

	g := &Game{
		ID:        uuid.New(),
		Rules:     rules,
		players:   append([]models.PlayerInfo(nil), players...),
		hands:     make([][]models.Card, len(players)),
		direction: Forward,
		phase:     PhasePlaying,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logrus.NewEntry(logrus.StandardLogger())
	}
	g.log = g.log.WithField("game", g.ID)

	g.drawPile = g.freshDeck()

	for i := range g.players {
		g.hands[i] = make([]models.Card, 0, rules.InitialHandSize)
		g.drawCards(i, rules.InitialHandSize)
	}

	g.turnUpStartCard()

	g.log.WithFields(logrus.Fields{
		"players":  len(g.players),
		"handSize": rules.InitialHandSize,
		"top":      g.topCard().String(),
	}).Info("Game initialized")
	return g, nil
}

func (g *Game) freshDeck() []models.Card {
	deck := models.GenerateDeck()
	g.rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}

// turnUpStartCard draws until a non-wild card surfaces. Rejected wilds are buried in the
// discard pile under the starter. If the draw pile runs dry during the search a fresh
// deck is generated, which puts a second copy of the deck into play.
func (g *Game) turnUpStartCard() {
	for {
		if len(g.drawPile) == 0 {
			g.log.Warn("Draw pile exhausted while searching for a start card; generating a fresh deck")
			g.drawPile = g.freshDeck()
		}
		card := g.drawPile[0]
		g.drawPile = g.drawPile[1:]
		g.discardPile = append(g.discardPile, card)
		if !card.IsWildFace() {
			return
		}
	}
}

// ValidateIntent checks whether playerID may play card right now without changing anything.
func (g *Game) ValidateIntent(playerID uuid.UUID, card models.Card) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validatePlay(playerID, card)
}

func (g *Game) validatePlay(playerID uuid.UUID, card models.Card) error {
	if err := g.checkTurnAction(playerID); err != nil {
		return err
	}
	hand := g.hands[g.currentPlayerIndex]
	if indexOfCard(hand, card) < 0 {
		return ErrCardNotInHand
	}
	if g.pendingStackedDraw > 0 && g.Rules.AllowStackingPlusCards && !card.IsPlusCard() {
		return ErrMustStackOrDraw
	}
	if !card.CanPlayOn(g.topCard()) {
		return ErrIllegalPlay
	}
	if g.Rules.CantFinishWithSpecial && len(hand) == 1 && card.IsSpecial() {
		return ErrCannotFinishWithSpecial
	}
	return nil
}

// checkTurnAction is the shared gate for PlayCard, DrawCard and EndTurn.
func (g *Game) checkTurnAction(playerID uuid.UUID) error {
	switch g.phase {
	case PhaseGameOver:
		return ErrGameOver
	case PhaseChallengeWindow:
		return ErrChallengeWindowOpen
	}
	if g.players[g.currentPlayerIndex].ID != playerID {
		return ErrNotYourTurn
	}
	return nil
}

// ApplyIntent validates and applies a single intent. On error the state is untouched.
func (g *Game) ApplyIntent(in Intent) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var err error
	switch in.Type {
	case IntentPlayCard:
		err = g.handlePlayCard(in)
	case IntentDrawCard:
		err = g.handleDrawCard(in)
	case IntentPressChallenge:
		err = g.handlePressChallenge(in)
	case IntentPressPenalty:
		err = g.handlePressPenalty(in)
	case IntentEndTurn:
		err = g.handleEndTurn(in)
	case IntentCloseChallengeWindow:
		err = g.handleCloseChallengeWindow(in)
	default:
		err = ErrUnknownIntent
	}

	fields := logrus.Fields{"intent": in.Type, "player": in.PlayerID}
	if err != nil {
		g.log.WithFields(fields).WithError(err).Debug("Intent rejected")
		return err
	}
	applied := in
	g.lastAction = &applied
	g.log.WithFields(fields).WithField("phase", g.phase).Debug("Intent applied")
	return nil
}

func (g *Game) handlePlayCard(in Intent) error {
	if in.Card == nil {
		return ErrCardNotInHand
	}
	card := *in.Card
	if err := g.validatePlay(in.PlayerID, card); err != nil {
		return err
	}
	played := card
	if card.IsWild() {
		chosen, err := models.ParseColor(string(in.ChosenColor))
		if err != nil {
			return ErrColorRequired
		}
		played = card.WithColor(chosen)
	}

	actor := g.currentPlayerIndex
	hand := g.hands[actor]
	idx := indexOfCard(hand, card)
	g.hands[actor] = append(hand[:idx:idx], hand[idx+1:]...)
	g.discardPile = append(g.discardPile, played)

	switch {
	case card.Value == models.ValueSkip:
		g.advanceTurn(true)
	case card.Value == models.ValueReverse:
		g.direction = -g.direction
		g.advanceTurn(false)
	case card.IsPlusCard():
		if g.Rules.AllowStackingPlusCards {
			g.pendingStackedDraw += card.DrawAmount()
			g.advanceTurn(false)
		} else {
			victim := g.nextIndex(false)
			g.drawCards(victim, card.DrawAmount())
			g.advanceTurn(true)
		}
	default:
		g.advanceTurn(false)
	}

	switch len(g.hands[actor]) {
	case 0:
		g.endGame(actor)
	case 1:
		g.openChallengeWindow(actor)
	}
	return nil
}

func (g *Game) handleDrawCard(in Intent) error {
	if err := g.checkTurnAction(in.PlayerID); err != nil {
		return err
	}
	n := 1
	if g.pendingStackedDraw > 0 {
		n = g.pendingStackedDraw
	}
	g.drawCards(g.currentPlayerIndex, n)
	g.pendingStackedDraw = 0
	g.advanceTurn(false)
	return nil
}

func (g *Game) handlePressChallenge(in Intent) error {
	if g.phase != PhaseChallengeWindow {
		return ErrNoChallengeWindow
	}
	if in.PlayerID != g.challengedID {
		return ErrNotChallengeOwner
	}
	g.closeChallengeWindow()
	return nil
}

func (g *Game) handlePressPenalty(in Intent) error {
	if g.phase != PhaseChallengeWindow {
		return ErrNoChallengeWindow
	}
	if g.indexOfPlayer(in.PlayerID) < 0 {
		return ErrUnknownPlayer
	}
	target := g.indexOfPlayer(in.TargetID)
	if target < 0 {
		return ErrUnknownPlayer
	}
	if in.TargetID == in.PlayerID {
		return ErrSelfPenalty
	}
	window := time.Duration(g.Rules.KampaiPenaltySeconds) * time.Second
	if g.now().Sub(g.challengeOpenedAt) > window {
		return ErrPenaltyWindowExpired
	}
	g.drawCards(target, 2)
	g.closeChallengeWindow()
	return nil
}

func (g *Game) handleEndTurn(in Intent) error {
	if err := g.checkTurnAction(in.PlayerID); err != nil {
		return err
	}
	g.advanceTurn(false)
	return nil
}

func (g *Game) handleCloseChallengeWindow(in Intent) error {
	if in.PlayerID != SystemPlayerID {
		return ErrNotPermitted
	}
	if g.phase != PhaseChallengeWindow {
		return ErrNoChallengeWindow
	}
	g.closeChallengeWindow()
	return nil
}

// AcknowledgeTurn moves a TURN_TRANSITION back to PLAYING once the new current player has seen it.
func (g *Game) AcknowledgeTurn(playerID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.phase != PhaseTurnTransition || g.players[g.currentPlayerIndex].ID != playerID {
		return ErrNothingToAcknowledge
	}
	g.phase = PhasePlaying
	return nil
}

func (g *Game) openChallengeWindow(playerIdx int) {
	g.phase = PhaseChallengeWindow
	g.challengeOpen = true
	g.challengeOpenedAt = g.now()
	g.challengedID = g.players[playerIdx].ID
	g.log.WithField("player", g.challengedID).Info("Challenge window opened")
}

func (g *Game) closeChallengeWindow() {
	g.phase = PhasePlaying
	g.challengeOpen = false
	g.challengeOpenedAt = time.Time{}
	g.challengedID = uuid.Nil
}

func (g *Game) endGame(winnerIdx int) {
	g.phase = PhaseGameOver
	g.challengeOpen = false
	g.challengeOpenedAt = time.Time{}
	g.challengedID = uuid.Nil
	g.winnerID = g.players[winnerIdx].ID
	g.log.WithField("winner", g.winnerID).Info("Game over")
}

// nextIndex computes the player after the current one, optionally skipping one extra seat.
func (g *Game) nextIndex(skip bool) int {
	step := 1
	if skip {
		step = 2
	}
	n := len(g.players)
	next := g.currentPlayerIndex + int(g.direction)*step
	for next < 0 {
		next += n
	}
	for next >= n {
		next -= n
	}
	return next
}

// advanceTurn moves play on and leaves the match waiting for the new player to acknowledge.
func (g *Game) advanceTurn(skip bool) {
	g.currentPlayerIndex = g.nextIndex(skip)
	g.turnID++
	g.phase = PhaseTurnTransition
}

// drawCards deals up to n cards into a player's hand. If the piles cannot supply a card the
// remainder of the draw is silently dropped.
func (g *Game) drawCards(playerIdx, n int) {
	for i := 0; i < n; i++ {
		card, ok := g.drawOne()
		if !ok {
			g.log.WithField("player", g.players[playerIdx].ID).Warn("No cards left to draw")
			return
		}
		g.hands[playerIdx] = append(g.hands[playerIdx], card)
	}
}

func (g *Game) drawOne() (models.Card, bool) {
	if len(g.drawPile) == 0 {
		g.reshuffle()
	}
	if len(g.drawPile) == 0 {
		return models.Card{}, false
	}
	card := g.drawPile[0]
	g.drawPile = g.drawPile[1:]
	return card, true
}

// reshuffle sets aside the top discard, shuffles the rest of the discard pile into a new
// draw pile, and leaves the set-aside card as the only discard.
func (g *Game) reshuffle() {
	if len(g.discardPile) <= 1 {
		return
	}
	last := len(g.discardPile) - 1
	top := g.discardPile[last]
	pile := make([]models.Card, 0, last)
	for _, c := range g.discardPile[:last] {
		pile = append(pile, c.Canonical())
	}
	g.rng.Shuffle(len(pile), func(i, j int) {
		pile[i], pile[j] = pile[j], pile[i]
	})
	g.drawPile = append(g.drawPile, pile...)
	g.discardPile = []models.Card{top}
	g.log.WithField("drawPile", len(g.drawPile)).Info("Reshuffled discard pile into draw pile")
}

func (g *Game) topCard() models.Card {
	if len(g.discardPile) == 0 {
		return models.Card{}
	}
	return g.discardPile[len(g.discardPile)-1]
}

func (g *Game) indexOfPlayer(id uuid.UUID) int {
	for i, p := range g.players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func indexOfCard(hand []models.Card, card models.Card) int {
	for i, c := range hand {
		if c == card {
			return i
		}
	}
	return -1
}
