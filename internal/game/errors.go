package game

// ErrorKind classifies a rejected intent.
type ErrorKind string

const (
	// ValidationError is a rule violation: wrong turn, missing card, illegal play.
	ValidationError ErrorKind = "validation"
	// TimingError is an action that arrived after its window closed. Handled like a ValidationError.
	TimingError ErrorKind = "timing"
)

// RuleError is returned for every rejected intent. The game state is never modified
// when a RuleError is returned.
type RuleError struct {
	Kind   ErrorKind
	Reason string
}

func (e *RuleError) Error() string {
	return e.Reason
}

func newRuleError(kind ErrorKind, reason string) *RuleError {
	return &RuleError{Kind: kind, Reason: reason}
}

var (
	ErrGameOver                = newRuleError(ValidationError, "game is over")
	ErrNotYourTurn             = newRuleError(ValidationError, "not your turn")
	ErrCardNotInHand           = newRuleError(ValidationError, "card not in hand")
	ErrMustStackOrDraw         = newRuleError(ValidationError, "must play a draw card or draw the stack")
	ErrIllegalPlay             = newRuleError(ValidationError, "card cannot be played on the top card")
	ErrCannotFinishWithSpecial = newRuleError(ValidationError, "cannot finish with a special card")
	ErrColorRequired           = newRuleError(ValidationError, "a color must be chosen for a wild card")
	ErrChallengeWindowOpen     = newRuleError(ValidationError, "challenge window is open")
	ErrNoChallengeWindow       = newRuleError(ValidationError, "no challenge window is open")
	ErrNotChallengeOwner       = newRuleError(ValidationError, "only the player on one card can declare")
	ErrUnknownPlayer           = newRuleError(ValidationError, "unknown player")
	ErrSelfPenalty             = newRuleError(ValidationError, "cannot penalize yourself")
	ErrNotPermitted            = newRuleError(ValidationError, "action is reserved for the host")
	ErrNothingToAcknowledge    = newRuleError(ValidationError, "no turn transition to acknowledge")
	ErrUnknownIntent           = newRuleError(ValidationError, "unknown intent")
	ErrPenaltyWindowExpired    = newRuleError(TimingError, "penalty window has expired")
)
