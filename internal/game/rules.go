// internal/game/rules.go
package game

import (
	"fmt"

	"github.com/jason-s-yu/kampai/internal/models"
)

// RuleConfig holds the options chosen in the lobby for one match.
type RuleConfig struct {
	InitialHandSize        int  `json:"initialHandSize"`        // cards dealt to each player
	AllowStackingPlusCards bool `json:"allowStackingPlusCards"` // draw-two / wild-draw-four may be chained instead of resolved
	CantFinishWithSpecial  bool `json:"cantFinishWithSpecial"`  // the winning play may not be a special card
	TurnDurationSeconds    int  `json:"turnDurationSeconds"`    // 0 disables the turn timer
	KampaiPenaltySeconds   int  `json:"kampaiPenaltySeconds"`   // length of the challenge window
}

// DefaultRuleConfig returns the rules a fresh lobby starts with.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		InitialHandSize:        7,
		AllowStackingPlusCards: false,
		CantFinishWithSpecial:  false,
		TurnDurationSeconds:    30,
		KampaiPenaltySeconds:   5,
	}
}

// Validate checks the numeric options are in range.
func (rules RuleConfig) Validate() error {
	if rules.InitialHandSize < 1 || rules.InitialHandSize > models.DeckSize {
		return fmt.Errorf("initialHandSize must be between 1 and %d", models.DeckSize)
	}
	if rules.TurnDurationSeconds < 0 {
		return fmt.Errorf("turnDurationSeconds must be non-negative")
	}
	if rules.KampaiPenaltySeconds < 0 {
		return fmt.Errorf("kampaiPenaltySeconds must be non-negative")
	}
	return nil
}

// Update will update the rules with the new values provided.
// If a rule is not set or defined, it will be ignored, and the old value will persist.
func (rules *RuleConfig) Update(newRules map[string]interface{}) error {
	assignBool := func(field *bool, key string) error {
		if val, exists := newRules[key]; exists && val != nil {
			b, ok := val.(bool)
			if !ok {
				return fmt.Errorf("invalid type for %s", key)
			}
			*field = b
		}
		return nil
	}

	assignInt := func(field *int, key string, minVal int) error {
		val, exists := newRules[key]
		if !exists || val == nil {
			return nil
		}
		var n int
		switch v := val.(type) {
		case float64: // JSON numbers decode as float64
			n = int(v)
		case int:
			n = v
		default:
			return fmt.Errorf("invalid type for %s", key)
		}
		if n < minVal {
			return fmt.Errorf("%s must be at least %d", key, minVal)
		}
		*field = n
		return nil
	}

	if err := assignInt(&rules.InitialHandSize, "initialHandSize", 1); err != nil {
		return err
	}
	if err := assignBool(&rules.AllowStackingPlusCards, "allowStackingPlusCards"); err != nil {
		return err
	}
	if err := assignBool(&rules.CantFinishWithSpecial, "cantFinishWithSpecial"); err != nil {
		return err
	}
	if err := assignInt(&rules.TurnDurationSeconds, "turnDurationSeconds", 0); err != nil {
		return err
	}
	if err := assignInt(&rules.KampaiPenaltySeconds, "kampaiPenaltySeconds", 0); err != nil {
		return err
	}
	return nil
}

// ParseRules applies a map of rules on top of current and validates the result.
func ParseRules(newRules map[string]interface{}, current RuleConfig) (RuleConfig, error) {
	rules := current
	if err := rules.Update(newRules); err != nil {
		return current, err
	}
	if err := rules.Validate(); err != nil {
		return current, err
	}
	return rules, nil
}
