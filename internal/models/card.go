// internal/models/card.go
package models

import (
	"fmt"
	"strings"
)

// Color is one of the four suits, or wild for cards that take a chosen color when played.
type Color string

const (
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorWild   Color = "wild"
)

// Suits lists the four playable colors in canonical deck order.
var Suits = []Color{ColorRed, ColorYellow, ColorGreen, ColorBlue}

// Value is the face of a card: a digit or one of the action faces.
type Value string

const (
	ValueZero         Value = "0"
	ValueOne          Value = "1"
	ValueTwo          Value = "2"
	ValueThree        Value = "3"
	ValueFour         Value = "4"
	ValueFive         Value = "5"
	ValueSix          Value = "6"
	ValueSeven        Value = "7"
	ValueEight        Value = "8"
	ValueNine         Value = "9"
	ValueSkip         Value = "skip"
	ValueReverse      Value = "reverse"
	ValueDrawTwo      Value = "draw_two"
	ValueWild         Value = "wild"
	ValueWildDrawFour Value = "wild_draw_four"
)

// DeckSize is the number of cards in the canonical deck.
const DeckSize = 108

var numberValues = []Value{
	ValueZero, ValueOne, ValueTwo, ValueThree, ValueFour,
	ValueFive, ValueSix, ValueSeven, ValueEight, ValueNine,
}

// Card is an immutable color/value pair. Two cards with the same color and value are interchangeable.
type Card struct {
	Color Color `json:"color"`
	Value Value `json:"value"`
}

// GenerateDeck returns the canonical, unshuffled 108-card multiset:
// per suit one 0 and two each of 1-9, skip, reverse and draw-two,
// plus four wild and four wild-draw-four cards.
func GenerateDeck() []Card {
	deck := make([]Card, 0, DeckSize)
	for _, color := range Suits {
		deck = append(deck, Card{Color: color, Value: ValueZero})
		for _, v := range numberValues[1:] {
			deck = append(deck, Card{Color: color, Value: v}, Card{Color: color, Value: v})
		}
		for _, v := range []Value{ValueSkip, ValueReverse, ValueDrawTwo} {
			deck = append(deck, Card{Color: color, Value: v}, Card{Color: color, Value: v})
		}
	}
	for i := 0; i < 4; i++ {
		deck = append(deck, Card{Color: ColorWild, Value: ValueWild})
		deck = append(deck, Card{Color: ColorWild, Value: ValueWildDrawFour})
	}
	return deck
}

// IsWild reports whether the card still carries the wild color. A wild that has been
// played with a chosen color is no longer wild.
func (c Card) IsWild() bool {
	return c.Color == ColorWild
}

// IsWildFace reports whether the card's face is wild or wild-draw-four, regardless of color.
func (c Card) IsWildFace() bool {
	return c.Value == ValueWild || c.Value == ValueWildDrawFour
}

// IsPlusCard reports whether the card forces the next player to draw.
func (c Card) IsPlusCard() bool {
	return c.Value == ValueDrawTwo || c.Value == ValueWildDrawFour
}

// IsSpecial reports whether the card is anything other than a plain number.
func (c Card) IsSpecial() bool {
	switch c.Value {
	case ValueSkip, ValueReverse, ValueDrawTwo, ValueWild, ValueWildDrawFour:
		return true
	}
	return false
}

// DrawAmount is the number of cards a plus card forces; 0 for everything else.
func (c Card) DrawAmount() int {
	switch c.Value {
	case ValueDrawTwo:
		return 2
	case ValueWildDrawFour:
		return 4
	}
	return 0
}

// CanPlayOn reports whether c may legally follow top: same color, same value, or either side wild.
func (c Card) CanPlayOn(top Card) bool {
	if c.IsWild() || top.IsWild() {
		return true
	}
	return c.Color == top.Color || c.Value == top.Value
}

// WithColor returns a copy of the card carrying the chosen color.
func (c Card) WithColor(color Color) Card {
	c.Color = color
	return c
}

// Canonical restores the deck form of a card; played wilds get their wild color back.
func (c Card) Canonical() Card {
	if c.IsWildFace() {
		c.Color = ColorWild
	}
	return c
}

func (c Card) String() string {
	if c.Color == ColorWild {
		return string(c.Value)
	}
	return fmt.Sprintf("%s %s", c.Color, c.Value)
}

// ParseColor accepts one of the four suit names, case-insensitively.
func ParseColor(s string) (Color, error) {
	color := Color(strings.ToLower(strings.TrimSpace(s)))
	for _, suit := range Suits {
		if suit == color {
			return color, nil
		}
	}
	return "", fmt.Errorf("unknown color %q", s)
}
