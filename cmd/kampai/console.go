// cmd/kampai/console.go
package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/jason-s-yu/kampai/internal/lobby"
	"github.com/jason-s-yu/kampai/internal/models"
	"github.com/jason-s-yu/kampai/internal/session"
	"github.com/pterm/pterm"
)

// tableAdmin is the extra control the host player has over the table.
type tableAdmin interface {
	StartMatch(ctx context.Context) error
	ReturnToLobby(ctx context.Context) error
	UpdateRules(newRules map[string]interface{}) (game.RuleConfig, error)
	SaveRoster(ctx context.Context) (lobby.Roster, error)
}

type commandKind int

const (
	cmdIntent commandKind = iota
	cmdStart
	cmdLobby
	cmdRules
	cmdSave
	cmdShow
	cmdHelp
	cmdQuit
)

type command struct {
	kind   commandKind
	intent game.Intent
	rules  map[string]interface{}
}

var errEmptyCommand = errors.New("empty command")

const helpText = `play <n> [color]   play card n from your hand (color for wild cards)
draw               draw a card, or take the stacked draw
end                end your turn after drawing
kampai             declare kampai while on one card
catch <player>     catch a player who forgot to declare
show               redraw the table
start              deal a new match (host)
lobby              return everyone to the lobby (host)
rules key=value..  change rules for the next match (host)
save               save the roster (host)
quit               leave the table`

// parseCommand turns a typed line into an action against the current snapshot.
func parseCommand(line string, snap session.Snapshot) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errEmptyCommand
	}
	self := snap.Self.ID
	args := fields[1:]

	switch strings.ToLower(fields[0]) {
	case "play", "p":
		if len(args) < 1 {
			return command{}, errors.New("usage: play <n> [color]")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 || n > len(snap.Hand.Cards) {
			return command{}, fmt.Errorf("pick a card between 1 and %d", len(snap.Hand.Cards))
		}
		card := snap.Hand.Cards[n-1]
		var chosen models.Color
		if card.IsWild() {
			if len(args) < 2 {
				return command{}, errors.New("a wild card needs a color: red, yellow, green or blue")
			}
			if chosen, err = models.ParseColor(args[1]); err != nil {
				return command{}, err
			}
		}
		return command{kind: cmdIntent, intent: game.PlayCard(self, card, chosen)}, nil
	case "draw", "d":
		return command{kind: cmdIntent, intent: game.DrawCard(self)}, nil
	case "end", "e":
		return command{kind: cmdIntent, intent: game.EndTurn(self)}, nil
	case "kampai", "k":
		return command{kind: cmdIntent, intent: game.PressChallenge(self)}, nil
	case "catch", "c", "penalty":
		if len(args) < 1 {
			return command{}, errors.New("usage: catch <player name or seat>")
		}
		target, err := findPlayer(snap, strings.Join(args, " "))
		if err != nil {
			return command{}, err
		}
		return command{kind: cmdIntent, intent: game.PressPenalty(self, target.ID)}, nil
	case "start":
		return command{kind: cmdStart}, nil
	case "lobby":
		return command{kind: cmdLobby}, nil
	case "rules":
		rules, err := parseRuleArgs(args)
		if err != nil {
			return command{}, err
		}
		return command{kind: cmdRules, rules: rules}, nil
	case "save":
		return command{kind: cmdSave}, nil
	case "show", "s":
		return command{kind: cmdShow}, nil
	case "help", "h", "?":
		return command{kind: cmdHelp}, nil
	case "quit", "q", "exit":
		return command{kind: cmdQuit}, nil
	}
	return command{}, fmt.Errorf("unknown command %q, type help", fields[0])
}

// findPlayer resolves a seat number (1-based) or a case-insensitive name.
func findPlayer(snap session.Snapshot, ref string) (game.PlayerState, error) {
	players := snap.State.Players
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(players) {
			return game.PlayerState{}, fmt.Errorf("no seat %d", n)
		}
		return players[n-1], nil
	}
	var found []game.PlayerState
	for _, p := range players {
		if strings.EqualFold(p.Name, ref) {
			found = append(found, p)
		}
	}
	switch len(found) {
	case 0:
		return game.PlayerState{}, fmt.Errorf("no player named %q", ref)
	case 1:
		return found[0], nil
	}
	return game.PlayerState{}, fmt.Errorf("%d players are named %q, use their seat number", len(found), ref)
}

// parseRuleArgs reads key=value pairs using the rule names of RuleConfig.
func parseRuleArgs(args []string) (map[string]interface{}, error) {
	if len(args) == 0 {
		return nil, errors.New("usage: rules key=value ...")
	}
	out := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		if b, err := strconv.ParseBool(raw); err == nil {
			out[key] = b
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("value for %s must be a number or true/false", key)
		}
		out[key] = n
	}
	return out, nil
}

// play runs the prompt loop until the player quits, ctx ends or done closes.
func play(ctx context.Context, p session.Participant, done <-chan struct{}) error {
	updates, stop := p.Feed().Subscribe()
	defer stop()

	lines := make(chan string)
	go func() {
		for {
			line, err := pterm.DefaultInteractiveTextInput.WithDefaultText("kampai").Show()
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()

	var last viewKey
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case snap := <-updates:
			if key := keyOf(snap); key != last {
				last = key
				pterm.Println(renderSnapshot(snap))
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := runCommand(ctx, p, line)
			if err != nil && !errors.Is(err, errEmptyCommand) {
				pterm.Error.Println(err)
			}
			if quit {
				return nil
			}
		}
	}
}

func runCommand(ctx context.Context, p session.Participant, line string) (bool, error) {
	snap := p.Feed().Latest()
	cmd, err := parseCommand(line, snap)
	if err != nil {
		return false, err
	}
	admin, isHost := p.(tableAdmin)
	needHost := func() error {
		if !isHost {
			return errors.New("only the host can do that")
		}
		return nil
	}

	switch cmd.kind {
	case cmdIntent:
		return false, p.Submit(ctx, cmd.intent)
	case cmdStart:
		if err := needHost(); err != nil {
			return false, err
		}
		if err := admin.StartMatch(ctx); err != nil {
			return false, err
		}
		pterm.Info.Printfln("Match %s started", p.Feed().Latest().State.GameID)
	case cmdLobby:
		if err := needHost(); err != nil {
			return false, err
		}
		return false, admin.ReturnToLobby(ctx)
	case cmdRules:
		if err := needHost(); err != nil {
			return false, err
		}
		rules, err := admin.UpdateRules(cmd.rules)
		if err != nil {
			return false, err
		}
		pterm.Success.Println("Rules updated")
		pterm.Println(renderRules(rules))
	case cmdSave:
		if err := needHost(); err != nil {
			return false, err
		}
		r, err := admin.SaveRoster(ctx)
		if err != nil {
			return false, err
		}
		pterm.Success.Printfln("Roster saved as %s", r.ID)
	case cmdShow:
		pterm.Println(renderSnapshot(snap))
	case cmdHelp:
		pterm.Println(helpText)
	case cmdQuit:
		return true, nil
	}
	return false, nil
}
