// cmd/kampai/render.go
package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/jason-s-yu/kampai/internal/models"
	"github.com/jason-s-yu/kampai/internal/session"
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

func printBanner() {
	title, err := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("K", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("am", pterm.FgYellow.ToStyle()),
		putils.LettersFromStringWithStyle("p", pterm.FgGreen.ToStyle()),
		putils.LettersFromStringWithStyle("ai", pterm.FgBlue.ToStyle()),
	).Srender()
	if err == nil {
		pterm.Print(title)
	}
	pterm.Info.Println("Type help for the list of commands.")
}

// viewKey changes whenever something worth redrawing changes.
type viewKey struct {
	game      uuid.UUID
	turn      int
	phase     game.Phase
	challenge bool
	top       models.Card
	pending   int
	counts    string
	hand      int
	lobby     int
	rules     game.RuleConfig
}

func keyOf(s session.Snapshot) viewKey {
	var counts strings.Builder
	for _, p := range s.State.Players {
		counts.WriteString(strconv.Itoa(p.HandCount))
		counts.WriteByte(',')
	}
	return viewKey{
		game:      s.State.GameID,
		turn:      s.State.TurnID,
		phase:     s.State.Phase,
		challenge: s.State.ChallengeOpen,
		top:       s.State.TopCard,
		pending:   s.State.PendingStackedDraw,
		counts:    counts.String(),
		hand:      len(s.Hand.Cards),
		lobby:     len(s.Lobby),
		rules:     s.Rules,
	}
}

// cardLabel colors a card by its suit; wild cards are shown in magenta.
func cardLabel(c models.Card) string {
	switch c.Color {
	case models.ColorRed:
		return pterm.Red(c.String())
	case models.ColorYellow:
		return pterm.Yellow(c.String())
	case models.ColorGreen:
		return pterm.Green(c.String())
	case models.ColorBlue:
		return pterm.Blue(c.String())
	}
	return pterm.Magenta(c.String())
}

func renderSnapshot(s session.Snapshot) string {
	if !s.InMatch() {
		return renderLobby(s)
	}
	return renderTable(s, time.Now())
}

func renderLobby(s session.Snapshot) string {
	data := pterm.TableData{{"Seat", "Player", "Role"}}
	for i, p := range s.Lobby {
		role := ""
		if p.IsHost {
			role = "host"
		}
		name := p.Name
		if p.ID == s.Self.ID {
			name = pterm.LightCyan(name + " (you)")
		}
		data = append(data, []string{strconv.Itoa(i + 1), name, role})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err.Error()
	}
	return pterm.DefaultSection.Sprint("Lobby") + table + "\n" + renderRules(s.Rules)
}

func renderRules(r game.RuleConfig) string {
	turn := "off"
	if r.TurnDurationSeconds > 0 {
		turn = fmt.Sprintf("%ds", r.TurnDurationSeconds)
	}
	body := pterm.Sprintfln("initialHandSize: %d", r.InitialHandSize) +
		pterm.Sprintfln("allowStackingPlusCards: %t", r.AllowStackingPlusCards) +
		pterm.Sprintfln("cantFinishWithSpecial: %t", r.CantFinishWithSpecial) +
		pterm.Sprintfln("turnDurationSeconds: %s", turn) +
		pterm.Sprintf("kampaiPenaltySeconds: %ds", r.KampaiPenaltySeconds)
	return pterm.DefaultBox.WithTitle("|RULES|").WithTitleTopCenter().Sprint(body)
}

func renderTable(s session.Snapshot, now time.Time) string {
	st := s.State
	current := st.CurrentPlayerID()

	var opponents []pterm.Panel
	for i, p := range st.Players {
		if p.ID == s.Self.ID {
			continue
		}
		opponents = append(opponents, pterm.Panel{Data: playerBox(i+1, p, current, st)})
	}

	direction := "clockwise"
	if st.Direction == game.Backward {
		direction = "counter-clockwise"
	}
	board := pterm.Sprintfln("Top card: %s", cardLabel(st.TopCard)) +
		pterm.Sprintfln("Draw pile: %d  Discard: %d", st.DrawPileSize, st.DiscardPileSize) +
		pterm.Sprintfln("Direction: %s", direction)
	if st.PendingStackedDraw > 0 {
		board += pterm.Sprintfln("Stacked draw: %s", pterm.LightRed(st.PendingStackedDraw))
	}
	board += pterm.Sprintf("Phase: %s", st.Phase)
	if left := s.Remaining(now); left > 0 {
		board += pterm.Sprintf("  (%ds)", int(left.Round(time.Second).Seconds()))
	}
	boardPanel := pterm.Panel{Data: pterm.DefaultBox.WithTitle("|TABLE|").WithTitleTopCenter().
		WithLeftPadding(4).WithRightPadding(4).Sprint(board)}

	dashboard := []pterm.Panel{{Data: handBox(s, current)}}
	if st.Phase == game.PhaseGameOver {
		dashboard = append(dashboard, pterm.Panel{Data: winnerBox(s)})
	}

	rows := [][]pterm.Panel{}
	if len(opponents) > 0 {
		rows = append(rows, opponents)
	}
	rows = append(rows, []pterm.Panel{boardPanel}, dashboard)
	out, err := pterm.DefaultPanel.WithPanels(rows).Srender()
	if err != nil {
		return err.Error()
	}
	return out
}

func playerBox(seat int, p game.PlayerState, current uuid.UUID, st game.GameState) string {
	status := fmt.Sprintf("Cards: %d", p.HandCount)
	if p.ID == current {
		status += "\n" + pterm.LightGreen("Playing")
	}
	if st.ChallengeOpen && st.ChallengedPlayerID == p.ID {
		status += "\n" + pterm.LightYellow("On one card!")
	}
	title := fmt.Sprintf("%d. %s", seat, p.Name)
	return pterm.DefaultBox.WithTitle(title).WithTitleTopLeft().WithLeftPadding(4).WithRightPadding(4).Sprint(status)
}

func handBox(s session.Snapshot, current uuid.UUID) string {
	var b strings.Builder
	for i, c := range s.Hand.Cards {
		if i > 0 {
			b.WriteString("  ")
		}
		fmt.Fprintf(&b, "%d:%s", i+1, cardLabel(c))
	}
	if len(s.Hand.Cards) == 0 {
		b.WriteString("(empty)")
	}
	if current == s.Self.ID && s.State.Phase != game.PhaseGameOver {
		b.WriteString("\n" + pterm.LightGreen("Your turn"))
	}
	if s.State.ChallengeOpen && s.State.ChallengedPlayerID == s.Self.ID {
		b.WriteString("\n" + pterm.LightYellow("Declare kampai now!"))
	}
	return pterm.DefaultBox.WithTitle(s.Self.Name).WithTitleTopLeft().
		WithLeftPadding(10).WithRightPadding(10).WithTopPadding(1).WithBottomPadding(1).Sprint(b.String())
}

func winnerBox(s session.Snapshot) string {
	name := "nobody"
	if p, ok := s.State.Player(s.State.WinnerID); ok {
		name = p.Name
	}
	msg := pterm.Sprintfln("%s won the match", pterm.LightCyan(name))
	return pterm.DefaultBox.WithTitle(pterm.LightGreen("|GAME OVER|")).WithTitleTopCenter().
		WithLeftPadding(4).WithRightPadding(4).Sprint(msg)
}
