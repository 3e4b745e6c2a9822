// cmd/kampai/roster.go
package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/lobby"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
)

func runRoster(ctx context.Context, cfg *Config, id string) error {
	logger, closeLog, err := cfg.logger(false)
	if err != nil {
		return err
	}
	defer closeLog()

	store, closeStore, err := openRosterStore(ctx, cfg, logrus.NewEntry(logger))
	if err != nil {
		return err
	}
	defer closeStore()
	if _, ok := store.(*lobby.MemoryStore); ok {
		return errors.New("saved rosters live in Postgres; set --database-url or DATABASE_URL")
	}

	if id == "" {
		rosters, err := store.ListRosters(ctx)
		if err != nil {
			return err
		}
		if len(rosters) == 0 {
			pterm.Info.Println("No saved rosters.")
			return nil
		}
		data := pterm.TableData{{"ID", "Table", "Players", "Saved"}}
		for _, r := range rosters {
			data = append(data, []string{r.ID.String(), r.Name, fmt.Sprint(len(r.Players)), r.SavedAt.Local().Format("2006-01-02 15:04")})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	}

	rid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid roster id %q: %w", id, err)
	}
	r, err := store.LoadRoster(ctx, rid)
	if err != nil {
		return err
	}
	pterm.DefaultSection.Println(r.Name)
	data := pterm.TableData{{"Seat", "Player", "Role"}}
	for i, p := range r.Players {
		role := ""
		if p.ID == r.HostID {
			role = "host"
		}
		data = append(data, []string{fmt.Sprint(i + 1), p.Name, role})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	pterm.Println(renderRules(r.Rules))
	pterm.Info.Printfln("Reopen with: kampai host --restore %s", r.ID)
	return nil
}
