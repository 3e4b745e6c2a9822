// cmd/kampai/archive.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/cache"
	"github.com/jason-s-yu/kampai/internal/database"
	"github.com/jason-s-yu/kampai/internal/historian"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newArchiveCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "archive [game-id]",
		Short: "Copy recorded match actions from Redis into Postgres.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return runArchive(cmd.Context(), cfg, id, purge)
		},
	}
	fs := cmd.Flags()
	fs.SetNormalizeFunc(normalize)
	fs.StringVar(&cfg.databaseURL, "database-url", "", "postgres URL for the archive; DATABASE_URL is also honoured (env: KAMPAI_DATABASE_URL)")
	fs.BoolVar(&purge, "purge", false, "delete each Redis log once it is archived (env: KAMPAI_PURGE)")
	bindFlags(v, fs)
	return cmd
}

// runArchive archives one match, or every match that still has a Redis log.
func runArchive(ctx context.Context, cfg *Config, id string, purge bool) error {
	logger, closeLog, err := cfg.logger(false)
	if err != nil {
		return err
	}
	defer closeLog()
	log := logrus.NewEntry(logger)

	url := cfg.databaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return errors.New("the archive lives in Postgres; set --database-url or DATABASE_URL")
	}
	pool, err := database.Connect(ctx, url)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, err := cache.Connect(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()
	actions := cache.NewActionLog(rdb, 0)

	archiver := historian.NewArchiver(pool, actions, log)
	if err := archiver.Migrate(ctx); err != nil {
		return err
	}

	var ids []uuid.UUID
	if id != "" {
		gid, err := uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("invalid game id %q: %w", id, err)
		}
		ids = []uuid.UUID{gid}
	} else if ids, err = actions.Games(ctx); err != nil {
		return err
	}
	if len(ids) == 0 {
		pterm.Info.Println("No recorded matches in Redis.")
		return nil
	}

	data := pterm.TableData{{"Match", "Actions", "Result"}}
	var failed int
	for _, gid := range ids {
		n, err := archiver.Archive(ctx, gid)
		if err != nil {
			failed++
			data = append(data, []string{gid.String(), "-", pterm.LightRed(err.Error())})
			continue
		}
		result := "archived"
		if purge {
			if err := actions.Delete(ctx, gid); err != nil {
				result = "archived, purge failed: " + err.Error()
			} else {
				result = "archived, purged"
			}
		}
		data = append(data, []string{gid.String(), fmt.Sprint(n), result})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d matches could not be archived", failed, len(ids))
	}
	return nil
}
