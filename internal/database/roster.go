// internal/database/roster.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/kampai/internal/lobby"
	"github.com/jason-s-yu/kampai/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS rosters (
	id       UUID PRIMARY KEY,
	name     TEXT NOT NULL DEFAULT '',
	host_id  UUID NOT NULL,
	rules    JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS roster_players (
	roster_id UUID NOT NULL REFERENCES rosters(id) ON DELETE CASCADE,
	seat      INT NOT NULL,
	player_id UUID NOT NULL,
	name      TEXT NOT NULL,
	is_host   BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (roster_id, seat)
);
`

// RosterRepo stores lobby rosters in Postgres.
type RosterRepo struct {
	pool *pgxpool.Pool
}

func NewRosterRepo(pool *pgxpool.Pool) *RosterRepo {
	return &RosterRepo{pool: pool}
}

// Migrate creates the roster tables if they do not exist.
func (r *RosterRepo) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create roster tables: %w", err)
	}
	return nil
}

// SaveRoster upserts the roster row and replaces its seats.
func (r *RosterRepo) SaveRoster(ctx context.Context, roster lobby.Roster) error {
	rules, err := json.Marshal(roster.Rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	err = pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		upsert := `
			INSERT INTO rosters (id, name, host_id, rules, saved_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET name = $2, host_id = $3, rules = $4, saved_at = $5
		`
		if _, err := tx.Exec(ctx, upsert, roster.ID, roster.Name, roster.HostID, rules, roster.SavedAt); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM roster_players WHERE roster_id = $1`, roster.ID); err != nil {
			return err
		}
		for seat, p := range roster.Players {
			q := `
				INSERT INTO roster_players (roster_id, seat, player_id, name, is_host)
				VALUES ($1, $2, $3, $4, $5)
			`
			if _, err := tx.Exec(ctx, q, roster.ID, seat, p.ID, p.Name, p.IsHost); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx save roster: %w", err)
	}
	return nil
}

// LoadRoster fetches one roster with its seats in order.
func (r *RosterRepo) LoadRoster(ctx context.Context, id uuid.UUID) (lobby.Roster, error) {
	var roster lobby.Roster
	var rules []byte
	q := `SELECT id, name, host_id, rules, saved_at FROM rosters WHERE id = $1`
	err := r.pool.QueryRow(ctx, q, id).Scan(&roster.ID, &roster.Name, &roster.HostID, &rules, &roster.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return lobby.Roster{}, lobby.ErrRosterNotFound
	}
	if err != nil {
		return lobby.Roster{}, fmt.Errorf("select roster: %w", err)
	}
	if err := json.Unmarshal(rules, &roster.Rules); err != nil {
		return lobby.Roster{}, fmt.Errorf("unmarshal rules: %w", err)
	}
	roster.Players, err = r.players(ctx, id)
	if err != nil {
		return lobby.Roster{}, err
	}
	return roster, nil
}

// ListRosters returns every roster, most recently saved first.
func (r *RosterRepo) ListRosters(ctx context.Context) ([]lobby.Roster, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM rosters ORDER BY saved_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list rosters: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan roster ids: %w", err)
	}

	out := make([]lobby.Roster, 0, len(ids))
	for _, id := range ids {
		roster, err := r.LoadRoster(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, roster)
	}
	return out, nil
}

func (r *RosterRepo) players(ctx context.Context, id uuid.UUID) ([]models.PlayerInfo, error) {
	q := `SELECT player_id, name, is_host FROM roster_players WHERE roster_id = $1 ORDER BY seat`
	rows, err := r.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("select roster players: %w", err)
	}
	defer rows.Close()

	var players []models.PlayerInfo
	for rows.Next() {
		var p models.PlayerInfo
		if err := rows.Scan(&p.ID, &p.Name, &p.IsHost); err != nil {
			return nil, fmt.Errorf("scan roster player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}
