// internal/historian/historian.go copies finished match action logs out of Redis into
// PostgreSQL, where they are kept for review after the Redis lists expire.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/sirupsen/logrus"
)

const (
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// ErrNothingToArchive is returned when a match has no recorded actions.
var ErrNothingToArchive = errors.New("no recorded actions for match")

const schema = `
CREATE TABLE IF NOT EXISTS matches (
	id          UUID PRIMARY KEY,
	status      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS match_actions (
	match_id    UUID NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
	sequence    INT NOT NULL,
	turn_id     INT NOT NULL,
	actor_id    UUID NOT NULL,
	action_type TEXT NOT NULL,
	intent      JSONB NOT NULL,
	phase       TEXT NOT NULL,
	at          TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (match_id, sequence)
);
`

// Source yields the recorded actions of a match in order.
type Source interface {
	Actions(ctx context.Context, gameID uuid.UUID) ([]game.ActionRecord, error)
}

// Archiver moves action logs from a Source into Postgres.
type Archiver struct {
	pool *pgxpool.Pool
	src  Source
	log  *logrus.Entry
}

func NewArchiver(pool *pgxpool.Pool, src Source, log *logrus.Entry) *Archiver {
	return &Archiver{pool: pool, src: src, log: log.WithField("component", "historian")}
}

// Migrate creates the archive tables if they do not exist.
func (a *Archiver) Migrate(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create archive tables: %w", err)
	}
	return nil
}

// Archive writes one match and all of its actions in a single transaction. Archiving the
// same match again replaces what was stored before.
func (a *Archiver) Archive(ctx context.Context, gameID uuid.UUID) (int, error) {
	recs, err := a.src.Actions(ctx, gameID)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, fmt.Errorf("%w %s", ErrNothingToArchive, gameID)
	}
	rows, err := actionRows(recs)
	if err != nil {
		return 0, err
	}
	status := matchStatus(recs)

	err = pgx.BeginTxFunc(ctx, a.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		upsertMatchQ := `
			INSERT INTO matches (id, status, started_at, ended_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id)
			DO UPDATE SET status = EXCLUDED.status, ended_at = EXCLUDED.ended_at, archived_at = NOW()
		`
		if _, err := tx.Exec(ctx, upsertMatchQ, gameID, status, recs[0].At, recs[len(recs)-1].At); err != nil {
			return fmt.Errorf("upsert match: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM match_actions WHERE match_id = $1`, gameID); err != nil {
			return fmt.Errorf("clear match actions: %w", err)
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"match_actions"},
			[]string{"match_id", "sequence", "turn_id", "actor_id", "action_type", "intent", "phase", "at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy match actions: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	a.log.WithFields(logrus.Fields{"game": gameID, "status": status}).Infof("Archived %d actions", len(recs))
	return len(recs), nil
}

// History reads an archived match back in sequence order.
func (a *Archiver) History(ctx context.Context, gameID uuid.UUID) ([]game.ActionRecord, error) {
	q := `
		SELECT sequence, turn_id, intent, phase, at
		FROM match_actions
		WHERE match_id = $1
		ORDER BY sequence
	`
	rows, err := a.pool.Query(ctx, q, gameID)
	if err != nil {
		return nil, fmt.Errorf("query match actions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.ActionRecord, error) {
		rec := game.ActionRecord{GameID: gameID}
		var intent []byte
		var phase string
		if err := row.Scan(&rec.Sequence, &rec.TurnID, &intent, &phase, &rec.At); err != nil {
			return rec, err
		}
		rec.Phase = game.Phase(phase)
		if err := json.Unmarshal(intent, &rec.Intent); err != nil {
			return rec, fmt.Errorf("unmarshal intent: %w", err)
		}
		return rec, nil
	})
}

// matchStatus is completed when the last recorded action ended the match.
func matchStatus(recs []game.ActionRecord) string {
	if len(recs) > 0 && recs[len(recs)-1].Phase == game.PhaseGameOver {
		return StatusCompleted
	}
	return StatusAbandoned
}

// actionRows lays records out in match_actions column order.
func actionRows(recs []game.ActionRecord) ([][]any, error) {
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		intent, err := json.Marshal(rec.Intent)
		if err != nil {
			return nil, fmt.Errorf("marshal intent: %w", err)
		}
		rows = append(rows, []any{
			rec.GameID, rec.Sequence, rec.TurnID, rec.Intent.PlayerID,
			string(rec.Intent.Type), intent, string(rec.Phase), rec.At,
		})
	}
	return rows, nil
}
