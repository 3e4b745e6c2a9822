package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/jason-s-yu/kampai/internal/lobby"
	"github.com/jason-s-yu/kampai/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RosterRepo must be usable wherever the lobby expects a store.
var _ lobby.RosterStore = (*RosterRepo)(nil)

func TestConnStringPrefersDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/kampai")
	assert.Equal(t, "postgres://u:p@db:5432/kampai", ConnString())

	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("PG_HOST", "localhost")
	t.Setenv("PG_PORT", "5433")
	t.Setenv("PG_DATABASE", "kampai")
	assert.Equal(t, "postgres://u:p@localhost:5433/kampai", ConnString())
}

func TestRosterRepoRoundTrip(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	repo := NewRosterRepo(pool)
	require.NoError(t, repo.Migrate(ctx))

	host := models.NewPlayerInfo("host", true)
	rules := game.DefaultRuleConfig()
	rules.AllowStackingPlusCards = true
	roster := lobby.Roster{
		ID:      uuid.New(),
		Name:    "db test",
		HostID:  host.ID,
		Players: []models.PlayerInfo{host, models.NewPlayerInfo("ana", false)},
		Rules:   rules,
		SavedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.SaveRoster(ctx, roster))

	got, err := repo.LoadRoster(ctx, roster.ID)
	require.NoError(t, err)
	assert.Equal(t, roster.Players, got.Players)
	assert.Equal(t, roster.Rules, got.Rules)
	assert.True(t, roster.SavedAt.Equal(got.SavedAt))

	roster.Players = roster.Players[:1]
	require.NoError(t, repo.SaveRoster(ctx, roster))
	got, err = repo.LoadRoster(ctx, roster.ID)
	require.NoError(t, err)
	assert.Len(t, got.Players, 1)

	list, err := repo.ListRosters(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	_, err = repo.LoadRoster(ctx, uuid.New())
	assert.ErrorIs(t, err, lobby.ErrRosterNotFound)
}
