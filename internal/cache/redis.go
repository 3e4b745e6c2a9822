// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/redis/go-redis/v9"
)

// DefaultListPrefix names the Redis lists that hold match action logs, one per game.
var DefaultListPrefix = "kampai:actions:"

// Connect creates a Redis client from REDIS_ADDR (default "localhost:6379") and
// REDIS_DB (default 0) and pings it.
func Connect(ctx context.Context) (*redis.Client, error) {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// ActionLog appends every applied intent of a match to a Redis list for later review.
// It is a record only; matches are never resumed from it.
type ActionLog struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewActionLog writes under KAMPAI_ACTION_PREFIX (or DefaultListPrefix); lists expire after ttl, 0 keeps them.
func NewActionLog(rdb *redis.Client, ttl time.Duration) *ActionLog {
	return &ActionLog{rdb: rdb, prefix: getEnv("KAMPAI_ACTION_PREFIX", DefaultListPrefix), ttl: ttl}
}

func (l *ActionLog) key(gameID uuid.UUID) string {
	return l.prefix + gameID.String()
}

// Record serializes rec to JSON and pushes it onto the game's list.
func (l *ActionLog) Record(ctx context.Context, rec game.ActionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal ActionRecord: %w", err)
	}
	key := l.key(rec.GameID)
	pipe := l.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	if l.ttl > 0 {
		pipe.Expire(ctx, key, l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", key, err)
	}
	return nil
}

// Actions reads back a game's log in order.
func (l *ActionLog) Actions(ctx context.Context, gameID uuid.UUID) ([]game.ActionRecord, error) {
	key := l.key(gameID)
	raw, err := l.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to LRANGE '%s': %w", key, err)
	}
	out := make([]game.ActionRecord, 0, len(raw))
	for _, item := range raw {
		var rec game.ActionRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ActionRecord: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Games lists the ids of every match that still has a log, by scanning for the list prefix.
func (l *ActionLog) Games(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	iter := l.rdb.Scan(ctx, 0, l.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id, err := uuid.Parse(strings.TrimPrefix(iter.Val(), l.prefix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to SCAN action logs: %w", err)
	}
	return ids, nil
}

// Delete drops a game's log, typically after it has been archived.
func (l *ActionLog) Delete(ctx context.Context, gameID uuid.UUID) error {
	if err := l.rdb.Del(ctx, l.key(gameID)).Err(); err != nil {
		return fmt.Errorf("failed to DEL '%s': %w", l.key(gameID), err)
	}
	return nil
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
