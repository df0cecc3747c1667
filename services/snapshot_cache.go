package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"quizroom/models"
	"quizroom/store"

	"github.com/redis/go-redis/v9"
)

// RoomSnapshot is the public state of a room served over HTTP.
type RoomSnapshot struct {
	Code            string       `json:"code"`
	Name            string       `json:"name"`
	Phase           models.Phase `json:"phase"`
	QuestionIndex   int          `json:"question_index"`
	TotalQuestions  int          `json:"total_questions"`
	MaxPlayers      int          `json:"max_players"`
	TimePerQuestion int          `json:"time_per_question"`
	Version         int64        `json:"version"`
	Players         []PlayerView `json:"players"`
	Deleted         bool         `json:"deleted,omitempty"`
}

func newSnapshot(room *models.Room, players []models.Player) *RoomSnapshot {
	return &RoomSnapshot{
		Code:            room.Code,
		Name:            room.Name,
		Phase:           room.Phase,
		QuestionIndex:   room.CurrentIndex,
		TotalQuestions:  room.TotalQuestions,
		MaxPlayers:      room.MaxPlayers,
		TimePerQuestion: room.TimePerQuestion,
		Version:         room.Version,
		Players:         playerViews(players),
	}
}

// SnapshotCache holds the latest snapshot per room code. Get returns nil on a
// miss.
type SnapshotCache interface {
	Get(ctx context.Context, code string) (*RoomSnapshot, error)
	Put(ctx context.Context, snap *RoomSnapshot) error
	Delete(ctx context.Context, code string) error
}

type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(context.Context, string) (*RoomSnapshot, error) { return nil, nil }
func (NoopSnapshotCache) Put(context.Context, *RoomSnapshot) error { return nil }
func (NoopSnapshotCache) Delete(context.Context, string) error { return nil }

const snapshotPutRetries = 3

// RedisSnapshotCache stores snapshots as JSON under room:<code>. Put never
// replaces a snapshot with an older version.
type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration) *RedisSnapshotCache {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(code string) string {
	return "room:" + store.NormalizeCode(code)
}

func (c *RedisSnapshotCache) Get(ctx context.Context, code string) (*RoomSnapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", code, err)
	}

	var snap RoomSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", code, err)
	}
	if snap.Deleted {
		return nil, nil
	}
	return &snap, nil
}

func (c *RedisSnapshotCache) Put(ctx context.Context, snap *RoomSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	key := snapshotKey(snap.Code)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var existing RoomSnapshot
			if json.Unmarshal(current, &existing) == nil && existing.Version >= snap.Version {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < snapshotPutRetries; i++ {
		err = c.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", snap.Code, err)
	}
	return nil
}

// Delete leaves a tombstone so a late Put from an in-flight mutation cannot
// bring the room back.
func (c *RedisSnapshotCache) Delete(ctx context.Context, code string) error {
	data, err := json.Marshal(RoomSnapshot{Code: store.NormalizeCode(code), Version: math.MaxInt64, Deleted: true})
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, snapshotKey(code), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", code, err)
	}
	return nil
}
