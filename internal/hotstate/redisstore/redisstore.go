// Package redisstore is the go-redis/v9-backed implementation of
// hotstate.Store, grounded on the Redis-first/DB-fallback caching shape
// used throughout the retrieval pack (e.g. thunderdome-planning-poker's
// poker.go and playpool's game manager).
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tambola-live/engine/internal/hotstate"
	"github.com/tambola-live/engine/internal/model"
)

// Store wraps a *redis.Client to satisfy hotstate.Store.
type Store struct {
	rdb *redis.Client
	log *zap.Logger
}

// New wraps an already-connected client.
func New(rdb *redis.Client, log *zap.Logger) *Store {
	return &Store{rdb: rdb, log: log}
}

func stateKey(gameID string) string { return fmt.Sprintf("game:%s:state", gameID) }
func ticketKey(gameID, playerID string) string {
	return fmt.Sprintf("game:%s:player:%s:ticket", gameID, playerID)
}
func lockKey(gameID string, category model.Category) string {
	return fmt.Sprintf("lock:winner:%s:%s", gameID, category)
}
func gameKeyPattern(gameID string) string { return fmt.Sprintf("game:%s:*", gameID) }

func (s *Store) GetGameState(ctx context.Context, gameID string) (model.GameHotState, error) {
	vals, err := s.rdb.HGetAll(ctx, stateKey(gameID)).Result()
	if err != nil {
		return model.GameHotState{}, err
	}
	if len(vals) == 0 {
		return model.GameHotState{}, hotstate.ErrNotFound
	}

	var st model.GameHotState
	st.Status = model.GameStatus(vals["status"])

	if raw := vals["calledNumbers"]; raw != "" {
		for _, part := range strings.Split(raw, ",") {
			n, err := strconv.Atoi(part)
			if err != nil {
				continue
			}
			st.CalledNumbers = append(st.CalledNumbers, n)
		}
	}

	if raw := vals["currentNumber"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err == nil {
			st.CurrentNumber = &n
		}
	}

	st.WonCategories = map[model.Category]bool{}
	if raw := vals["wonCategories"]; raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part != "" {
				st.WonCategories[model.Category(part)] = true
			}
		}
	}

	if raw := vals["playerCount"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err == nil {
			st.PlayerCount = n
		}
	}

	return st, nil
}

func encodeCalled(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func encodeCategories(cats map[model.Category]bool) string {
	parts := make([]string, 0, len(cats))
	for c := range cats {
		parts = append(parts, string(c))
	}
	return strings.Join(parts, ",")
}

func (s *Store) PutGameState(ctx context.Context, gameID string, state model.GameHotState) error {
	fields := map[string]any{
		"status":        string(state.Status),
		"calledNumbers": encodeCalled(state.CalledNumbers),
		"wonCategories": encodeCategories(state.WonCategories),
		"playerCount":   state.PlayerCount,
	}
	if state.CurrentNumber != nil {
		fields["currentNumber"] = strconv.Itoa(*state.CurrentNumber)
	} else {
		fields["currentNumber"] = ""
	}

	key := stateKey(gameID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, hotstate.GameTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) AppendCalledNumber(ctx context.Context, gameID string, n int) error {
	key := stateKey(gameID)

	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return hotstate.ErrNotFound
	}

	current, err := s.rdb.HGet(ctx, key, "calledNumbers").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	next := current
	if next == "" {
		next = strconv.Itoa(n)
	} else {
		next = next + "," + strconv.Itoa(n)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"calledNumbers": next,
		"currentNumber": strconv.Itoa(n),
	})
	pipe.Expire(ctx, key, hotstate.GameTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) AddWonCategory(ctx context.Context, gameID string, category model.Category) error {
	key := stateKey(gameID)
	current, err := s.rdb.HGet(ctx, key, "wonCategories").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	set := map[string]bool{}
	if current != "" {
		for _, part := range strings.Split(current, ",") {
			set[part] = true
		}
	}
	set[string(category)] = true

	parts := make([]string, 0, len(set))
	for c := range set {
		parts = append(parts, c)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{"wonCategories": strings.Join(parts, ",")})
	pipe.Expire(ctx, key, hotstate.GameTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) IncrementPlayerCount(ctx context.Context, gameID string, delta int) error {
	key := stateKey(gameID)
	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "playerCount", int64(delta))
	pipe.Expire(ctx, key, hotstate.GameTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetMarkedNumbers(ctx context.Context, gameID, playerID string) (map[int]bool, error) {
	raw, err := s.rdb.HGet(ctx, ticketKey(gameID, playerID), "markedNumbers").Result()
	if errors.Is(err, redis.Nil) {
		return map[int]bool{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := map[int]bool{}
	if raw == "" {
		return out, nil
	}
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(part)
		if err == nil {
			out[n] = true
		}
	}
	return out, nil
}

func (s *Store) MarkNumber(ctx context.Context, gameID, playerID string, n int) error {
	marked, err := s.GetMarkedNumbers(ctx, gameID, playerID)
	if err != nil {
		return err
	}
	if marked[n] {
		return nil
	}
	marked[n] = true

	parts := make([]string, 0, len(marked))
	for m := range marked {
		parts = append(parts, strconv.Itoa(m))
	}

	key := ticketKey(gameID, playerID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"markedNumbers": strings.Join(parts, ","),
		"markedCount":   len(marked),
	})
	pipe.Expire(ctx, key, hotstate.GameTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) AcquireWinnerLock(ctx context.Context, gameID string, category model.Category) (func(context.Context) error, error) {
	key := lockKey(gameID, category)
	ok, err := s.rdb.SetNX(ctx, key, "1", hotstate.WinnerLockTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, hotstate.ErrLockHeld
	}

	release := func(ctx context.Context) error {
		return s.rdb.Del(ctx, key).Err()
	}
	return release, nil
}

func (s *Store) DeleteGame(ctx context.Context, gameID string) error {
	const batchSize = 100
	pattern := gameKeyPattern(gameID)

	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, batchSize).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.log.Debug("swept hot keys", zap.String("gameId", gameID))
	return nil
}

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

func (s *Store) Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
	sub := s.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			out <- []byte(msg.Payload)
		}
	}()

	return out, sub.Close, nil
}
