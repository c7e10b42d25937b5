// Package pgstore is the pgx/v5 implementation of store.Store, grounded
// on merev-ds-game-api's repository.go (pgxpool + QueryRow) and
// jason-s-yu/cambia's handler-layer raw-SQL query shape. Every write is
// a single statement on the pool; no method opens a transaction, so a
// Winner row and its PrizeQueueItem are inserted separately.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tambola-live/engine/internal/model"
	"github.com/tambola-live/engine/internal/store"
)

// Store wraps a pgxpool.Pool to satisfy store.Store.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool, log *zap.Logger) *Store {
	return &Store{pool: pool, log: log}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}

func encodeCalled(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func decodeCalled(raw string) []int {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) CreateGame(ctx context.Context, g *model.Game) error {
	prizesJSON, err := json.Marshal(g.Prizes)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO games (id, scheduled_time, started_at, ended_at, status, created_by, prizes_json, called_numbers, current_number)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, g.ID, g.ScheduledTime, g.StartedAt, g.EndedAt, string(g.Status), g.CreatedBy, prizesJSON, encodeCalled(g.CalledNumbers), g.CurrentNumber)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("create game: %w", err)
	}
	return nil
}

func (s *Store) scanGame(row pgx.Row) (*model.Game, error) {
	var g model.Game
	var status string
	var prizesJSON []byte
	var calledRaw string

	err := row.Scan(&g.ID, &g.ScheduledTime, &g.StartedAt, &g.EndedAt, &status, &g.CreatedBy, &prizesJSON, &calledRaw, &g.CurrentNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	g.Status = model.GameStatus(status)
	g.CalledNumbers = decodeCalled(calledRaw)
	if err := json.Unmarshal(prizesJSON, &g.Prizes); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) GetGame(ctx context.Context, gameID string) (*model.Game, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, scheduled_time, started_at, ended_at, status, created_by, prizes_json, called_numbers, current_number
FROM games WHERE id = $1
`, gameID)
	return s.scanGame(row)
}

func (s *Store) UpdateGameStatus(ctx context.Context, gameID string, status model.GameStatus) error {
	now := time.Now()

	var err error
	switch status {
	case model.GameStatusActive:
		_, err = s.pool.Exec(ctx, `UPDATE games SET status = $1, started_at = $2 WHERE id = $3`, string(status), now, gameID)
	case model.GameStatusCompleted, model.GameStatusCancelled:
		_, err = s.pool.Exec(ctx, `UPDATE games SET status = $1, ended_at = $2 WHERE id = $3`, string(status), now, gameID)
	default:
		_, err = s.pool.Exec(ctx, `UPDATE games SET status = $1 WHERE id = $2`, string(status), gameID)
	}
	return err
}

func (s *Store) SyncCalledNumbers(ctx context.Context, gameID string, calledNumbers []int, currentNumber *int) error {
	_, err := s.pool.Exec(ctx, `UPDATE games SET called_numbers = $1, current_number = $2 WHERE id = $3`,
		encodeCalled(calledNumbers), currentNumber, gameID)
	return err
}

func (s *Store) CreatePlayer(ctx context.Context, p *model.Player) error {
	ticketJSON, err := json.Marshal(p.Ticket)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO players (id, game_id, user_id, user_name, ticket_json, joined_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, p.ID, p.GameID, p.UserID, p.UserName, ticketJSON, p.JoinedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("create player: %w", err)
	}
	return nil
}

func (s *Store) scanPlayer(row pgx.Row) (*model.Player, error) {
	var p model.Player
	var ticketJSON []byte

	err := row.Scan(&p.ID, &p.GameID, &p.UserID, &p.UserName, &ticketJSON, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ticketJSON, &p.Ticket); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPlayer(ctx context.Context, playerID string) (*model.Player, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, game_id, user_id, user_name, ticket_json, joined_at FROM players WHERE id = $1`, playerID)
	return s.scanPlayer(row)
}

func (s *Store) GetPlayerByUser(ctx context.Context, gameID, userID string) (*model.Player, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, game_id, user_id, user_name, ticket_json, joined_at FROM players WHERE game_id = $1 AND user_id = $2`, gameID, userID)
	return s.scanPlayer(row)
}

func (s *Store) CountPlayers(ctx context.Context, gameID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM players WHERE game_id = $1`, gameID).Scan(&n)
	return n, err
}

func (s *Store) ListPlayers(ctx context.Context, gameID string) ([]*model.Player, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, game_id, user_id, user_name, ticket_json, joined_at FROM players WHERE game_id = $1 ORDER BY joined_at`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Player
	for rows.Next() {
		p, err := s.scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateWinner(ctx context.Context, w *model.Winner) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO winners (id, game_id, player_id, category, claimed_at, prize_claimed, prize_value)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, w.ID, w.GameID, w.PlayerID, string(w.Category), w.ClaimedAt, w.PrizeClaimed, w.PrizeValue)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("create winner: %w", err)
	}
	return nil
}

func (s *Store) ListWinners(ctx context.Context, gameID string) ([]*model.Winner, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, game_id, player_id, category, claimed_at, prize_claimed, prize_value
FROM winners WHERE game_id = $1 ORDER BY claimed_at
`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Winner
	for rows.Next() {
		var w model.Winner
		var category string
		if err := rows.Scan(&w.ID, &w.GameID, &w.PlayerID, &category, &w.ClaimedAt, &w.PrizeClaimed, &w.PrizeValue); err != nil {
			return nil, err
		}
		w.Category = model.Category(category)
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (s *Store) MarkPrizeClaimed(ctx context.Context, winnerID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE winners SET prize_claimed = true WHERE id = $1`, winnerID)
	return err
}

func (s *Store) EnqueuePrize(ctx context.Context, item *model.PrizeQueueItem) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO prize_queue_items (id, user_id, game_id, category, prize_value, status, attempts, last_attempt, error, idempotency_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`, item.ID, item.UserID, item.GameID, string(item.Category), item.PrizeValue, string(item.Status), item.Attempts, item.LastAttempt, item.Error, item.IdempotencyKey, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			existing, findErr := s.FindPrizeItem(ctx, item.UserID, item.GameID, item.Category)
			if findErr == nil {
				*item = *existing
			}
			return store.ErrConflict
		}
		return fmt.Errorf("enqueue prize: %w", err)
	}
	return nil
}

func (s *Store) scanPrizeItem(row pgx.Row) (*model.PrizeQueueItem, error) {
	var it model.PrizeQueueItem
	var category, status string

	err := row.Scan(&it.ID, &it.UserID, &it.GameID, &category, &it.PrizeValue, &status, &it.Attempts, &it.LastAttempt, &it.Error, &it.IdempotencyKey, &it.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	it.Category = model.Category(category)
	it.Status = model.PrizeQueueStatus(status)
	return &it, nil
}

const prizeItemColumns = `id, user_id, game_id, category, prize_value, status, attempts, last_attempt, error, idempotency_key, created_at`

func (s *Store) GetPrizeItem(ctx context.Context, id string) (*model.PrizeQueueItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+prizeItemColumns+` FROM prize_queue_items WHERE id = $1`, id)
	return s.scanPrizeItem(row)
}

func (s *Store) FindPrizeItem(ctx context.Context, userID, gameID string, category model.Category) (*model.PrizeQueueItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+prizeItemColumns+` FROM prize_queue_items WHERE user_id = $1 AND game_id = $2 AND category = $3`,
		userID, gameID, string(category))
	return s.scanPrizeItem(row)
}

func (s *Store) CASPrizeStatus(ctx context.Context, id string, from, to model.PrizeQueueStatus) (bool, error) {
	var tag pgconn.CommandTag
	var err error
	if to == model.PrizeStatusProcessing {
		tag, err = s.pool.Exec(ctx, `
UPDATE prize_queue_items SET status = $1, last_attempt = $2 WHERE id = $3 AND status = $4
`, string(to), time.Now(), id, string(from))
	} else {
		tag, err = s.pool.Exec(ctx, `UPDATE prize_queue_items SET status = $1 WHERE id = $2 AND status = $3`, string(to), id, string(from))
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CompletePrizeItem(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE prize_queue_items SET status = $1, last_attempt = $2 WHERE id = $3`,
		string(model.PrizeStatusCompleted), time.Now(), id)
	return err
}

func (s *Store) FailPrizeItem(ctx context.Context, id string, attempts int, errMsg string, deadLetter bool) error {
	status := model.PrizeStatusPending
	if deadLetter {
		status = model.PrizeStatusDeadLetter
	}
	_, err := s.pool.Exec(ctx, `
UPDATE prize_queue_items SET status = $1, attempts = $2, last_attempt = $3, error = $4 WHERE id = $5
`, string(status), attempts, time.Now(), errMsg, id)
	return err
}

func (s *Store) ResetPrizeItem(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE prize_queue_items SET status = $1, attempts = 0, error = '' WHERE id = $2
`, string(model.PrizeStatusPending), id)
	return err
}

func (s *Store) ListStuckProcessing(ctx context.Context) ([]*model.PrizeQueueItem, error) {
	cutoff := time.Now().Add(-model.ProcessingLease)
	rows, err := s.pool.Query(ctx, `
SELECT `+prizeItemColumns+` FROM prize_queue_items WHERE status = $1 AND last_attempt < $2
`, string(model.PrizeStatusProcessing), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PrizeQueueItem
	for rows.Next() {
		it, err := s.scanPrizeItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

var _ store.Store = (*Store)(nil)
