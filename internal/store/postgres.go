package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
)

// uniqueViolation is the Postgres error code for duplicate primary keys.
const uniqueViolation = "23505"

// Postgres is a Store backed by a PostgreSQL table. Per-user atomicity for
// Update comes from row-level locking (SELECT ... FOR UPDATE inside a
// transaction), so concurrent updates to the same user serialize on the row
// while other users' rows stay unlocked.
type Postgres struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// NewPostgres creates a Postgres store on top of an existing pool.
func NewPostgres(pool *pgxpool.Pool, log logger.Logger) *Postgres {
	return &Postgres{
		pool: pool,
		log:  log,
	}
}

// Get returns the record for the user, or ErrNotFound.
func (s *Postgres) Get(ctx context.Context, userID string) (UserRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, display_name, quota_remaining, ai_mode, last_ai_message_at
		 FROM users WHERE user_id = $1`, userID)

	rec, err := scanUserRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRecord{}, ErrNotFound
		}
		return UserRecord{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	return rec, nil
}

// Create inserts a new record, or returns ErrAlreadyExists.
func (s *Postgres) Create(ctx context.Context, rec UserRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (user_id, display_name, quota_remaining, ai_mode, last_ai_message_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.UserID, rec.DisplayName, rec.QuotaRemaining, rec.AIMode, rec.LastAIMessageAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create user %s: %w", rec.UserID, err)
	}
	return nil
}

// Update locks the user's row, applies fn, and writes the result back in the
// same transaction. fn errors roll back and are returned verbatim.
func (s *Postgres) Update(ctx context.Context, userID string, fn UpdateFunc) (UserRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return UserRecord{}, fmt.Errorf("begin update for user %s: %w", userID, err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	row := tx.QueryRow(ctx,
		`SELECT user_id, display_name, quota_remaining, ai_mode, last_ai_message_at
		 FROM users WHERE user_id = $1 FOR UPDATE`, userID)

	rec, err := scanUserRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRecord{}, ErrNotFound
		}
		return UserRecord{}, fmt.Errorf("lock user %s: %w", userID, err)
	}

	if err := fn(&rec); err != nil {
		return UserRecord{}, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE users
		 SET display_name = $2, quota_remaining = $3, ai_mode = $4,
		     last_ai_message_at = $5, updated_at = now()
		 WHERE user_id = $1`,
		userID, rec.DisplayName, rec.QuotaRemaining, rec.AIMode, rec.LastAIMessageAt)
	if err != nil {
		return UserRecord{}, fmt.Errorf("write user %s: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return UserRecord{}, fmt.Errorf("commit update for user %s: %w", userID, err)
	}
	return rec, nil
}

// ScanAll returns every record.
func (s *Postgres) ScanAll(ctx context.Context) ([]UserRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, display_name, quota_remaining, ai_mode, last_ai_message_at
		 FROM users`)
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	defer rows.Close()

	var records []UserRecord
	for rows.Next() {
		rec, err := scanUserRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	return records, nil
}

// ScanActive returns the records in AI mode, served by the partial index on
// active sessions.
func (s *Postgres) ScanActive(ctx context.Context) ([]UserRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, display_name, quota_remaining, ai_mode, last_ai_message_at
		 FROM users WHERE ai_mode`)
	if err != nil {
		return nil, fmt.Errorf("scan active users: %w", err)
	}
	defer rows.Close()

	var records []UserRecord
	for rows.Next() {
		rec, err := scanUserRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active user row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan active users: %w", err)
	}
	return records, nil
}

// ResetAllQuotas sets every record's quota in a single statement.
func (s *Postgres) ResetAllQuotas(ctx context.Context, quota int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET quota_remaining = $1, updated_at = now()`, quota)
	if err != nil {
		return fmt.Errorf("reset quotas: %w", err)
	}
	s.log.Info("Reset user quotas",
		logger.Int64Field("rows", tag.RowsAffected()),
		logger.IntField("quota", quota))
	return nil
}

func scanUserRecord(row pgx.Row) (UserRecord, error) {
	var rec UserRecord
	err := row.Scan(&rec.UserID, &rec.DisplayName, &rec.QuotaRemaining, &rec.AIMode, &rec.LastAIMessageAt)
	return rec, err
}
