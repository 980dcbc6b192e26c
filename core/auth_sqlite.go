package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteRevocationStore keeps revoked tokens in the same database as the chat
// data. Entries outlive the tokens they shadow; Prune clears expired ones.
type SQLiteRevocationStore struct {
	db *sql.DB
}

func NewSQLiteRevocationStore(db *sql.DB) *SQLiteRevocationStore {
	return &SQLiteRevocationStore{db: db}
}

func (s *SQLiteRevocationStore) Revoke(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO revoked_tokens (token, revoked_at) VALUES (@token, @revoked_at) ON CONFLICT DO NOTHING",
		sql.Named("token", token), sql.Named("revoked_at", time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("ExecContext(insert revoked_tokens): %w", err)
	}
	return nil
}

func (s *SQLiteRevocationStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM revoked_tokens WHERE token = @token", sql.Named("token", token))
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("scanning count: %w", err)
	}
	return count > 0, nil
}

// Prune removes revocation entries older than the given age. Tokens that old
// have expired on their own and no longer need shadowing.
func (s *SQLiteRevocationStore) Prune(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM revoked_tokens WHERE revoked_at < @cutoff", sql.Named("cutoff", cutoff))
	if err != nil {
		return fmt.Errorf("ExecContext(delete revoked_tokens): %w", err)
	}
	return nil
}
