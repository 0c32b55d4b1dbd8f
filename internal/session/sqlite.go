package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/database"
)

// SQLiteStore persists snapshots in the session_state and session_messages
// tables. Each pending record is stored as a CBOR blob in send order.
//
// The tables are created by the embedded migrations; run db.Migrate first.
type SQLiteStore struct {
	db  *database.DB
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewSQLiteStore wraps an open, migrated database.
func NewSQLiteStore(db *database.DB) (*SQLiteStore, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("session: cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("session: cbor decoder: %w", err)
	}
	return &SQLiteStore{db: db, enc: enc, dec: dec}, nil
}

// Save replaces the stored snapshot for clientID in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, clientID string, snap Snapshot) error {
	if clientID == "" {
		return ErrInvalidClientID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM session_messages WHERE client_id = ?", clientID,
	); err != nil {
		return fmt.Errorf("session: clearing messages: %w", err)
	}

	for i, rec := range snap.Pending {
		blob, err := s.enc.Marshal(rec)
		if err != nil {
			return fmt.Errorf("session: encoding message %d: %w", rec.MessageID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO session_messages (client_id, position, message_id, record) VALUES (?, ?, ?, ?)",
			clientID, i, rec.MessageID, blob,
		); err != nil {
			return fmt.Errorf("session: saving message %d: %w", rec.MessageID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_state (client_id, last_message_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(client_id) DO UPDATE SET last_message_id = excluded.last_message_id, updated_at = excluded.updated_at`,
		clientID, snap.LastMessageID, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("session: saving state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("session: committing snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot for clientID.
func (s *SQLiteStore) Load(ctx context.Context, clientID string) (Snapshot, error) {
	if clientID == "" {
		return Snapshot{}, ErrInvalidClientID
	}

	var snap Snapshot
	var lastID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT last_message_id FROM session_state WHERE client_id = ?", clientID,
	).Scan(&lastID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Snapshot{}, nil
	case err != nil:
		return Snapshot{}, fmt.Errorf("session: loading state: %w", err)
	}
	snap.LastMessageID = uint16(lastID) //nolint:gosec // stored from a uint16

	rows, err := s.db.QueryContext(ctx,
		"SELECT record FROM session_messages WHERE client_id = ? ORDER BY position", clientID,
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("session: loading messages: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return Snapshot{}, fmt.Errorf("session: scanning message: %w", err)
		}
		var rec Record
		if err := s.dec.Unmarshal(blob, &rec); err != nil {
			return Snapshot{}, fmt.Errorf("session: decoding message: %w", err)
		}
		snap.Pending = append(snap.Pending, rec)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("session: iterating messages: %w", err)
	}
	return snap, nil
}

// Clear removes everything stored for clientID.
func (s *SQLiteStore) Clear(ctx context.Context, clientID string) error {
	if clientID == "" {
		return ErrInvalidClientID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM session_messages WHERE client_id = ?", clientID); err != nil {
		return fmt.Errorf("session: clearing messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM session_state WHERE client_id = ?", clientID); err != nil {
		return fmt.Errorf("session: clearing state: %w", err)
	}
	return tx.Commit()
}
