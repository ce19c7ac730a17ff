package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/nearby/internal/domain"
)

const messageColumns = `id, client_id, sender_id, receiver_id, content, created_at, read_at, state`

// UpsertMessage inserts or updates a message (idempotent on id).
// Only the read receipt and the state of an existing row change.
func (db *DB) UpsertMessage(m *domain.Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			read_at = COALESCE(messages.read_at, excluded.read_at),
			state = excluded.state`,
		m.ID, m.ClientID, m.SenderID, m.ReceiverID, m.Content,
		toMillis(m.CreatedAt), nullMillis(m.ReadAt), string(stateOf(m)))
	return err
}

// SyncMessages applies a backend snapshot: every confirmed row is replaced by
// confirmed, and the optimistic rows listed in resolved are removed. Local
// rows not resolved are kept.
func (db *DB) SyncMessages(confirmed []domain.Message, resolved []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE state = ?`, string(domain.MessageConfirmed)); err != nil {
		return fmt.Errorf("clear confirmed messages: %w", err)
	}
	for _, id := range resolved {
		if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, id); err != nil {
			return fmt.Errorf("remove resolved %s: %w", id, err)
		}
	}
	for _, m := range confirmed {
		if _, err := tx.Exec(`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ClientID, m.SenderID, m.ReceiverID, m.Content,
			toMillis(m.CreatedAt), nullMillis(m.ReadAt), string(domain.MessageConfirmed)); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// GetMessage returns one message, or nil when it is unknown.
func (db *DB) GetMessage(id string) (*domain.Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// GetMessageByClientID returns the message carrying clientID, preferring a
// confirmed row over the optimistic one.
func (db *DB) GetMessageByClientID(clientID string) (*domain.Message, error) {
	m, err := scanMessage(db.QueryRow(`
		SELECT `+messageColumns+` FROM messages WHERE client_id = ?
		ORDER BY CASE state WHEN 'confirmed' THEN 0 ELSE 1 END LIMIT 1`, clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// ListMessages returns the conversation between two users, oldest first.
// An empty peer lists every message of self.
func (db *DB) ListMessages(self, peer string) ([]domain.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if peer == "" {
		rows, err = db.Query(`
			SELECT `+messageColumns+` FROM messages
			WHERE sender_id = ? OR receiver_id = ?
			ORDER BY created_at, id`, self, self)
	} else {
		rows, err = db.Query(`
			SELECT `+messageColumns+` FROM messages
			WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
			ORDER BY created_at, id`, self, peer, peer, self)
	}
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// ListMessagesByState returns messages in the given state, oldest first.
func (db *DB) ListMessagesByState(state domain.MessageState) ([]domain.Message, error) {
	rows, err := db.Query(`SELECT `+messageColumns+` FROM messages WHERE state = ? ORDER BY created_at, id`, string(state))
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// SetMessageState changes the state of a message.
func (db *DB) SetMessageState(id string, state domain.MessageState) error {
	_, err := db.Exec(`UPDATE messages SET state = ? WHERE id = ?`, string(state), id)
	return err
}

// MarkMessageRead sets the read receipt once; later calls keep the first value.
func (db *DB) MarkMessageRead(id string, at time.Time) error {
	_, err := db.Exec(`UPDATE messages SET read_at = COALESCE(read_at, ?) WHERE id = ?`, at.UnixMilli(), id)
	return err
}

// DeleteMessage removes a message.
func (db *DB) DeleteMessage(id string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

func collectMessages(rows *sql.Rows) ([]domain.Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func scanMessage(s scanner) (*domain.Message, error) {
	var (
		m       domain.Message
		created int64
		readAt  sql.NullInt64
		state   string
	)
	if err := s.Scan(&m.ID, &m.ClientID, &m.SenderID, &m.ReceiverID, &m.Content, &created, &readAt, &state); err != nil {
		return nil, err
	}
	m.CreatedAt = fromMillis(created)
	m.ReadAt = timePtr(readAt)
	m.State = domain.MessageState(state)
	return &m, nil
}

func stateOf(m *domain.Message) domain.MessageState {
	if m.State == "" {
		return domain.MessageConfirmed
	}
	return m.State
}
