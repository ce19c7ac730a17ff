package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/nearby/internal/domain"
)

const connectionColumns = `id, from_user_id, to_user_id, status, created_at, accepted_at, declined_at`

// UpsertConnection inserts or replaces one cached connection.
func (db *DB) UpsertConnection(c *domain.Connection) error {
	_, err := db.Exec(`
		INSERT INTO connections (`+connectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			accepted_at = excluded.accepted_at,
			declined_at = excluded.declined_at`,
		c.ID, c.FromUserID, c.ToUserID, string(c.Status), toMillis(c.CreatedAt),
		nullMillis(c.AcceptedAt), nullMillis(c.DeclinedAt))
	return err
}

// ReplaceConnections swaps the whole cache for conns in one transaction.
func (db *DB) ReplaceConnections(conns []domain.Connection) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM connections`); err != nil {
		return fmt.Errorf("clear connections: %w", err)
	}
	for _, c := range conns {
		if _, err := tx.Exec(`INSERT INTO connections (`+connectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.FromUserID, c.ToUserID, string(c.Status), toMillis(c.CreatedAt),
			nullMillis(c.AcceptedAt), nullMillis(c.DeclinedAt)); err != nil {
			return fmt.Errorf("insert connection %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetConnection returns one cached connection.
func (db *DB) GetConnection(id string) (*domain.Connection, error) {
	row := db.QueryRow(`SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ListConnections returns every cached connection, newest first.
func (db *DB) ListConnections() ([]domain.Connection, error) {
	rows, err := db.Query(`SELECT ` + connectionColumns + ` FROM connections ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var conns []domain.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(s scanner) (*domain.Connection, error) {
	var (
		c                  domain.Connection
		status             string
		created            int64
		accepted, declined sql.NullInt64
	)
	if err := s.Scan(&c.ID, &c.FromUserID, &c.ToUserID, &status, &created, &accepted, &declined); err != nil {
		return nil, err
	}
	c.Status = domain.ConnectionStatus(status)
	c.CreatedAt = fromMillis(created)
	c.AcceptedAt = timePtr(accepted)
	c.DeclinedAt = timePtr(declined)
	return &c, nil
}
