package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/nearby/internal/domain"
)

const meetupColumns = `id, proposer_id, recipient_id, venue, proposed_time, message, status, created_at`

// UpsertMeetup inserts or replaces one cached meetup.
func (db *DB) UpsertMeetup(m *domain.Meetup) error {
	venue, err := json.Marshal(m.Venue)
	if err != nil {
		return fmt.Errorf("encode venue: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO meetups (`+meetupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			venue = excluded.venue,
			proposed_time = excluded.proposed_time,
			message = excluded.message,
			status = excluded.status`,
		m.ID, m.ProposerID, m.RecipientID, string(venue), toMillis(m.ProposedTime),
		m.Message, string(m.Status), toMillis(m.CreatedAt))
	return err
}

// ReplaceMeetups swaps the whole cache for meetups in one transaction.
func (db *DB) ReplaceMeetups(meetups []domain.Meetup) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM meetups`); err != nil {
		return fmt.Errorf("clear meetups: %w", err)
	}
	for _, m := range meetups {
		venue, err := json.Marshal(m.Venue)
		if err != nil {
			return fmt.Errorf("encode venue: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO meetups (`+meetupColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ProposerID, m.RecipientID, string(venue), toMillis(m.ProposedTime),
			m.Message, string(m.Status), toMillis(m.CreatedAt)); err != nil {
			return fmt.Errorf("insert meetup %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// GetMeetup returns one cached meetup, or nil when it is unknown.
func (db *DB) GetMeetup(id string) (*domain.Meetup, error) {
	m, err := scanMeetup(db.QueryRow(`SELECT `+meetupColumns+` FROM meetups WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// ListMeetups returns every cached meetup ordered by proposed time.
func (db *DB) ListMeetups() ([]domain.Meetup, error) {
	rows, err := db.Query(`SELECT ` + meetupColumns + ` FROM meetups ORDER BY proposed_time, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var meetups []domain.Meetup
	for rows.Next() {
		m, err := scanMeetup(rows)
		if err != nil {
			return nil, err
		}
		meetups = append(meetups, *m)
	}
	return meetups, rows.Err()
}

func scanMeetup(s scanner) (*domain.Meetup, error) {
	var (
		m                 domain.Meetup
		venue, status     string
		proposed, created int64
	)
	if err := s.Scan(&m.ID, &m.ProposerID, &m.RecipientID, &venue, &proposed, &m.Message, &status, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(venue), &m.Venue); err != nil {
		return nil, fmt.Errorf("decode venue of %s: %w", m.ID, err)
	}
	m.ProposedTime = fromMillis(proposed)
	m.Status = domain.MeetupStatus(status)
	m.CreatedAt = fromMillis(created)
	return &m, nil
}
