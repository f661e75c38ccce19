package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Poem is one composed poem in a user's history.
type Poem struct {
	ID        string
	UserID    int64
	Keywords  []string
	Form      string
	Text      string
	Caption   string
	CreatedAt time.Time
}

// SavePoem stores poem under a new ID and returns the stored copy.
func (s *SQLiteStore) SavePoem(poem *Poem) (*Poem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keywordsJSON, err := json.Marshal(poem.Keywords)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keywords: %w", err)
	}

	stored := *poem
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now()

	_, err = s.db.Exec(
		`INSERT INTO poems (id, user_id, keywords, form, text, caption, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.UserID, string(keywordsJSON), stored.Form, stored.Text, stored.Caption, stored.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save poem: %w", err)
	}

	return &stored, nil
}

// GetPoem retrieves a poem by ID. Returns nil, nil if it doesn't exist.
func (s *SQLiteStore) GetPoem(id string) (*Poem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, user_id, keywords, form, text, caption, created_at FROM poems WHERE id = ?`,
		id,
	)
	p, err := scanPoem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poem: %w", err)
	}
	return p, nil
}

// ListPoems returns a user's most recent poems, newest first. limit <= 0
// returns all of them.
func (s *SQLiteStore) ListPoems(userID int64, limit int) ([]Poem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, user_id, keywords, form, text, caption, created_at FROM poems
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query poems: %w", err)
	}
	defer rows.Close()

	var poems []Poem
	for rows.Next() {
		p, err := scanPoem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan poem: %w", err)
		}
		poems = append(poems, *p)
	}

	return poems, rows.Err()
}

// DeletePoems removes a user's whole history and returns how many poems
// were deleted.
func (s *SQLiteStore) DeletePoems(userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM poems WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete poems: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPoem(row rowScanner) (*Poem, error) {
	var p Poem
	var keywordsJSON string
	var caption sql.NullString
	if err := row.Scan(&p.ID, &p.UserID, &keywordsJSON, &p.Form, &p.Text, &caption, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &p.Keywords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
	}
	p.Caption = caption.String
	return &p, nil
}
