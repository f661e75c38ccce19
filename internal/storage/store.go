package storage

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// AllowedUser represents a user in the whitelist.
type AllowedUser struct {
	TelegramID int64
	AddedAt    time.Time
	AddedBy    int64
}

// Store defines the persistence used by the bot, the API and the caption
// cache.
type Store interface {
	Close() error

	// Caption cache methods
	GetCaptionCache(key string) (string, error)
	SetCaptionCache(key, task, text string) error

	// Poem history methods
	SavePoem(poem *Poem) (*Poem, error)
	GetPoem(id string) (*Poem, error)
	ListPoems(userID int64, limit int) ([]Poem, error)
	DeletePoems(userID int64) (int64, error)

	// Preferred form methods
	SetPreferredForm(telegramID int64, form string) error
	GetPreferredForm(telegramID int64) (string, error)

	// Allowed users methods
	IsUserAllowed(telegramID int64) (bool, error)
	AddAllowedUser(telegramID, addedBy int64) error
	RemoveAllowedUser(telegramID int64) error
	GetAllowedUsers() ([]AllowedUser, error)
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the database at dbPath. Use
// ":memory:" for a throwaway store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	if dbPath != ":memory:" {
		if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to set database permissions: %w", err)
		}
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	tables := []struct {
		name  string
		query string
	}{
		{"caption_cache", `
		CREATE TABLE IF NOT EXISTS caption_cache (
			cache_key TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`},
		{"poems", `
		CREATE TABLE IF NOT EXISTS poems (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			keywords TEXT NOT NULL,
			form TEXT NOT NULL,
			text TEXT NOT NULL,
			caption TEXT,
			created_at DATETIME NOT NULL
		);`},
		{"poems index", `
		CREATE INDEX IF NOT EXISTS poems_user_created ON poems (user_id, created_at);`},
		{"user_settings", `
		CREATE TABLE IF NOT EXISTS user_settings (
			telegram_id INTEGER PRIMARY KEY,
			preferred_form TEXT
		);`},
		{"allowed_users", `
		CREATE TABLE IF NOT EXISTS allowed_users (
			telegram_id INTEGER PRIMARY KEY,
			added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			added_by INTEGER
		);`},
	}

	for _, t := range tables {
		if _, err := s.db.Exec(t.query); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetCaptionCache returns the cached caption for key, or "" if none.
func (s *SQLiteStore) GetCaptionCache(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var text string
	err := s.db.QueryRow("SELECT text FROM caption_cache WHERE cache_key = ?", key).Scan(&text)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query caption cache: %w", err)
	}
	return text, nil
}

// SetCaptionCache stores a generated caption.
func (s *SQLiteStore) SetCaptionCache(key, task, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO caption_cache (cache_key, task, text)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			task = excluded.task,
			text = excluded.text,
			created_at = CURRENT_TIMESTAMP
	`, key, task, text)
	if err != nil {
		return fmt.Errorf("failed to cache caption: %w", err)
	}
	return nil
}

// PruneCaptionCache removes cached captions older than the given duration.
func (s *SQLiteStore) PruneCaptionCache(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UTC().Format("2006-01-02 15:04:05")
	result, err := s.db.Exec(`DELETE FROM caption_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune caption cache: %w", err)
	}
	return result.RowsAffected()
}

// SetPreferredForm sets the poem form offered first to a user.
func (s *SQLiteStore) SetPreferredForm(telegramID int64, form string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO user_settings (telegram_id, preferred_form)
		VALUES (?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET
			preferred_form = excluded.preferred_form
	`, telegramID, form)
	if err != nil {
		return fmt.Errorf("failed to set preferred form: %w", err)
	}
	return nil
}

// GetPreferredForm returns the user's preferred form, or "" if not set.
func (s *SQLiteStore) GetPreferredForm(telegramID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var form sql.NullString
	err := s.db.QueryRow(
		"SELECT preferred_form FROM user_settings WHERE telegram_id = ?",
		telegramID,
	).Scan(&form)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query preferred form: %w", err)
	}
	return form.String, nil
}

// IsUserAllowed checks if a user is in the whitelist.
func (s *SQLiteStore) IsUserAllowed(telegramID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM allowed_users WHERE telegram_id = ?",
		telegramID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check allowed user: %w", err)
	}
	return count > 0, nil
}

// AddAllowedUser adds a user to the whitelist.
func (s *SQLiteStore) AddAllowedUser(telegramID, addedBy int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO allowed_users (telegram_id, added_by)
		VALUES (?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET
			added_by = excluded.added_by,
			added_at = CURRENT_TIMESTAMP
	`, telegramID, addedBy)
	if err != nil {
		return fmt.Errorf("failed to add allowed user: %w", err)
	}
	return nil
}

// RemoveAllowedUser removes a user from the whitelist.
func (s *SQLiteStore) RemoveAllowedUser(telegramID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM allowed_users WHERE telegram_id = ?", telegramID)
	if err != nil {
		return fmt.Errorf("failed to remove allowed user: %w", err)
	}
	return nil
}

// GetAllowedUsers returns all users in the whitelist.
func (s *SQLiteStore) GetAllowedUsers() ([]AllowedUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT telegram_id, added_at, added_by FROM allowed_users ORDER BY added_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query allowed users: %w", err)
	}
	defer rows.Close()

	var users []AllowedUser
	for rows.Next() {
		var user AllowedUser
		if err := rows.Scan(&user.TelegramID, &user.AddedAt, &user.AddedBy); err != nil {
			return nil, fmt.Errorf("failed to scan allowed user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
