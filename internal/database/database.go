package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bryan-buckman/tubevore/internal/model"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		added_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// --- Subscription Methods ---

// ListSubscriptions returns subscriptions in the order they were added.
func (db *DB) ListSubscriptions() ([]model.ChannelRef, error) {
	rows, err := db.conn.Query("SELECT channel_id, title, url, added_at FROM subscriptions ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// AddSubscription inserts ref if the channel is not already subscribed.
func (db *DB) AddSubscription(ref model.ChannelRef) (bool, error) {
	if ref.AddedAt.IsZero() {
		ref.AddedAt = time.Now().UTC()
	}
	res, err := db.conn.Exec(`
		INSERT INTO subscriptions (channel_id, title, url, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_id) DO NOTHING`,
		ref.ID, ref.Title, ref.URL, ref.AddedAt)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// RemoveSubscription deletes a subscription by channel id.
func (db *DB) RemoveSubscription(channelID string) error {
	res, err := db.conn.Exec("DELETE FROM subscriptions WHERE channel_id = ?", channelID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearSubscriptions deletes every subscription.
func (db *DB) ClearSubscriptions() error {
	_, err := db.conn.Exec("DELETE FROM subscriptions")
	return err
}

func scanSubscriptions(rows *sql.Rows) ([]model.ChannelRef, error) {
	subs := make([]model.ChannelRef, 0)
	for rows.Next() {
		var ref model.ChannelRef
		var addedAt sql.NullTime
		if err := rows.Scan(&ref.ID, &ref.Title, &ref.URL, &addedAt); err != nil {
			return nil, err
		}
		if addedAt.Valid {
			ref.AddedAt = addedAt.Time
		}
		subs = append(subs, ref)
	}
	return subs, rows.Err()
}

// --- Settings Methods ---

// ReadSettings returns the stored settings merged over the defaults.
func (db *DB) ReadSettings() (model.UserSettings, error) {
	return loadSettings(db.conn)
}

// WriteSettings validates and persists a partial update in one transaction.
func (db *DB) WriteSettings(patch model.SettingsPatch) (model.UserSettings, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return model.UserSettings{}, err
	}
	defer tx.Rollback()

	current, err := loadSettings(tx)
	if err != nil {
		return current, err
	}
	merged, err := mergeSettings(current, patch)
	if err != nil {
		return current, err
	}
	stmt, err := tx.Prepare("INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value")
	if err != nil {
		return current, err
	}
	defer stmt.Close()
	for k, v := range merged.Pairs() {
		if _, err := stmt.Exec(k, v); err != nil {
			return current, fmt.Errorf("save setting %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return current, err
	}
	return merged, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func loadSettings(q querier) (model.UserSettings, error) {
	rows, err := q.Query("SELECT key, value FROM settings")
	if err != nil {
		return model.DefaultSettings(), err
	}
	defer rows.Close()
	pairs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return model.DefaultSettings(), err
		}
		pairs[k] = v
	}
	if err := rows.Err(); err != nil {
		return model.DefaultSettings(), err
	}
	return model.SettingsFromPairs(pairs), nil
}
