package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrInvalidCredentials covers both unknown usernames and wrong
	// passwords, so callers cannot distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound indicates the user does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// DB wraps the SQLite database. Reads go through a pooled connection set;
// writes go through a single dedicated connection because SQLite allows only
// one writer at a time even in WAL mode.
type DB struct {
	conn      *sql.DB // read pool
	writeConn *sql.DB // single write connection
}

// Open opens the SQLite database at the given path and initializes the
// schema if needed.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := applyPragmas(conn); err != nil {
		conn.Close()
		return nil, err
	}

	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}

	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	if err := applyPragmas(writeConn); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, err
	}

	db := &DB{conn: conn, writeConn: writeConn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := db.clearStaleConnections(); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, err
	}

	return db, nil
}

// clearStaleConnections removes active_connections rows left behind by a
// previous process and fixes the affected connected flags. No connection can
// be live at startup, so every row is an orphan.
func (db *DB) clearStaleConnections() error {
	if _, err := db.writeConn.Exec(`DELETE FROM active_connections`); err != nil {
		return fmt.Errorf("failed to clear stale connections: %w", err)
	}
	if _, err := db.ReconcileConnectedFlags(); err != nil {
		return err
	}
	return nil
}

// applyPragmas configures a connection set for concurrent access: WAL for
// parallel readers, a busy timeout instead of immediate SQLITE_BUSY, and
// enforced foreign keys.
func applyPragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes both connection sets.
func (db *DB) Close() error {
	db.writeConn.Close()
	return db.conn.Close()
}

// initSchema creates all tables and indexes if they don't exist. Timestamps
// are stored as milliseconds since the Unix epoch.
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at INTEGER NOT NULL,
		last_connection INTEGER,
		connected INTEGER NOT NULL DEFAULT 0,
		connection_count INTEGER NOT NULL DEFAULT 0,
		max_connections INTEGER NOT NULL DEFAULT 3,
		files_sent_count INTEGER NOT NULL DEFAULT 0,
		max_files_per_day INTEGER NOT NULL DEFAULT 10
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id INTEGER NOT NULL REFERENCES users(id),
		receiver_id INTEGER NOT NULL REFERENCES users(id),
		message_type TEXT NOT NULL DEFAULT 'TEXT',
		content TEXT NOT NULL,
		file_name TEXT,
		file_size INTEGER NOT NULL DEFAULT 0,
		sent_at INTEGER NOT NULL,
		read_flag INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, sent_at);
	CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, sent_at);

	CREATE TABLE IF NOT EXISTS active_connections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		client_ip TEXT NOT NULL,
		connected_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_active_connections_user ON active_connections(user_id);

	CREATE TABLE IF NOT EXISTS connection_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		client_ip TEXT NOT NULL,
		connected_at INTEGER NOT NULL,
		disconnected_at INTEGER NOT NULL,
		messages_sent INTEGER NOT NULL DEFAULT 0
	);
	`

	_, err := db.writeConn.Exec(schema)
	return err
}

// millis converts a time to the stored representation.
func millis(t time.Time) int64 {
	return t.UnixMilli()
}

// fromMillis converts a stored timestamp back to a time.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
