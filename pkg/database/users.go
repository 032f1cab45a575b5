package database

import (
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const userColumns = `id, username, password, email, status, created_at,
	last_connection, connected, connection_count, max_connections,
	files_sent_count, max_files_per_day`

// CreateUser inserts a new account with a bcrypt-hashed password. New
// accounts start PENDING and cannot authenticate until approved.
func (db *DB) CreateUser(username, password, email string, maxConnections, maxFilesPerDay int) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	result, err := db.writeConn.Exec(
		`INSERT INTO users (username, password, email, status, created_at, max_connections, max_files_per_day)
		 VALUES (?, ?, ?, 'PENDING', ?, ?, ?)`,
		username, string(hash), email, millis(time.Now()), maxConnections, maxFilesPerDay,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}

	return result.LastInsertId()
}

// ApproveUser moves an account to APPROVED.
func (db *DB) ApproveUser(userID int64) error {
	result, err := db.writeConn.Exec(`UPDATE users SET status = 'APPROVED' WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to approve user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Authenticate verifies the credential pair and returns the account row.
// Unknown usernames and wrong passwords both return ErrInvalidCredentials.
// Account status is NOT checked here; the caller decides what an unapproved
// account sees (and keeps it indistinguishable from a bad password).
func (db *DB) Authenticate(username, password string) (*User, error) {
	row := db.conn.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// GetUser loads one account by id.
func (db *DB) GetUser(userID int64) (*User, error) {
	row := db.conn.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// ConnectedUsers returns the roster of approved accounts currently marked
// connected, most recent connection first.
func (db *DB) ConnectedUsers() ([]*User, error) {
	rows, err := db.conn.Query(
		`SELECT ` + userColumns + ` FROM users
		 WHERE status = 'APPROVED' AND connected = 1
		 ORDER BY last_connection DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query connected users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// RecordConnect marks the account connected and inserts an
// active_connections row for the new session.
func (db *DB) RecordConnect(userID int64, clientAddr string, connectedAt time.Time) error {
	now := millis(time.Now())

	if _, err := db.writeConn.Exec(
		`UPDATE users SET connected = 1, last_connection = ?, connection_count = connection_count + 1 WHERE id = ?`,
		now, userID,
	); err != nil {
		return fmt.Errorf("failed to mark user connected: %w", err)
	}

	if _, err := db.writeConn.Exec(
		`INSERT INTO active_connections (user_id, client_ip, connected_at) VALUES (?, ?, ?)`,
		userID, clientAddr, millis(connectedAt),
	); err != nil {
		return fmt.Errorf("failed to record active connection: %w", err)
	}

	return nil
}

// RecordDisconnect writes the connection's final accounting to
// connection_history, removes its active_connections row, and clears the
// connected flag when this was the user's last live connection.
func (db *DB) RecordDisconnect(summary ConnectionSummary) error {
	if _, err := db.writeConn.Exec(
		`INSERT INTO connection_history (user_id, client_ip, connected_at, disconnected_at, messages_sent)
		 VALUES (?, ?, ?, ?, ?)`,
		summary.UserID, summary.ClientAddr, millis(summary.ConnectedAt),
		millis(summary.DisconnectedAt), summary.MessagesSent,
	); err != nil {
		return fmt.Errorf("failed to record connection history: %w", err)
	}

	if _, err := db.writeConn.Exec(
		`DELETE FROM active_connections WHERE id IN (
			SELECT id FROM active_connections
			WHERE user_id = ? AND client_ip = ? ORDER BY connected_at LIMIT 1
		)`,
		summary.UserID, summary.ClientAddr,
	); err != nil {
		return fmt.Errorf("failed to remove active connection: %w", err)
	}

	if _, err := db.writeConn.Exec(
		`UPDATE users SET connected = 0, last_connection = ?
		 WHERE id = ? AND NOT EXISTS (SELECT 1 FROM active_connections WHERE user_id = ?)`,
		millis(summary.DisconnectedAt), summary.UserID, summary.UserID,
	); err != nil {
		return fmt.Errorf("failed to mark user disconnected: %w", err)
	}

	return nil
}

// ReconcileConnectedFlags clears the connected flag on every account without
// a live active_connections row. Run by the periodic sweep as a safety net
// for handlers that died without recording their disconnect.
func (db *DB) ReconcileConnectedFlags() (int64, error) {
	result, err := db.writeConn.Exec(
		`UPDATE users SET connected = 0
		 WHERE connected = 1 AND id NOT IN (SELECT DISTINCT user_id FROM active_connections)`)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile connected flags: %w", err)
	}
	return result.RowsAffected()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var user User
	var createdAt int64
	var lastConnection sql.NullInt64
	var connected int

	err := s.Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Email, &user.Status,
		&createdAt, &lastConnection, &connected, &user.ConnectionCount,
		&user.MaxConnections, &user.FilesSentCount, &user.MaxFilesPerDay,
	)
	if err != nil {
		return nil, err
	}

	user.CreatedAt = fromMillis(createdAt)
	user.Connected = connected != 0
	if lastConnection.Valid {
		t := fromMillis(lastConnection.Int64)
		user.LastConnection = &t
	}

	return &user, nil
}
