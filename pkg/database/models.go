package database

import "time"

// User is one row of the users table. PasswordHash stays server-side; the
// wire representation lives in pkg/protocol.
type User struct {
	ID              int64
	Username        string
	PasswordHash    string
	Email           string
	Status          string
	CreatedAt       time.Time
	LastConnection  *time.Time
	Connected       bool
	ConnectionCount int
	MaxConnections  int
	FilesSentCount  int
	MaxFilesPerDay  int
}

// IsApproved reports whether the account may authenticate.
func (u *User) IsApproved() bool {
	return u.Status == "APPROVED"
}

// Message is one row of the messages table. For FILE and IMAGE messages
// Content holds the server-side storage path and FileName the original name.
type Message struct {
	ID               int64
	SenderID         int64
	ReceiverID       int64
	MessageType      string
	Content          string
	FileName         string
	FileSize         int64
	SentAt           time.Time
	Read             bool
	SenderUsername   string
	ReceiverUsername string
}

// ConnectionSummary is the final accounting a handler records when a
// connection ends, however it ends.
type ConnectionSummary struct {
	UserID         int64
	ClientAddr     string
	ConnectedAt    time.Time
	DisconnectedAt time.Time
	MessagesSent   int64
}
