package server

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bsacosta-glitch/proyecto-avanzadas/pkg/database"
)

// Session is the per-connection runtime state. It is created at accept time,
// bound to an identity after successful authentication, and owned exclusively
// by its handler goroutine; the registry only reads it. The atomic fields are
// the ones the sweep and statistics observe concurrently.
type Session struct {
	ID          string // opaque connection id, never reused
	RemoteAddr  string
	ConnectedAt time.Time

	// Identity snapshot, immutable after Bind.
	UserID         int64
	Username       string
	MaxConnections int
	MaxFilesPerDay int

	conn           *lineConn
	messagesSent   atomic.Int64
	filesSentToday atomic.Int64
	lastActivity   atomic.Int64 // unix milliseconds
}

// NewSession creates the pre-authentication state for a freshly accepted
// connection.
func NewSession(conn net.Conn, maxLine int, writeTimeout time.Duration) *Session {
	sess := &Session{
		ID:          uuid.NewString(),
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		conn:        newLineConn(conn, maxLine, writeTimeout),
	}
	sess.Touch()
	return sess
}

// Bind populates the identity snapshot after successful authentication.
// filesSentToday seeds the daily quota counter from persisted accounting so
// the limit survives reconnects.
func (s *Session) Bind(user *database.User, filesSentToday int) {
	s.UserID = user.ID
	s.Username = user.Username
	s.MaxConnections = user.MaxConnections
	s.MaxFilesPerDay = user.MaxFilesPerDay
	s.filesSentToday.Store(int64(filesSentToday))
}

// Touch refreshes the last-activity timestamp.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixMilli())
}

// LastActivity returns the time of the last successfully processed frame.
func (s *Session) LastActivity() time.Time {
	return time.UnixMilli(s.lastActivity.Load())
}

// IdleFor reports how long the session has been silent.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity())
}

// MessagesSent returns the number of messages persisted on this connection.
func (s *Session) MessagesSent() int64 {
	return s.messagesSent.Load()
}

// IncrementMessages bumps the message counter and refreshes activity.
func (s *Session) IncrementMessages() {
	s.messagesSent.Add(1)
	s.Touch()
}

// FilesSentToday returns today's file count, including the persisted seed.
func (s *Session) FilesSentToday() int64 {
	return s.filesSentToday.Load()
}

// IncrementFiles bumps the file counter and refreshes activity.
func (s *Session) IncrementFiles() {
	s.filesSentToday.Add(1)
	s.Touch()
}

// CanSendFile reports whether the session is under its daily file quota.
// Checked before any upload bytes are accepted.
func (s *Session) CanSendFile() bool {
	return s.filesSentToday.Load() < int64(s.MaxFilesPerDay)
}

// ReadLine reads the next request line from the client.
func (s *Session) ReadLine() (string, error) {
	return s.conn.ReadLine()
}

// WriteResponse writes one keyword:payload response line.
func (s *Session) WriteResponse(keyword, payload string) error {
	return s.conn.WriteLine(keyword + ":" + payload)
}

// WriteLine writes one raw protocol line (bare markers like FILE_COMPLETE).
func (s *Session) WriteLine(line string) error {
	return s.conn.WriteLine(line)
}

// Close closes the underlying connection. Safe to call from the sweep while
// the handler is blocked reading; the handler's read fails and it runs its
// own cleanup.
func (s *Session) Close() error {
	return s.conn.Close()
}
