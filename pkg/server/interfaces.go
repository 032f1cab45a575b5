package server

import (
	"time"

	"github.com/bsacosta-glitch/proyecto-avanzadas/pkg/database"
)

// Store defines the storage collaborator consumed by connection handlers.
// Implementations must be safe for concurrent use; the server does not
// serialize calls to it. The SQLite implementation lives in pkg/database;
// the abstraction keeps handler tests independent of a real database.
type Store interface {
	// Identity operations
	Authenticate(username, password string) (*database.User, error)
	ConnectedUsers() ([]*database.User, error)

	// Message operations
	SaveMessage(msg *database.Message) error
	SaveFileMessage(senderID, receiverID int64, messageType, filePath, fileName string, fileSize int64) error
	ConversationFor(userID int64) ([]*database.Message, error)
	ConversationWith(userID, peerID int64) ([]*database.Message, error)
	CountFilesSentToday(userID int64) (int, error)

	// Connection accounting
	RecordConnect(userID int64, clientAddr string, connectedAt time.Time) error
	RecordDisconnect(summary database.ConnectionSummary) error
	ReconcileConnectedFlags() (int64, error)

	Close() error
}
