package server

import (
	"errors"
	"sync"
	"time"

	"github.com/bsacosta-glitch/proyecto-avanzadas/pkg/database"
)

// mockStore is an in-memory Store for handler tests. It authenticates with
// plain password comparison; hashing belongs to the real implementation.
type mockStore struct {
	mu sync.Mutex

	users     map[string]*database.User
	passwords map[string]string

	messages      []*database.Message
	nextMessageID int64
	filesToday    map[int64]int

	connects    []database.ConnectionSummary
	disconnects []database.ConnectionSummary

	saveMessageErr  error
	conversationErr error

	closed               bool
	disconnectAfterClose bool
}

func newMockStore() *mockStore {
	return &mockStore{
		users:      make(map[string]*database.User),
		passwords:  make(map[string]string),
		filesToday: make(map[int64]int),
	}
}

func (m *mockStore) addUser(user database.User, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := user
	m.users[user.Username] = &copied
	m.passwords[user.Username] = password
}

func (m *mockStore) Authenticate(username, password string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[username]
	if !ok || m.passwords[username] != password {
		return nil, database.ErrInvalidCredentials
	}
	copied := *user
	return &copied, nil
}

func (m *mockStore) ConnectedUsers() ([]*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var users []*database.User
	for _, user := range m.users {
		if user.Connected {
			copied := *user
			users = append(users, &copied)
		}
	}
	return users, nil
}

func (m *mockStore) SaveMessage(msg *database.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveMessageErr != nil {
		return m.saveMessageErr
	}

	m.nextMessageID++
	msg.ID = m.nextMessageID
	msg.SentAt = time.Now()
	if msg.MessageType == "" {
		msg.MessageType = "TEXT"
	}
	copied := *msg
	m.messages = append(m.messages, &copied)
	return nil
}

func (m *mockStore) SaveFileMessage(senderID, receiverID int64, messageType, filePath, fileName string, fileSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextMessageID++
	m.messages = append(m.messages, &database.Message{
		ID:          m.nextMessageID,
		SenderID:    senderID,
		ReceiverID:  receiverID,
		MessageType: messageType,
		Content:     filePath,
		FileName:    fileName,
		FileSize:    fileSize,
		SentAt:      time.Now(),
	})
	m.filesToday[senderID]++
	return nil
}

func (m *mockStore) ConversationFor(userID int64) ([]*database.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conversationErr != nil {
		return nil, m.conversationErr
	}

	var out []*database.Message
	for _, msg := range m.messages {
		if msg.SenderID == userID || msg.ReceiverID == userID {
			copied := *msg
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockStore) ConversationWith(userID, peerID int64) ([]*database.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conversationErr != nil {
		return nil, m.conversationErr
	}

	var out []*database.Message
	for _, msg := range m.messages {
		if (msg.SenderID == userID && msg.ReceiverID == peerID) ||
			(msg.SenderID == peerID && msg.ReceiverID == userID) {
			copied := *msg
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockStore) CountFilesSentToday(userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.filesToday[userID], nil
}

func (m *mockStore) RecordConnect(userID int64, clientAddr string, connectedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connects = append(m.connects, database.ConnectionSummary{
		UserID:      userID,
		ClientAddr:  clientAddr,
		ConnectedAt: connectedAt,
	})
	return nil
}

func (m *mockStore) RecordDisconnect(summary database.ConnectionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.disconnectAfterClose = true
		return errors.New("store closed")
	}
	m.disconnects = append(m.disconnects, summary)
	return nil
}

func (m *mockStore) ReconcileConnectedFlags() (int64, error) {
	return 0, nil
}

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

func (m *mockStore) savedMessages() []*database.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*database.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *mockStore) disconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.disconnects)
}

func (m *mockStore) lastDisconnect() database.ConnectionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.disconnects[len(m.disconnects)-1]
}

func (m *mockStore) disconnectAfterClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.disconnectAfterClose
}
