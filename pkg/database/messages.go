package database

import (
	"database/sql"
	"fmt"
	"time"
)

// conversationPageSize bounds GET_MESSAGES responses.
const conversationPageSize = 50

// SaveMessage persists a text message. The id and sent_at values are
// assigned here; whatever the client supplied is ignored.
func (db *DB) SaveMessage(msg *Message) error {
	messageType := msg.MessageType
	if messageType == "" {
		messageType = "TEXT"
	}

	sentAt := time.Now()
	result, err := db.writeConn.Exec(
		`INSERT INTO messages (sender_id, receiver_id, message_type, content, sent_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.SenderID, msg.ReceiverID, messageType, msg.Content, millis(sentAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	msg.ID, _ = result.LastInsertId()
	msg.MessageType = messageType
	msg.SentAt = sentAt
	return nil
}

// SaveFileMessage persists a file-transfer record: content carries the
// storage path, file_name the original upload name, file_size the decoded
// byte count. Also bumps the sender's lifetime file counter.
func (db *DB) SaveFileMessage(senderID, receiverID int64, messageType, filePath, fileName string, fileSize int64) error {
	if _, err := db.writeConn.Exec(
		`INSERT INTO messages (sender_id, receiver_id, message_type, content, file_name, file_size, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		senderID, receiverID, messageType, filePath, fileName, fileSize, millis(time.Now()),
	); err != nil {
		return fmt.Errorf("failed to save file message: %w", err)
	}

	if _, err := db.writeConn.Exec(
		`UPDATE users SET files_sent_count = files_sent_count + 1 WHERE id = ?`, senderID,
	); err != nil {
		return fmt.Errorf("failed to update file counter: %w", err)
	}

	return nil
}

// ConversationFor returns the most recent page of messages the user sent or
// received, newest first.
func (db *DB) ConversationFor(userID int64) ([]*Message, error) {
	rows, err := db.conn.Query(
		`SELECT m.id, m.sender_id, m.receiver_id, m.message_type, m.content,
		        COALESCE(m.file_name, ''), m.file_size, m.sent_at, m.read_flag,
		        s.username, r.username
		 FROM messages m
		 JOIN users s ON m.sender_id = s.id
		 JOIN users r ON m.receiver_id = r.id
		 WHERE m.sender_id = ? OR m.receiver_id = ?
		 ORDER BY m.sent_at DESC, m.id DESC LIMIT ?`,
		userID, userID, conversationPageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return collectMessages(rows)
}

// ConversationWith returns the full history between two users in
// chronological order.
func (db *DB) ConversationWith(userID, peerID int64) ([]*Message, error) {
	rows, err := db.conn.Query(
		`SELECT m.id, m.sender_id, m.receiver_id, m.message_type, m.content,
		        COALESCE(m.file_name, ''), m.file_size, m.sent_at, m.read_flag,
		        s.username, r.username
		 FROM messages m
		 JOIN users s ON m.sender_id = s.id
		 JOIN users r ON m.receiver_id = r.id
		 WHERE (m.sender_id = ? AND m.receiver_id = ?)
		    OR (m.sender_id = ? AND m.receiver_id = ?)
		 ORDER BY m.sent_at ASC, m.id ASC`,
		userID, peerID, peerID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return collectMessages(rows)
}

// CountFilesSentToday returns the number of file messages the user sent
// since local midnight. Seeds the per-session quota counter so the daily
// limit survives reconnects.
func (db *DB) CountFilesSentToday(userID int64) (int, error) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM messages
		 WHERE sender_id = ? AND message_type IN ('FILE', 'IMAGE') AND sent_at >= ?`,
		userID, millis(midnight),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count files sent today: %w", err)
	}
	return count, nil
}

func collectMessages(rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()

	messages := make([]*Message, 0)
	for rows.Next() {
		var msg Message
		var sentAt int64
		var readFlag int
		if err := rows.Scan(
			&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.MessageType, &msg.Content,
			&msg.FileName, &msg.FileSize, &sentAt, &readFlag,
			&msg.SenderUsername, &msg.ReceiverUsername,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.SentAt = fromMillis(sentAt)
		msg.Read = readFlag != 0
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}
