package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bsacosta-glitch/proyecto-avanzadas/pkg/database"
	"github.com/bsacosta-glitch/proyecto-avanzadas/pkg/protocol"
)

// errUploadTooLarge indicates a client streamed more data than the declared
// and configured maximum. Fatal: the stream position is unrecoverable.
var errUploadTooLarge = errors.New("upload exceeds maximum file size")

// handleConnection drives one connection through its whole lifecycle:
// authenticate, register, serve, clean up. Runs as its own goroutine; the
// registry is the only state it shares with other connections.
func (s *Server) handleConnection(netConn net.Conn, transport string) {
	sess := NewSession(netConn, s.config.maxLineLength(), s.config.WriteTimeout())
	defer func() {
		if err := sess.Close(); err != nil {
			log.Printf("Connection %s: close error: %v", sess.ID, err)
		}
	}()

	log.Printf("New %s connection from %s (connection %s)", transport, sess.RemoteAddr, sess.ID)

	user, err := s.authenticate(sess)
	if err != nil {
		s.metrics.RecordAuthFailure()
		s.metrics.RecordConnectionRejected("auth")
		// Best-effort failure line; the socket may already be gone.
		_ = sess.WriteResponse(protocol.RespAuthFailed, "Authentication failed")
		return
	}

	filesToday, err := s.store.CountFilesSentToday(user.ID)
	if err != nil {
		log.Printf("Connection %s: failed to load file quota: %v", sess.ID, err)
		_ = sess.WriteResponse(protocol.RespAuthFailed, "Authentication failed")
		return
	}
	sess.Bind(user, filesToday)

	if !s.registry.Add(sess) {
		s.metrics.RecordConnectionRejected("user_limit")
		log.Printf("User %d at connection limit (%d), rejecting connection %s",
			user.ID, user.MaxConnections, sess.ID)
		_ = sess.WriteResponse(protocol.RespConnectionLimit, "Connection limit reached")
		return
	}

	// From here on the session is registered; cleanup must always
	// deregister it and record the final accounting, whatever happens.
	defer func() {
		s.registry.Remove(sess.ID)
		summary := database.ConnectionSummary{
			UserID:         sess.UserID,
			ClientAddr:     sess.RemoteAddr,
			ConnectedAt:    sess.ConnectedAt,
			DisconnectedAt: time.Now(),
			MessagesSent:   sess.MessagesSent(),
		}
		if err := s.store.RecordDisconnect(summary); err != nil {
			log.Printf("Connection %s: failed to record disconnect: %v", sess.ID, err)
		}
		log.Printf("Client disconnected: %s (connection %s)", sess.Username, sess.ID)
	}()

	if err := s.store.RecordConnect(user.ID, sess.RemoteAddr, sess.ConnectedAt); err != nil {
		log.Printf("Connection %s: failed to record connect: %v", sess.ID, err)
	}

	payload, err := protocol.EncodeJSON(wireUser(user))
	if err != nil {
		log.Printf("Connection %s: failed to encode identity: %v", sess.ID, err)
		return
	}
	if err := sess.WriteResponse(protocol.RespAuthSuccess, payload); err != nil {
		return
	}

	log.Printf("Client authenticated: %s from %s", user.Username, sess.RemoteAddr)

	s.serve(sess)
}

// authenticate reads and validates the mandatory first frame. Malformed
// frames, bad credentials, and unapproved accounts all produce the same
// generic failure on the wire so usernames cannot be probed; the log keeps
// the distinction for operators.
func (s *Server) authenticate(sess *Session) (*database.User, error) {
	line, err := sess.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("read auth frame: %w", err)
	}

	req, err := protocol.ParseAuth(line)
	if err != nil {
		return nil, err
	}

	user, err := s.store.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, database.ErrInvalidCredentials) {
			log.Printf("Failed authentication attempt for user: %s", req.Username)
		}
		return nil, err
	}

	if !user.IsApproved() {
		log.Printf("Unapproved account attempted to connect: %s", req.Username)
		return nil, database.ErrInvalidCredentials
	}

	return user, nil
}

// serve is the request loop: one line in, one response out (file transfers
// complete their multi-line sub-exchange inside a single iteration). Any
// read or write failure ends the connection.
func (s *Server) serve(sess *Session) {
	for {
		line, err := sess.ReadLine()
		if err != nil {
			if err == io.EOF {
				log.Printf("Connection %s: client disconnected", sess.ID)
			} else {
				log.Printf("Connection %s: read error: %v", sess.ID, err)
			}
			return
		}

		cmd := protocol.ParseCommand(line)
		start := time.Now()
		err = s.dispatch(sess, cmd)
		s.metrics.RecordCommand(cmd.Keyword, time.Since(start).Seconds())
		if err != nil {
			log.Printf("Connection %s: %s failed: %v", sess.ID, cmd.Keyword, err)
			return
		}
		sess.Touch()
	}
}

// dispatch routes one command. A non-nil return is fatal to the connection
// (I/O failure); protocol and storage problems are answered in-band and
// leave the connection open.
func (s *Server) dispatch(sess *Session, cmd protocol.Command) error {
	switch cmd.Keyword {
	case protocol.CmdSendMessage:
		return s.handleSendMessage(sess, cmd.Payload)
	case protocol.CmdSendFile:
		return s.handleSendFile(sess, cmd.Payload)
	case protocol.CmdDownloadFile:
		return s.handleDownloadFile(sess, cmd.Payload)
	case protocol.CmdGetMessages:
		return s.handleGetMessages(sess)
	case protocol.CmdGetMessagesWithUser:
		return s.handleGetMessagesWithUser(sess, cmd.Payload)
	case protocol.CmdGetUsers:
		return s.handleGetUsers(sess)
	case protocol.CmdPing:
		return sess.WriteResponse(protocol.RespPong, "OK")
	default:
		return sess.WriteResponse(protocol.RespUnknownCommand, cmd.Keyword)
	}
}

func (s *Server) handleSendMessage(sess *Session, payload string) error {
	wire, err := protocol.DecodeMessage(payload)
	if err != nil {
		return sess.WriteResponse(protocol.RespMessageError, "Invalid message payload")
	}

	msg := &database.Message{
		SenderID:    sess.UserID, // sender is always the authenticated identity
		ReceiverID:  wire.ReceiverID,
		MessageType: wire.MessageType,
		Content:     wire.Content,
	}
	if err := s.store.SaveMessage(msg); err != nil {
		log.Printf("Connection %s: failed to save message: %v", sess.ID, err)
		return sess.WriteResponse(protocol.RespMessageFailed, "Failed to save message")
	}

	sess.IncrementMessages()
	log.Printf("Message sent from %s to user %d", sess.Username, msg.ReceiverID)
	return sess.WriteResponse(protocol.RespMessageSent, "Message delivered")
}

func (s *Server) handleSendFile(sess *Session, payload string) error {
	// Quota and size are checked before any data is accepted, so a client
	// that will be rejected learns it before uploading.
	if !sess.CanSendFile() {
		return sess.WriteResponse(protocol.RespFileLimit, "Daily file limit reached")
	}

	offer, err := protocol.ParseFileOffer(payload)
	if err != nil {
		return sess.WriteResponse(protocol.RespFileError, "Invalid file offer")
	}
	if offer.Size > s.config.MaxFileSizeBytes {
		return sess.WriteResponse(protocol.RespFileError, "File exceeds maximum size")
	}

	if err := sess.WriteResponse(protocol.RespFileAccepted, "OK"); err != nil {
		return err
	}

	encoded, err := s.receiveFileData(sess)
	if err != nil {
		return err
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return sess.WriteResponse(protocol.RespFileError, "Invalid base64 payload")
	}
	if int64(len(data)) > s.config.MaxFileSizeBytes {
		return sess.WriteResponse(protocol.RespFileError, "File exceeds maximum size")
	}

	storagePath, err := s.files.Save(sess.UserID, offer.FileName, data)
	if err != nil {
		log.Printf("Connection %s: failed to store upload: %v", sess.ID, err)
		return sess.WriteResponse(protocol.RespFileError, "Failed to store file")
	}

	messageType := protocol.TypeFile
	if protocol.IsImageFile(offer.FileName) {
		messageType = protocol.TypeImage
	}
	if err := s.store.SaveFileMessage(sess.UserID, offer.ReceiverID, messageType, storagePath, offer.FileName, int64(len(data))); err != nil {
		log.Printf("Connection %s: failed to save file message: %v", sess.ID, err)
		return sess.WriteResponse(protocol.RespFileError, "Failed to save file message")
	}

	sess.IncrementFiles()
	s.metrics.RecordFileBytes("upload", len(data))
	log.Printf("File received from %s for user %d: %s (%d bytes, stored as %s)",
		sess.Username, offer.ReceiverID, offer.FileName, len(data), storagePath)
	return sess.WriteResponse(protocol.RespFileSent, "File delivered")
}

// receiveFileData reads FILE_DATA chunks until the FILE_END marker and
// returns the concatenated base64 text. The cap guards against clients that
// declared one size and stream another.
func (s *Server) receiveFileData(sess *Session) (string, error) {
	maxEncoded := (s.config.MaxFileSizeBytes/3 + 1) * 4

	var data strings.Builder
	for {
		line, err := sess.ReadLine()
		if err != nil {
			return "", fmt.Errorf("read file data: %w", err)
		}
		if line == protocol.FileEndMarker {
			return data.String(), nil
		}
		if chunk, ok := protocol.FileDataChunk(line); ok {
			data.WriteString(chunk)
			if int64(data.Len()) > maxEncoded {
				return "", errUploadTooLarge
			}
			// Each chunk is a processed frame; a long upload must not look
			// idle to the sweep.
			sess.Touch()
		}
		// Anything else mid-transfer is ignored, matching the original.
	}
}

func (s *Server) handleDownloadFile(sess *Session, payload string) error {
	name, data, err := s.files.Read(payload)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrPathOutsideRoot) {
			log.Printf("Connection %s: file not found: %s", sess.ID, payload)
			return sess.WriteResponse(protocol.RespFileNotFound, "File not found")
		}
		log.Printf("Connection %s: download failed: %v", sess.ID, err)
		return sess.WriteResponse(protocol.RespDownloadError, "Failed to read file")
	}

	// Announce name and size, then wait for the client before buffering
	// the payload onto the wire.
	if err := sess.WriteResponse(protocol.RespFileInfo, protocol.FormatFileInfo(name, len(data))); err != nil {
		return err
	}

	line, err := sess.ReadLine()
	if err != nil {
		return fmt.Errorf("read download ack: %w", err)
	}
	if !strings.HasPrefix(line, protocol.FileReadyMark) {
		// Client declined the transfer; nothing else to do.
		return nil
	}

	if err := sess.WriteLine(protocol.FileDataPrefix + base64.StdEncoding.EncodeToString(data)); err != nil {
		return err
	}
	s.metrics.RecordFileBytes("download", len(data))
	log.Printf("File downloaded by %s: %s (%d bytes)", sess.Username, name, len(data))
	return sess.WriteLine(protocol.RespFileComplete)
}

func (s *Server) handleGetMessages(sess *Session) error {
	messages, err := s.store.ConversationFor(sess.UserID)
	if err != nil {
		log.Printf("Connection %s: failed to load messages: %v", sess.ID, err)
		return sess.WriteResponse(protocol.RespMessagesError, "Failed to load messages")
	}
	return s.writeMessages(sess, messages)
}

func (s *Server) handleGetMessagesWithUser(sess *Session, payload string) error {
	peerID, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil {
		return sess.WriteResponse(protocol.RespMessagesError, "Invalid user id")
	}

	messages, err := s.store.ConversationWith(sess.UserID, peerID)
	if err != nil {
		log.Printf("Connection %s: failed to load conversation: %v", sess.ID, err)
		return sess.WriteResponse(protocol.RespMessagesError, "Failed to load conversation")
	}
	return s.writeMessages(sess, messages)
}

func (s *Server) writeMessages(sess *Session, messages []*database.Message) error {
	wire := make([]protocol.Message, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, wireMessage(msg))
	}

	payload, err := protocol.EncodeJSON(wire)
	if err != nil {
		return sess.WriteResponse(protocol.RespMessagesError, "Failed to encode messages")
	}
	return sess.WriteResponse(protocol.RespMessages, payload)
}

func (s *Server) handleGetUsers(sess *Session) error {
	users, err := s.store.ConnectedUsers()
	if err != nil {
		log.Printf("Connection %s: failed to load roster: %v", sess.ID, err)
		return sess.WriteResponse(protocol.RespUsersError, "Failed to load users")
	}

	wire := make([]protocol.User, 0, len(users))
	for _, user := range users {
		wire = append(wire, wireUser(user))
	}

	payload, err := protocol.EncodeJSON(wire)
	if err != nil {
		return sess.WriteResponse(protocol.RespUsersError, "Failed to encode users")
	}
	return sess.WriteResponse(protocol.RespUsers, payload)
}

// wireMessage converts a storage row to its wire representation. For file
// messages Content carries the storage path, which doubles as the
// DOWNLOAD_FILE argument.
func wireMessage(msg *database.Message) protocol.Message {
	wire := protocol.Message{
		ID:               msg.ID,
		SenderID:         msg.SenderID,
		ReceiverID:       msg.ReceiverID,
		MessageType:      msg.MessageType,
		Content:          msg.Content,
		FileName:         msg.FileName,
		FileSize:         msg.FileSize,
		SentAt:           protocol.Timestamp(msg.SentAt),
		Read:             msg.Read,
		SenderUsername:   msg.SenderUsername,
		ReceiverUsername: msg.ReceiverUsername,
	}
	if msg.MessageType == protocol.TypeFile || msg.MessageType == protocol.TypeImage {
		wire.FilePath = msg.Content
	}
	return wire
}

func wireUser(user *database.User) protocol.User {
	wire := protocol.User{
		ID:              user.ID,
		Username:        user.Username,
		Email:           user.Email,
		Status:          user.Status,
		CreatedAt:       protocol.Timestamp(user.CreatedAt),
		Connected:       user.Connected,
		ConnectionCount: user.ConnectionCount,
		MaxConnections:  user.MaxConnections,
		FilesSentCount:  user.FilesSentCount,
		MaxFilesPerDay:  user.MaxFilesPerDay,
	}
	if user.LastConnection != nil {
		ts := protocol.Timestamp(*user.LastConnection)
		wire.LastConnection = &ts
	}
	return wire
}
