package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Command keywords accepted by the server.
const (
	CmdAuth                = "AUTH"
	CmdSendMessage         = "SEND_MESSAGE"
	CmdSendFile            = "SEND_FILE"
	CmdDownloadFile        = "DOWNLOAD_FILE"
	CmdGetMessages         = "GET_MESSAGES"
	CmdGetMessagesWithUser = "GET_MESSAGES_WITH_USER"
	CmdGetUsers            = "GET_USERS"
	CmdPing                = "PING"
)

// Response keywords written by the server.
const (
	RespAuthSuccess     = "AUTH_SUCCESS"
	RespAuthFailed      = "AUTH_FAILED"
	RespConnectionLimit = "CONNECTION_LIMIT"
	RespMessageSent     = "MESSAGE_SENT"
	RespMessageFailed   = "MESSAGE_FAILED"
	RespMessageError    = "MESSAGE_ERROR"
	RespFileAccepted    = "FILE_ACCEPTED"
	RespFileSent        = "FILE_SENT"
	RespFileError       = "FILE_ERROR"
	RespFileLimit       = "FILE_LIMIT"
	RespFileInfo        = "FILE_INFO"
	RespFileNotFound    = "FILE_NOT_FOUND"
	RespDownloadError   = "DOWNLOAD_ERROR"
	RespFileComplete    = "FILE_COMPLETE"
	RespMessages        = "MESSAGES"
	RespMessagesError   = "MESSAGES_ERROR"
	RespUsers           = "USERS"
	RespUsersError      = "USERS_ERROR"
	RespPong            = "PONG"
	RespUnknownCommand  = "UNKNOWN_COMMAND"
	RespError           = "ERROR"
)

// File-transfer sub-protocol markers. FILE_DATA lines carry one base64 chunk
// each; the bare markers delimit the exchange.
const (
	FileDataPrefix = "FILE_DATA:"
	FileEndMarker  = "FILE_END"
	FileReadyMark  = "FILE_READY"
)

var (
	ErrMalformedAuth      = errors.New("malformed auth frame")
	ErrMalformedFileOffer = errors.New("malformed file offer")
)

// Command is one parsed request line. Payload is everything after the first
// colon, uninterpreted.
type Command struct {
	Keyword string
	Payload string
}

// ParseCommand splits a request line into keyword and payload. A line without
// a colon is a bare keyword with an empty payload.
func ParseCommand(line string) Command {
	keyword, payload, _ := strings.Cut(line, ":")
	return Command{Keyword: keyword, Payload: payload}
}

// FormatResponse renders a single response line (without the trailing newline).
func FormatResponse(keyword, payload string) string {
	return keyword + ":" + payload
}

// AuthRequest is the credential pair carried by the mandatory first frame.
type AuthRequest struct {
	Username string
	Password string
}

// ParseAuth parses an AUTH:<username>:<password> line. The shape is strict:
// exactly three colon-separated fields, matching the original protocol. A
// password containing a colon is therefore unrepresentable on the wire.
func ParseAuth(line string) (AuthRequest, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 3 || parts[0] != CmdAuth {
		return AuthRequest{}, ErrMalformedAuth
	}
	if parts[1] == "" {
		return AuthRequest{}, ErrMalformedAuth
	}
	return AuthRequest{Username: parts[1], Password: parts[2]}, nil
}

// FileOffer is the metadata frame that opens a SEND_FILE exchange.
type FileOffer struct {
	ReceiverID int64
	FileName   string
	Size       int64
}

// ParseFileOffer parses the payload of SEND_FILE:<receiverId>:<fileName>:<byteLength>.
// The file name may not contain a colon; the declared size must be positive.
func ParseFileOffer(payload string) (FileOffer, error) {
	parts := strings.SplitN(payload, ":", 3)
	if len(parts) != 3 {
		return FileOffer{}, ErrMalformedFileOffer
	}
	receiverID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return FileOffer{}, ErrMalformedFileOffer
	}
	size, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || size <= 0 || parts[1] == "" {
		return FileOffer{}, ErrMalformedFileOffer
	}
	return FileOffer{ReceiverID: receiverID, FileName: parts[1], Size: size}, nil
}

// FormatFileOffer renders the payload of a SEND_FILE command.
func FormatFileOffer(receiverID int64, fileName string, size int64) string {
	return fmt.Sprintf("%d:%s:%d", receiverID, fileName, size)
}

// FormatFileInfo renders the FILE_INFO payload announcing a download.
func FormatFileInfo(fileName string, size int) string {
	return fmt.Sprintf("%s:%d", fileName, size)
}

// FileDataChunk extracts the base64 chunk from a FILE_DATA line. Returns
// false for any other line.
func FileDataChunk(line string) (string, bool) {
	return strings.CutPrefix(line, FileDataPrefix)
}
