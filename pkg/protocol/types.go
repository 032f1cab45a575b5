package protocol

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Message type discriminators.
const (
	TypeText  = "TEXT"
	TypeFile  = "FILE"
	TypeImage = "IMAGE"
)

// User account states. Only approved accounts may authenticate; the server
// deliberately reports unapproved accounts as plain auth failures.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// timestampLayout matches the original wire format (ISO-8601 without zone).
const timestampLayout = "2006-01-02T15:04:05"

// Timestamp serializes as yyyy-MM-ddTHH:mm:ss for wire compatibility.
type Timestamp time.Time

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).Format(timestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = Timestamp(time.Time{})
		return nil
	}
	parsed, err := time.Parse(timestampLayout, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	*t = Timestamp(parsed)
	return nil
}

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// Message is the wire representation of one message record. For FILE and
// IMAGE messages FilePath holds the server-side storage path and FileName the
// original upload name.
type Message struct {
	ID               int64      `json:"id"`
	SenderID         int64      `json:"senderId"`
	ReceiverID       int64      `json:"receiverId"`
	MessageType      string     `json:"messageType"`
	Content          string     `json:"content"`
	FileName         string     `json:"fileName,omitempty"`
	FilePath         string     `json:"filePath,omitempty"`
	FileSize         int64      `json:"fileSize,omitempty"`
	SentAt           Timestamp  `json:"sentAt"`
	Read             bool       `json:"read"`
	SenderUsername   string     `json:"senderUsername,omitempty"`
	ReceiverUsername string     `json:"receiverUsername,omitempty"`
}

// User is the wire representation of an identity. The password column never
// leaves the server.
type User struct {
	ID              int64      `json:"id"`
	Username        string     `json:"username"`
	Email           string     `json:"email"`
	Status          string     `json:"status"`
	CreatedAt       Timestamp  `json:"createdAt"`
	LastConnection  *Timestamp `json:"lastConnection"`
	Connected       bool       `json:"connected"`
	ConnectionCount int        `json:"connectionCount"`
	MaxConnections  int        `json:"maxConnections"`
	FilesSentCount  int        `json:"filesSentCount"`
	MaxFilesPerDay  int        `json:"maxFilesPerDay"`
}

// DecodeMessage parses the JSON payload of a SEND_MESSAGE command.
func DecodeMessage(payload string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("invalid message payload: %w", err)
	}
	return &msg, nil
}

// EncodeJSON serializes a payload value for a response line. Marshal failure
// on these types means a programming error, so callers treat it as fatal to
// the operation rather than the connection.
func EncodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(data), nil
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// IsImageFile reports whether a file name carries a known raster image
// extension, which selects the IMAGE message type over FILE.
func IsImageFile(fileName string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(fileName))]
}
