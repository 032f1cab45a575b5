package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		keyword string
		payload string
	}{
		{"with payload", "SEND_MESSAGE:{\"content\":\"hi\"}", "SEND_MESSAGE", "{\"content\":\"hi\"}"},
		{"trailing colon", "PING:", "PING", ""},
		{"bare keyword", "GET_USERS", "GET_USERS", ""},
		{"payload with colons", "SEND_FILE:2:a.txt:10", "SEND_FILE", "2:a.txt:10"},
		{"empty line", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := ParseCommand(tt.line)
			assert.Equal(t, tt.keyword, cmd.Keyword)
			assert.Equal(t, tt.payload, cmd.Payload)
		})
	}
}

func TestParseAuth(t *testing.T) {
	req, err := ParseAuth("AUTH:alice:secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", req.Username)
	assert.Equal(t, "secret", req.Password)

	// Empty password is shape-valid; the credential check rejects it later.
	req, err = ParseAuth("AUTH:alice:")
	require.NoError(t, err)
	assert.Equal(t, "", req.Password)

	for _, line := range []string{
		"AUTH:alice",
		"AUTH:alice:se:cret",
		"AUTH::secret",
		"LOGIN:alice:secret",
		"",
		"GET_USERS:",
	} {
		_, err := ParseAuth(line)
		assert.ErrorIs(t, err, ErrMalformedAuth, "line %q", line)
	}
}

func TestParseFileOffer(t *testing.T) {
	offer, err := ParseFileOffer("42:photo.jpg:1024")
	require.NoError(t, err)
	assert.Equal(t, int64(42), offer.ReceiverID)
	assert.Equal(t, "photo.jpg", offer.FileName)
	assert.Equal(t, int64(1024), offer.Size)

	for _, payload := range []string{
		"42:photo.jpg",
		"abc:photo.jpg:1024",
		"42:photo.jpg:zero",
		"42:photo.jpg:0",
		"42:photo.jpg:-5",
		"42::1024",
		"",
	} {
		_, err := ParseFileOffer(payload)
		assert.ErrorIs(t, err, ErrMalformedFileOffer, "payload %q", payload)
	}
}

func TestFileDataChunk(t *testing.T) {
	chunk, ok := FileDataChunk("FILE_DATA:aGVsbG8=")
	require.True(t, ok)
	assert.Equal(t, "aGVsbG8=", chunk)

	// Empty chunk lines are still FILE_DATA lines.
	chunk, ok = FileDataChunk("FILE_DATA:")
	require.True(t, ok)
	assert.Equal(t, "", chunk)

	_, ok = FileDataChunk("FILE_END")
	assert.False(t, ok)
}

func TestFormatResponse(t *testing.T) {
	assert.Equal(t, "PONG:OK", FormatResponse(RespPong, "OK"))
	assert.Equal(t, "MESSAGES:[]", FormatResponse(RespMessages, "[]"))
	assert.Equal(t, "FILE_INFO:a.txt:10", FormatResponse(RespFileInfo, FormatFileInfo("a.txt", 10)))
}

func TestIsImageFile(t *testing.T) {
	for _, name := range []string{"a.jpg", "b.JPEG", "c.png", "d.gif", "e.bmp", "f.webp", "dir/photo.PNG"} {
		assert.True(t, IsImageFile(name), name)
	}
	for _, name := range []string{"a.txt", "b.pdf", "c", "d.jpg.exe", "e.svg"} {
		assert.False(t, IsImageFile(name), name)
	}
}

func TestTimestampFormat(t *testing.T) {
	ts := Timestamp(time.Date(2025, 11, 18, 8, 11, 20, 0, time.UTC))
	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2025-11-18T08:11:20"`, string(data))

	var decoded Timestamp
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Time().Equal(ts.Time()))
}

func TestMessageFieldNames(t *testing.T) {
	msg := Message{
		ID:          7,
		SenderID:    1,
		ReceiverID:  2,
		MessageType: TypeText,
		Content:     "hola",
		SentAt:      Timestamp(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)),
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))

	// Field names are fixed by the original wire format.
	for _, key := range []string{"id", "senderId", "receiverId", "messageType", "content", "sentAt", "read"} {
		assert.Contains(t, fields, key)
	}
	assert.NotContains(t, fields, "fileName", "omitempty fields stay off text messages")
}

func TestUserNeverSerializesPassword(t *testing.T) {
	user := User{ID: 1, Username: "alice", Status: StatusApproved}
	data, err := json.Marshal(user)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "password")
}

func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage(`{"receiverId":2,"content":"hi","messageType":"TEXT"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), msg.ReceiverID)
	assert.Equal(t, "hi", msg.Content)

	_, err = DecodeMessage("not json")
	assert.Error(t, err)
}
