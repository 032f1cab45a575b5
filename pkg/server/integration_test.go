package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bsacosta-glitch/proyecto-avanzadas/pkg/database"
	"github.com/bsacosta-glitch/proyecto-avanzadas/pkg/protocol"
)

func startIntegrationServer(t *testing.T, mutate ...func(*ServerConfig)) (*Server, *database.DB) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}

	cfg := DefaultConfig()
	cfg.TCPPort = 0 // pick a free port
	cfg.UploadDir = t.TempDir()
	for _, fn := range mutate {
		fn(&cfg)
	}

	srv := NewServer(db, cfg)
	if err := srv.Start(); err != nil {
		t.Fatalf("starting server: %v", err)
	}
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Errorf("stopping server: %v", err)
		}
	})

	return srv, db
}

func createApprovedUser(t *testing.T, db *database.DB, username, password string) int64 {
	t.Helper()

	id, err := db.CreateUser(username, password, username+"@example.com", 3, 10)
	if err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	if err := db.ApproveUser(id); err != nil {
		t.Fatalf("approving user %s: %v", username, err)
	}
	return id
}

type tcpClient struct {
	conn net.Conn
	rd   *bufio.Reader
}

func dialServer(t *testing.T, srv *Server) *tcpClient {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dialing server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &tcpClient{conn: conn, rd: bufio.NewReader(conn)}
}

func (c *tcpClient) send(t *testing.T, line string) {
	t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

func (c *tcpClient) readLine(t *testing.T) string {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (c *tcpClient) auth(t *testing.T, username, password string) {
	t.Helper()
	c.send(t, "AUTH:"+username+":"+password)
	line := c.readLine(t)
	if !strings.HasPrefix(line, protocol.RespAuthSuccess+":") {
		t.Fatalf("expected AUTH_SUCCESS, got %q", line)
	}
}

func TestServerEndToEnd(t *testing.T) {
	srv, db := startIntegrationServer(t)

	aliceID := createApprovedUser(t, db, "alice", "secret")
	bobID := createApprovedUser(t, db, "bob", "hunter2")

	alice := dialServer(t, srv)
	alice.auth(t, "alice", "secret")

	bob := dialServer(t, srv)
	bob.auth(t, "bob", "hunter2")

	// Alice messages Bob through the real store.
	alice.send(t, fmt.Sprintf(`SEND_MESSAGE:{"receiverId":%d,"content":"hola bob"}`, bobID))
	if got := alice.readLine(t); !strings.HasPrefix(got, protocol.RespMessageSent+":") {
		t.Fatalf("got %q, want MESSAGE_SENT", got)
	}

	bob.send(t, fmt.Sprintf("GET_MESSAGES_WITH_USER:%d", aliceID))
	conversation := bob.readLine(t)
	if !strings.HasPrefix(conversation, protocol.RespMessages+":") {
		t.Fatalf("got %q, want MESSAGES", conversation)
	}
	if !strings.Contains(conversation, `"content":"hola bob"`) {
		t.Errorf("conversation missing message: %s", conversation)
	}
	if !strings.Contains(conversation, `"senderUsername":"alice"`) {
		t.Errorf("conversation missing sender username: %s", conversation)
	}

	// Both users show up on the roster.
	bob.send(t, "GET_USERS:")
	roster := bob.readLine(t)
	if !strings.Contains(roster, `"username":"alice"`) || !strings.Contains(roster, `"username":"bob"`) {
		t.Errorf("roster missing connected users: %s", roster)
	}

	bob.send(t, "PING:")
	if got := bob.readLine(t); got != "PONG:OK" {
		t.Errorf("got %q, want PONG:OK", got)
	}

	// Alice drops; her connected flag eventually clears.
	alice.conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for {
		user, err := db.GetUser(aliceID)
		if err != nil {
			t.Fatalf("loading alice: %v", err)
		}
		if !user.Connected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("alice still marked connected after disconnect")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServerRejectsAtCapacity(t *testing.T) {
	srv, db := startIntegrationServer(t, func(cfg *ServerConfig) {
		cfg.MaxConnections = 1
	})

	createApprovedUser(t, db, "alice", "secret")
	createApprovedUser(t, db, "bob", "hunter2")

	first := dialServer(t, srv)
	first.auth(t, "alice", "secret")

	// The second connection is refused at the door, before authentication.
	second := dialServer(t, srv)
	second.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := second.rd.ReadString('\n'); err != io.EOF {
		t.Fatalf("expected immediate close, got err=%v", err)
	}
}

// Stop must let woken handlers record their final accounting before the
// store closes.
func TestStopRecordsDisconnectsBeforeStoreClose(t *testing.T) {
	store := newMockStore()
	store.addUser(approvedUser(1, "alice"), "secret")

	cfg := DefaultConfig()
	cfg.TCPPort = 0
	cfg.UploadDir = t.TempDir()
	srv := NewServer(store, cfg)
	if err := srv.Start(); err != nil {
		t.Fatalf("starting server: %v", err)
	}

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dialing server: %v", err)
	}
	defer conn.Close()
	cl := &tcpClient{conn: conn, rd: bufio.NewReader(conn)}
	cl.auth(t, "alice", "secret")

	if err := srv.Stop(); err != nil {
		t.Fatalf("stopping server: %v", err)
	}

	if got := store.disconnectCount(); got != 1 {
		t.Errorf("disconnect records = %d, want 1", got)
	}
	if store.disconnectAfterClosed() {
		t.Error("disconnect recorded after the store was closed")
	}
}

func TestServerFileRoundTrip(t *testing.T) {
	srv, db := startIntegrationServer(t)

	createApprovedUser(t, db, "alice", "secret")
	bobID := createApprovedUser(t, db, "bob", "hunter2")

	alice := dialServer(t, srv)
	alice.auth(t, "alice", "secret")

	content := []byte("attachment body over real tcp")
	cl := &testClient{conn: alice.conn, rd: alice.rd}
	uploadFile(t, cl, bobID, "report.pdf", content)

	// Bob finds the file message and downloads by its storage path.
	bob := dialServer(t, srv)
	bob.auth(t, "bob", "hunter2")

	bob.send(t, "GET_MESSAGES:")
	listing := bob.readLine(t)
	if !strings.Contains(listing, `"messageType":"FILE"`) {
		t.Fatalf("file message missing from listing: %s", listing)
	}
	if !strings.Contains(listing, fmt.Sprintf(`"fileSize":%d`, len(content))) {
		t.Errorf("listing missing file size: %s", listing)
	}

	marker := `"content":"`
	idx := strings.Index(listing, marker)
	if idx < 0 {
		t.Fatalf("no content field in listing: %s", listing)
	}
	rest := listing[idx+len(marker):]
	storagePath := rest[:strings.Index(rest, `"`)]

	bob.send(t, "DOWNLOAD_FILE:"+storagePath)
	info := bob.readLine(t)
	if !strings.HasPrefix(info, protocol.RespFileInfo+":") {
		t.Fatalf("got %q, want FILE_INFO", info)
	}

	bob.send(t, protocol.FileReadyMark)
	data := bob.readLine(t)
	if _, ok := protocol.FileDataChunk(data); !ok {
		t.Fatalf("got %q, want FILE_DATA", data)
	}
	if got := bob.readLine(t); got != protocol.RespFileComplete {
		t.Errorf("got %q, want FILE_COMPLETE", got)
	}
}
