package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bsacosta-glitch/proyecto-avanzadas/pkg/protocol"
)

// Interactive terminal client for the messaging server. The protocol is
// strictly request/response, so the whole client is a synchronous loop.

const chunkSize = 48 * 1024 // base64 chars per FILE_DATA line

func main() {
	host := flag.String("host", "localhost", "Server host")
	port := flag.Int("port", 9999, "Server port")
	user := flag.String("user", "", "Username")
	pass := flag.String("pass", "", "Password")
	flag.Parse()

	if *user == "" || *pass == "" {
		log.Fatal("both -user and -pass are required")
	}

	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	c := &client{conn: conn, rd: bufio.NewReaderSize(conn, 1024*1024)}

	identity, err := c.authenticate(*user, *pass)
	if err != nil {
		log.Fatalf("Authentication failed: %v", err)
	}
	fmt.Printf("Authenticated as %s (user %d)\n", identity.Username, identity.ID)
	fmt.Println("Commands: /users /messages /with <id> /msg <id> <text> /send <id> <path> /get <path> /ping /quit")

	stdin := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			return
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		if err := c.run(line); err != nil {
			log.Fatalf("Connection error: %v", err)
		}
	}
}

type client struct {
	conn net.Conn
	rd   *bufio.Reader
}

func (c *client) send(line string) error {
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

func (c *client) readLine() (string, error) {
	line, err := c.rd.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// roundTrip sends one request line and prints the single response line.
func (c *client) roundTrip(line string) error {
	if err := c.send(line); err != nil {
		return err
	}
	resp, err := c.readLine()
	if err != nil {
		return err
	}
	fmt.Println(resp)
	return nil
}

func (c *client) authenticate(username, password string) (*protocol.User, error) {
	if err := c.send(fmt.Sprintf("AUTH:%s:%s", username, password)); err != nil {
		return nil, err
	}
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	cmd := protocol.ParseCommand(line)
	if cmd.Keyword != protocol.RespAuthSuccess {
		return nil, fmt.Errorf("server said %s", line)
	}
	var identity protocol.User
	if err := json.Unmarshal([]byte(cmd.Payload), &identity); err != nil {
		return nil, fmt.Errorf("bad identity payload: %w", err)
	}
	return &identity, nil
}

func (c *client) run(input string) error {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/users":
		return c.roundTrip("GET_USERS:")
	case "/messages":
		return c.roundTrip("GET_MESSAGES:")
	case "/ping":
		return c.roundTrip("PING:")
	case "/with":
		if len(fields) != 2 {
			fmt.Println("usage: /with <userId>")
			return nil
		}
		return c.roundTrip("GET_MESSAGES_WITH_USER:" + fields[1])
	case "/msg":
		if len(fields) < 3 {
			fmt.Println("usage: /msg <userId> <text>")
			return nil
		}
		receiverID, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			fmt.Println("bad user id:", fields[1])
			return nil
		}
		payload, err := json.Marshal(map[string]any{
			"receiverId": receiverID,
			"content":    strings.Join(fields[2:], " "),
		})
		if err != nil {
			return err
		}
		return c.roundTrip(protocol.CmdSendMessage + ":" + string(payload))
	case "/send":
		if len(fields) != 3 {
			fmt.Println("usage: /send <userId> <path>")
			return nil
		}
		return c.uploadFile(fields[1], fields[2])
	case "/get":
		if len(fields) != 2 {
			fmt.Println("usage: /get <storagePath>")
			return nil
		}
		return c.downloadFile(fields[1])
	default:
		// Anything else goes to the server verbatim.
		return c.roundTrip(input)
	}
}

func (c *client) uploadFile(receiver, path string) error {
	receiverID, err := strconv.ParseInt(receiver, 10, 64)
	if err != nil {
		fmt.Println("bad user id:", receiver)
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println("cannot read file:", err)
		return nil
	}

	offer := protocol.FormatFileOffer(receiverID, filepath.Base(path), int64(len(data)))
	if err := c.send(protocol.CmdSendFile + ":" + offer); err != nil {
		return err
	}
	resp, err := c.readLine()
	if err != nil {
		return err
	}
	if protocol.ParseCommand(resp).Keyword != protocol.RespFileAccepted {
		fmt.Println(resp)
		return nil
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := chunkSize
		if n > len(encoded) {
			n = len(encoded)
		}
		if err := c.send(protocol.FileDataPrefix + encoded[:n]); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	if err := c.send(protocol.FileEndMarker); err != nil {
		return err
	}

	resp, err = c.readLine()
	if err != nil {
		return err
	}
	fmt.Println(resp)
	return nil
}

func (c *client) downloadFile(storagePath string) error {
	if err := c.send(protocol.CmdDownloadFile + ":" + storagePath); err != nil {
		return err
	}
	line, err := c.readLine()
	if err != nil {
		return err
	}
	info := protocol.ParseCommand(line)
	if info.Keyword != protocol.RespFileInfo {
		fmt.Println(line)
		return nil
	}
	name, _, _ := strings.Cut(info.Payload, ":")

	if err := c.send(protocol.FileReadyMark); err != nil {
		return err
	}

	var encoded strings.Builder
	for {
		line, err := c.readLine()
		if err != nil {
			return err
		}
		if line == protocol.RespFileComplete {
			break
		}
		if chunk, ok := protocol.FileDataChunk(line); ok {
			encoded.WriteString(chunk)
		}
	}

	data, err := base64.StdEncoding.DecodeString(encoded.String())
	if err != nil {
		fmt.Println("bad download payload:", err)
		return nil
	}
	if err := os.WriteFile(name, data, 0644); err != nil {
		fmt.Println("cannot write file:", err)
		return nil
	}
	fmt.Printf("Saved %s (%d bytes)\n", name, len(data))
	return nil
}
