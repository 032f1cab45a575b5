package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsacosta-glitch/proyecto-avanzadas/pkg/database"
	"github.com/bsacosta-glitch/proyecto-avanzadas/pkg/protocol"
)

// Load generator for the messaging server: opens many concurrent sessions
// and exchanges messages between them, reporting throughput once a second.

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat."

var loremWords = strings.Fields(loremIpsum)

var (
	messagesSent   atomic.Int64
	messagesFailed atomic.Int64
	authFailed     atomic.Int64
)

func main() {
	host := flag.String("host", "localhost", "Server host")
	port := flag.Int("port", 9999, "Server port")
	clients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	interval := flag.Duration("interval", 100*time.Millisecond, "Delay between messages per client")
	password := flag.String("pass", "loadtest", "Password shared by all load test users")
	seedDB := flag.String("seed-db", "", "SQLite database to seed load test users into (users loadtest1..N, approved)")
	flag.Parse()

	if *seedDB != "" {
		if err := seedUsers(*seedDB, *clients, *password); err != nil {
			log.Fatalf("Failed to seed users: %v", err)
		}
		log.Printf("Seeded %d approved users into %s", *clients, *seedDB)
	}

	addr := fmt.Sprintf("%s:%d", *host, *port)
	log.Printf("Starting %d clients against %s for %s", *clients, addr, *duration)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 1; i <= *clients; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			runClient(addr, n, *clients, *password, *interval, stop)
		}(i)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	deadline := time.After(*duration)

	var lastSent int64
	for {
		select {
		case <-ticker.C:
			sent := messagesSent.Load()
			log.Printf("sent=%d (+%d/s) failed=%d auth_failed=%d",
				sent, sent-lastSent, messagesFailed.Load(), authFailed.Load())
			lastSent = sent
		case <-deadline:
			close(stop)
			wg.Wait()
			log.Printf("Done: sent=%d failed=%d auth_failed=%d",
				messagesSent.Load(), messagesFailed.Load(), authFailed.Load())
			return
		}
	}
}

// seedUsers creates loadtest1..N as approved accounts, ignoring duplicates
// from earlier runs.
func seedUsers(dbPath string, count int, password string) error {
	db, err := database.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	for i := 1; i <= count; i++ {
		username := fmt.Sprintf("loadtest%d", i)
		id, err := db.CreateUser(username, password, username+"@loadtest.local", count, 1000)
		if err != nil {
			continue // likely exists from a previous run
		}
		if err := db.ApproveUser(id); err != nil {
			return err
		}
	}
	return nil
}

func runClient(addr string, n, total int, password string, interval time.Duration, stop chan struct{}) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Printf("client %d: dial failed: %v", n, err)
		return
	}
	defer conn.Close()
	rd := bufio.NewReader(conn)

	username := fmt.Sprintf("loadtest%d", n)
	identity, ok := authenticate(conn, rd, username, password)
	if !ok {
		authFailed.Add(1)
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(n)))
	for {
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}

		// Message a random peer. Seeded users have contiguous ids, so the
		// id of loadtest<k> is ours shifted by (k - n).
		peer := identity.ID - int64(n) + int64(rng.Intn(total)) + 1
		if peer == identity.ID {
			peer = identity.ID - int64(n) + int64(n%total) + 1
		}
		body := randomSentence(rng)
		line := fmt.Sprintf(`SEND_MESSAGE:{"receiverId":%d,"content":%q}`, peer, body)
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			messagesFailed.Add(1)
			return
		}
		resp, err := rd.ReadString('\n')
		if err != nil {
			messagesFailed.Add(1)
			return
		}
		if strings.HasPrefix(resp, protocol.RespMessageSent+":") {
			messagesSent.Add(1)
		} else {
			messagesFailed.Add(1)
		}
	}
}

func authenticate(conn net.Conn, rd *bufio.Reader, username, password string) (protocol.User, bool) {
	if _, err := fmt.Fprintf(conn, "AUTH:%s:%s\n", username, password); err != nil {
		return protocol.User{}, false
	}
	line, err := rd.ReadString('\n')
	if err != nil {
		return protocol.User{}, false
	}
	cmd := protocol.ParseCommand(strings.TrimRight(line, "\r\n"))
	if cmd.Keyword != protocol.RespAuthSuccess {
		return protocol.User{}, false
	}
	var identity protocol.User
	if err := json.Unmarshal([]byte(cmd.Payload), &identity); err != nil {
		return protocol.User{}, false
	}
	return identity, true
}

func randomSentence(rng *rand.Rand) string {
	n := 3 + rng.Intn(10)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[rng.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}
