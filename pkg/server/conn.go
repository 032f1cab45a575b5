package server

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync"
	"time"
)

// ErrLineTooLong indicates a request line exceeded the configured cap.
// Fatal to the connection: the rest of the oversized line cannot be
// resynchronized with the protocol.
var ErrLineTooLong = errors.New("request line exceeds maximum length")

// lineConn wraps a net.Conn with buffered line reading and mutex-protected
// line writing, so the sweep can close the socket and broadcast-free
// handlers can write without interleaving partial lines.
type lineConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	maxLine      int
	writeTimeout time.Duration

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func newLineConn(conn net.Conn, maxLine int, writeTimeout time.Duration) *lineConn {
	return &lineConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		maxLine:      maxLine,
		writeTimeout: writeTimeout,
	}
}

// ReadLine reads one newline-terminated line, without the terminator.
// A trailing \r is stripped so clients may send either line ending. Blocks
// until data, EOF, or socket error; the caller owns read sequencing, so no
// read lock is needed.
func (c *lineConn) ReadLine() (string, error) {
	var builder strings.Builder
	for {
		// ReadSlice caps each step at the reader's buffer size, so the
		// length check runs before an oversized line can accumulate.
		chunk, err := c.reader.ReadSlice('\n')
		builder.Write(chunk)
		if builder.Len() > c.maxLine {
			return "", ErrLineTooLong
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return "", err
		}
		return strings.TrimRight(builder.String(), "\r\n"), nil
	}
}

// WriteLine writes one response line with the newline terminator appended,
// under the write deadline.
func (c *lineConn) WriteLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}

	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

// RemoteAddr returns the peer address.
func (c *lineConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection once; later calls are no-ops.
func (c *lineConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
