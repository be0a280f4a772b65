package server

import (
	"bufio"
	"net"
	"strings"
	"sync"
)

// The wire format is whitespace-delimited, so free-text fields travel
// with spaces replaced by underscores and are restored on display.

func encodeToken(s string) string {
	return strings.ReplaceAll(s, " ", "_")
}

func decodeToken(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

// reasonToken turns a domain error message into a single wire token,
// e.g. "not enough stock" -> "NOT_ENOUGH_STOCK".
func reasonToken(err error) string {
	return strings.ToUpper(strings.ReplaceAll(err.Error(), " ", "_"))
}

// lineConn wraps a TCP connection with buffered line I/O. Writes are
// serialized so a connection's reply path and any asynchronous pusher
// never interleave partial lines.
type lineConn struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func newLineConn(conn net.Conn) *lineConn {
	return &lineConn{w: bufio.NewWriter(conn)}
}

func (lc *lineConn) writeLine(s string) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if _, err := lc.w.WriteString(s + "\n"); err != nil {
		return err
	}
	return lc.w.Flush()
}
