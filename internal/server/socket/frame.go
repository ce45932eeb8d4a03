package socket

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/snasd/snas/internal/api"
)

// Wire constants, shared with the socket client through the api package.
const (
	requestIdent  = api.SocketRequestIdent
	responseIdent = api.SocketResponseIdent
	terminator    = api.SocketTerminator
)

const (
	// misbehavingLimit caps how much garbage is drained after a malformed
	// request before the connection is dropped.
	misbehavingLimit = 2048
	// frameReadTimeout bounds each read inside a partially received frame.
	frameReadTimeout = 500 * time.Millisecond
	// drainTimeout bounds the wait for leftover garbage after a bad request.
	drainTimeout = 300 * time.Millisecond
)

// errClosed reports a client that went away; the session ends silently.
var errClosed = errors.New("connection closed")

// badRequestError is a protocol violation on an otherwise healthy
// connection. The session answers with a failure response and continues.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

// readRequest parses one request frame. It blocks indefinitely for the start
// of a frame; once the identifier has arrived, each subsequent read must
// complete within frameReadTimeout or the request is abandoned as bad.
func readRequest(conn net.Conn, r *bufio.Reader) (string, []byte, error) {
	var ident [len(requestIdent)]byte
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return "", nil, err
	}
	if _, err := io.ReadFull(r, ident[:]); err != nil {
		return "", nil, classifyReadError(err)
	}
	if string(ident[:]) != requestIdent {
		return "", nil, &badRequestError{fmt.Sprintf("invalid request identifier %q", ident)}
	}

	if err := conn.SetReadDeadline(time.Now().Add(frameReadTimeout)); err != nil {
		return "", nil, err
	}
	method, err := r.ReadString('\n')
	if err != nil {
		return "", nil, classifyReadError(err)
	}
	method = method[:len(method)-1]
	if method == "" {
		return "", nil, &badRequestError{"method was empty"}
	}
	if !isPrintableASCII(method) {
		return "", nil, &badRequestError{"method is not printable ASCII"}
	}

	if err := conn.SetReadDeadline(time.Now().Add(frameReadTimeout)); err != nil {
		return "", nil, err
	}
	body, err := r.ReadBytes('\r')
	if err != nil {
		return "", nil, classifyReadError(err)
	}
	body = body[:len(body)-1]

	if err := conn.SetReadDeadline(time.Now().Add(frameReadTimeout)); err != nil {
		return "", nil, err
	}
	var tail [len(terminator) - 1]byte
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return "", nil, classifyReadError(err)
	}
	if string(tail[:]) != terminator[1:] {
		return "", nil, &badRequestError{"invalid terminator"}
	}

	return method, body, nil
}

// drainLeftover clears out whatever a misbehaving client sent after a
// malformed request so the next frame can be parsed from a clean stream.
// Reaching misbehavingLimit bytes of garbage is fatal for the connection.
func drainLeftover(conn net.Conn, r *bufio.Reader) error {
	consumed := r.Buffered()
	if consumed > 0 {
		if _, err := r.Discard(consumed); err != nil {
			return err
		}
	}
	if consumed >= misbehavingLimit {
		return fmt.Errorf("aborting connection due to too much garbage data")
	}

	remaining := misbehavingLimit - consumed
	buf := make([]byte, remaining)
	if err := conn.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
		return err
	}
	n, err := conn.Read(buf)
	switch {
	case errors.Is(err, io.EOF):
		return errClosed
	case err != nil:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			// Nothing more arrived within the window; the stream is clean.
			return nil
		}
		return err
	case n == remaining:
		return fmt.Errorf("aborting connection due to too much garbage data")
	default:
		return nil
	}
}

func classifyReadError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errClosed
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &badRequestError{"timed out reading request"}
	}
	return err
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
