package socket

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snasd/snas/internal/api"
	"github.com/snasd/snas/internal/handlers"
	"github.com/snasd/snas/internal/logging"
	"github.com/snasd/snas/internal/passhash"
	"github.com/snasd/snas/internal/store"
	"github.com/snasd/snas/internal/store/storetest"
)

func newSocketServer(t *testing.T) (*Server, *handlers.Admin, string, context.CancelFunc) {
	t.Helper()
	bucket := storetest.New()
	hasher := passhash.New(passhash.Params{Memory: 8, Time: 1, Threads: 1, KeyLen: 16})
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s := store.New(bucket, hasher, log)
	admin := handlers.NewAdmin(s, handlers.DefaultLimits(), nil, log)
	user, err := handlers.NewUser(s, handlers.DefaultLimits(), log)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snas.sock")
	srv, err := New(user, path, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, admin, path, cancel
}

func sendRequest(t *testing.T, conn net.Conn, method string, body any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	_, err = fmt.Fprintf(conn, "%s%s\n%s%s", requestIdent, method, payload, terminator)
	require.NoError(t, err)
}

func readResponse(t *testing.T, r *bufio.Reader) api.Envelope {
	t.Helper()
	ident := make([]byte, len(responseIdent))
	_, err := io.ReadFull(r, ident)
	require.NoError(t, err)
	require.Equal(t, responseIdent, string(ident))

	payload, err := r.ReadBytes('\r')
	require.NoError(t, err)
	payload = payload[:len(payload)-1]

	tail := make([]byte, len(terminator)-1)
	_, err = io.ReadFull(r, tail)
	require.NoError(t, err)
	require.Equal(t, terminator[1:], string(tail))

	var env api.Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	return env
}

func TestSocketVerifySession(t *testing.T) {
	_, admin, path, _ := newSocketServer(t)
	require.NoError(t, admin.Add(context.Background(), "foo", "supersecure", []string{"testers"}, false))

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	sendRequest(t, conn, "verify", api.VerificationRequest{Username: "foo", Password: "supersecure"})
	env := readResponse(t, r)
	assert.True(t, env.Success)
	var vres api.VerificationResponse
	require.NoError(t, json.Unmarshal(env.Response, &vres))
	assert.True(t, vres.Valid)
	assert.Equal(t, []string{"testers"}, vres.Groups)

	// The connection is reusable; the second response arrives in order.
	sendRequest(t, conn, "verify", api.VerificationRequest{Username: "foo", Password: "wrong"})
	env = readResponse(t, r)
	assert.True(t, env.Success)
	require.NoError(t, json.Unmarshal(env.Response, &vres))
	assert.False(t, vres.Valid)
	assert.Equal(t, "invalid credentials", vres.Message)
}

func TestSocketChangePassword(t *testing.T) {
	_, admin, path, _ := newSocketServer(t)
	require.NoError(t, admin.Add(context.Background(), "bar", "temp123", nil, true))

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	sendRequest(t, conn, "change_password", api.PasswordChangeRequest{Username: "bar", OldPassword: "temp123", NewPassword: "newpass"})
	env := readResponse(t, r)
	assert.True(t, env.Success)
	assert.Equal(t, "password changed", env.Message)

	sendRequest(t, conn, "verify", api.VerificationRequest{Username: "bar", Password: "newpass"})
	env = readResponse(t, r)
	var vres api.VerificationResponse
	require.NoError(t, json.Unmarshal(env.Response, &vres))
	assert.True(t, vres.Valid)
	assert.False(t, vres.NeedsPasswordReset)
}

func TestSocketUnknownMethod(t *testing.T) {
	_, _, path, _ := newSocketServer(t)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	sendRequest(t, conn, "delete_user", api.UserDeleteRequest{Username: "foo"})
	env := readResponse(t, r)
	assert.False(t, env.Success)
	assert.Equal(t, "unknown method delete_user", env.Message)
}

func TestSocketMalformedPayload(t *testing.T) {
	_, _, path, _ := newSocketServer(t)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	_, err = fmt.Fprintf(conn, "%sverify\n%s%s", requestIdent, "\xff\xfenot json", terminator)
	require.NoError(t, err)
	env := readResponse(t, r)
	assert.False(t, env.Success)
	assert.Equal(t, "invalid request, unable to deserialize body", env.Message)

	// The session survives and serves the next request.
	sendRequest(t, conn, "verify", api.VerificationRequest{Username: "ghost", Password: "x"})
	env = readResponse(t, r)
	assert.True(t, env.Success)
}

func TestSocketAbandonedRequestGetsResponse(t *testing.T) {
	_, _, path, _ := newSocketServer(t)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	// Half a frame, then silence: the server must answer with a failure
	// rather than closing wordlessly.
	_, err = conn.Write([]byte(requestIdent + "verify\n"))
	require.NoError(t, err)
	env := readResponse(t, r)
	assert.False(t, env.Success)
}

func TestSocketPipelinedRequestsAnsweredInOrder(t *testing.T) {
	_, admin, path, _ := newSocketServer(t)
	require.NoError(t, admin.Add(context.Background(), "foo", "pw", nil, false))

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	// Clients must not pipeline; a server may still answer in order, which
	// is what this one does.
	sendRequest(t, conn, "verify", api.VerificationRequest{Username: "foo", Password: "pw"})
	sendRequest(t, conn, "verify", api.VerificationRequest{Username: "foo", Password: "wrong"})

	first := readResponse(t, r)
	second := readResponse(t, r)
	var v1, v2 api.VerificationResponse
	require.NoError(t, json.Unmarshal(first.Response, &v1))
	require.NoError(t, json.Unmarshal(second.Response, &v2))
	assert.True(t, v1.Valid, "first response matches first request")
	assert.False(t, v2.Valid, "second response matches second request")
}

func TestSocketFilePermissionsAndCleanup(t *testing.T) {
	_, _, path, cancel := newSocketServer(t)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	cancel()
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond, "socket file removed on shutdown")
}

func TestSocketStaleFileUnlinkedOnBind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stale.sock")

	// A dead socket file left by a previous process.
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	ln.Close()
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	bucket := storetest.New()
	s := store.New(bucket, passhash.New(passhash.Params{Memory: 8, Time: 1, Threads: 1, KeyLen: 16}), log)
	user, err := handlers.NewUser(s, handlers.DefaultLimits(), log)
	require.NoError(t, err)

	srv, err := New(user, path, log)
	require.NoError(t, err)
	srv.ln.Close()
	os.Remove(path)
}
