package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/snasd/snas/internal/api"
)

// SocketClient talks to a SNAS server over its local stream socket. It is
// not safe for concurrent use: the protocol forbids pipelining, so callers
// must serialize requests themselves.
type SocketClient struct {
	conn net.Conn
	r    *bufio.Reader
}

// DialSocket connects to the socket at path.
func DialSocket(path string) (*SocketClient, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dialing socket: %w", err)
	}
	return &SocketClient{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Close closes the session.
func (c *SocketClient) Close() error {
	return c.conn.Close()
}

// Verify checks credentials. Invalid credentials are reported in the result,
// not as an error.
func (c *SocketClient) Verify(username, password string) (*api.VerificationResponse, error) {
	var out api.VerificationResponse
	req := api.VerificationRequest{Username: username, Password: password}
	if _, err := c.roundTrip("verify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangePassword changes the user's own password.
func (c *SocketClient) ChangePassword(username, oldPassword, newPassword string) error {
	req := api.PasswordChangeRequest{Username: username, OldPassword: oldPassword, NewPassword: newPassword}
	_, err := c.roundTrip("change_password", req, nil)
	return err
}

// roundTrip writes one request frame and reads the matching response frame.
func (c *SocketClient) roundTrip(method string, req, out any) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("serializing request: %w", err)
	}
	frame := make([]byte, 0, len(api.SocketRequestIdent)+len(method)+1+len(payload)+len(api.SocketTerminator))
	frame = append(frame, api.SocketRequestIdent...)
	frame = append(frame, method...)
	frame = append(frame, '\n')
	frame = append(frame, payload...)
	frame = append(frame, api.SocketTerminator...)
	if _, err := c.conn.Write(frame); err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}

	env, err := c.readResponse()
	if err != nil {
		return "", err
	}
	if !env.Success {
		return "", fmt.Errorf("request failed: %s", env.Message)
	}
	if out != nil && len(env.Response) > 0 && string(env.Response) != "null" {
		if err := json.Unmarshal(env.Response, out); err != nil {
			return "", fmt.Errorf("decoding response payload: %w", err)
		}
	}
	return env.Message, nil
}

func (c *SocketClient) readResponse() (*api.Envelope, error) {
	ident := make([]byte, len(api.SocketResponseIdent))
	if _, err := io.ReadFull(c.r, ident); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if string(ident) != api.SocketResponseIdent {
		return nil, fmt.Errorf("invalid response identifier %q", ident)
	}
	payload, err := c.r.ReadBytes('\r')
	if err != nil {
		return nil, fmt.Errorf("reading response payload: %w", err)
	}
	payload = payload[:len(payload)-1]
	tail := make([]byte, len(api.SocketTerminator)-1)
	if _, err := io.ReadFull(c.r, tail); err != nil {
		return nil, fmt.Errorf("reading response terminator: %w", err)
	}
	if string(tail) != api.SocketTerminator[1:] {
		return nil, fmt.Errorf("invalid response terminator")
	}
	var env api.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decoding response envelope: %w", err)
	}
	return &env, nil
}
