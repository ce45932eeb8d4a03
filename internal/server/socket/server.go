// Package socket serves the user API on a local stream socket for
// host-integrated authenticators. Each accepted connection is a full-duplex
// session whose requests are processed strictly in arrival order; only the
// verify and change_password methods exist here.
package socket

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/snasd/snas/internal/api"
	"github.com/snasd/snas/internal/handlers"
	"github.com/snasd/snas/internal/logging"
)

const writeTimeout = 5 * time.Second

// Server owns the listening socket and its socket file.
type Server struct {
	handlers *handlers.User
	path     string
	ln       net.Listener
	log      logging.Logger
}

// New binds the unix socket, unlinking any stale socket file first and
// restricting the new one to the owner.
func New(h *handlers.User, path string, log logging.Logger) (*Server, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket file: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding socket: %w", err)
	}
	if err := os.Chmod(path, 0o700); err != nil {
		ln.Close()
		return nil, fmt.Errorf("restricting socket permissions: %w", err)
	}
	return &Server{
		handlers: h,
		path:     path,
		ln:       ln,
		log:      log.With("module", "socket"),
	}, nil
}

// Run accepts connections until ctx is canceled, then closes the listener
// and removes the socket file.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	defer os.Remove(s.path)

	s.log.Info(ctx, "socket API listening", "path", s.path)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info(ctx, "stopping socket API")
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn runs one session. Requests are served sequentially, so a later
// response can never overtake an earlier one on the same connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := s.log.With("conn_id", uuid.NewString())
	log.Debug(ctx, "session opened")
	r := bufio.NewReader(conn)

	for {
		if ctx.Err() != nil {
			return
		}
		method, body, err := readRequest(conn, r)
		var bad *badRequestError
		switch {
		case errors.Is(err, errClosed):
			log.Debug(ctx, "client disconnected")
			return
		case errors.As(err, &bad):
			// Abandoned or malformed request: the client still gets a
			// response before we either continue or give up on the stream.
			derr := drainLeftover(conn, r)
			if errors.Is(derr, errClosed) {
				return
			}
			s.writeEnvelope(ctx, conn, log, false, bad.msg, nil)
			if derr != nil {
				log.Warn(ctx, "closing session", "err", derr)
				return
			}
			continue
		case err != nil:
			log.Error(ctx, "error reading from socket", "err", err)
			return
		}

		log.Debug(ctx, "received request", "method", method, "len", len(body))
		switch method {
		case "verify":
			s.handleVerify(ctx, conn, log, body)
		case "change_password":
			s.handleChangePassword(ctx, conn, log, body)
		default:
			s.writeEnvelope(ctx, conn, log, false, fmt.Sprintf("unknown method %s", method), nil)
		}
	}
}

func (s *Server) handleVerify(ctx context.Context, conn net.Conn, log logging.Logger, body []byte) {
	var req api.VerificationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeEnvelope(ctx, conn, log, false, "invalid request, unable to deserialize body", nil)
		return
	}
	result, err := s.handlers.Verify(ctx, req.Username, req.Password)
	if err != nil {
		s.writeEnvelope(ctx, conn, log, false, api.SanitizedMessage(err), nil)
		return
	}
	message := "Verification succeeded"
	if !result.Valid {
		message = "Verification failed"
	}
	s.writeEnvelope(ctx, conn, log, true, message, result)
}

func (s *Server) handleChangePassword(ctx context.Context, conn net.Conn, log logging.Logger, body []byte) {
	var req api.PasswordChangeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeEnvelope(ctx, conn, log, false, "invalid request, unable to deserialize body", nil)
		return
	}
	if err := s.handlers.ChangePassword(ctx, req.Username, req.OldPassword, req.NewPassword); err != nil {
		s.writeEnvelope(ctx, conn, log, false, api.SanitizedMessage(err), nil)
		return
	}
	s.writeEnvelope(ctx, conn, log, true, "password changed", nil)
}

func (s *Server) writeEnvelope(ctx context.Context, conn net.Conn, log logging.Logger, success bool, message string, response any) {
	payload, err := api.MarshalEnvelope(success, message, response)
	if err != nil {
		log.Error(ctx, "unable to serialize response", "err", err)
		payload = []byte(`{"success":false,"message":"internal error","response":null}`)
	}
	frame := make([]byte, 0, len(responseIdent)+len(payload)+len(terminator))
	frame = append(frame, responseIdent...)
	frame = append(frame, payload...)
	frame = append(frame, terminator...)

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		log.Error(ctx, "unable to set write deadline", "err", err)
		return
	}
	if _, err := conn.Write(frame); err != nil {
		log.Error(ctx, "unable to send response", "err", err)
	}
}
