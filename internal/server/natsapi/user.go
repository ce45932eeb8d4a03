package natsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/snasd/snas/internal/api"
	"github.com/snasd/snas/internal/handlers"
	"github.com/snasd/snas/internal/logging"
)

// UserServer serves the end-user API tree: verify and change_password.
type UserServer struct {
	nc       *nats.Conn
	handlers *handlers.User
	prefix   string
	log      logging.Logger
}

// NewUserServer configures a user server under the given subject prefix. An
// empty prefix selects api.DefaultUserPrefix. When an admin server runs too, the
// two prefixes must differ.
func NewUserServer(nc *nats.Conn, h *handlers.User, prefix string, log logging.Logger) (*UserServer, error) {
	p, err := api.SanitizePrefix(prefix, api.DefaultUserPrefix)
	if err != nil {
		return nil, err
	}
	return &UserServer{
		nc:       nc,
		handlers: h,
		prefix:   p,
		log:      log.With("module", "nats_user"),
	}, nil
}

// Run subscribes and serves until ctx is canceled.
func (s *UserServer) Run(ctx context.Context) error {
	sub, err := s.nc.QueueSubscribe(s.prefix+".*", s.prefix, func(msg *nats.Msg) {
		// Hashing is CPU-bound, so every request gets its own goroutine and
		// the subscription callback never blocks behind the KDF.
		go s.dispatch(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s.*: %w", s.prefix, err)
	}
	s.log.Info(ctx, "user messaging API listening", "prefix", s.prefix)

	<-ctx.Done()
	s.log.Info(ctx, "stopping user messaging API")
	return sub.Drain()
}

func (s *UserServer) dispatch(ctx context.Context, msg *nats.Msg) {
	method := strings.TrimPrefix(msg.Subject, s.prefix+".")
	reply := s.handle(ctx, method, msg.Data)
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		s.log.Error(ctx, "unable to send reply", "method", method, "err", err)
	}
}

// handle runs one method and returns the serialized reply envelope.
func (s *UserServer) handle(ctx context.Context, method string, body []byte) []byte {
	switch method {
	case "verify":
		var req api.VerificationRequest
		if json.Unmarshal(body, &req) != nil {
			return marshalEnvelope(ctx, s.log, false, "invalid request, unable to deserialize body", nil)
		}
		result, err := s.handlers.Verify(ctx, req.Username, req.Password)
		if err != nil {
			return marshalEnvelope(ctx, s.log, false, api.SanitizedMessage(err), nil)
		}
		message := "Verification succeeded"
		if !result.Valid {
			message = "Verification failed"
		}
		return marshalEnvelope(ctx, s.log, true, message, result)

	case "change_password":
		var req api.PasswordChangeRequest
		if json.Unmarshal(body, &req) != nil {
			return marshalEnvelope(ctx, s.log, false, "invalid request, unable to deserialize body", nil)
		}
		if err := s.handlers.ChangePassword(ctx, req.Username, req.OldPassword, req.NewPassword); err != nil {
			return marshalEnvelope(ctx, s.log, false, api.SanitizedMessage(err), nil)
		}
		return marshalEnvelope(ctx, s.log, true, "password changed", nil)

	default:
		s.log.Debug(ctx, "unknown method requested", "method", method)
		return marshalEnvelope(ctx, s.log, false, fmt.Sprintf("unknown api method %s", method), nil)
	}
}
