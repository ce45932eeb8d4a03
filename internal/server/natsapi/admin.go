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

// AdminServer serves the administrative API tree.
type AdminServer struct {
	nc       *nats.Conn
	handlers *handlers.Admin
	prefix   string
	log      logging.Logger
}

// NewAdminServer configures an admin server under the given subject prefix.
// An empty prefix selects api.DefaultAdminPrefix.
func NewAdminServer(nc *nats.Conn, h *handlers.Admin, prefix string, log logging.Logger) (*AdminServer, error) {
	p, err := api.SanitizePrefix(prefix, api.DefaultAdminPrefix)
	if err != nil {
		return nil, err
	}
	return &AdminServer{
		nc:       nc,
		handlers: h,
		prefix:   p,
		log:      log.With("module", "nats_admin"),
	}, nil
}

// Run subscribes and serves until ctx is canceled. The queue group is named
// after the prefix so that all servers sharing it load-balance.
func (s *AdminServer) Run(ctx context.Context) error {
	sub, err := s.nc.QueueSubscribe(s.prefix+".*", s.prefix, func(msg *nats.Msg) {
		go s.dispatch(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s.*: %w", s.prefix, err)
	}
	s.log.Info(ctx, "admin messaging API listening", "prefix", s.prefix)

	<-ctx.Done()
	s.log.Info(ctx, "stopping admin messaging API")
	return sub.Drain()
}

func (s *AdminServer) dispatch(ctx context.Context, msg *nats.Msg) {
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
func (s *AdminServer) handle(ctx context.Context, method string, body []byte) []byte {
	switch method {
	case "add_user":
		var req api.UserAddRequest
		if !s.decode(body, &req) {
			return s.badRequest(ctx)
		}
		if err := s.handlers.Add(ctx, req.Username, req.Password, req.Groups, req.ForceReset); err != nil {
			return s.failure(ctx, err)
		}
		return s.success(ctx, fmt.Sprintf("User %s added", req.Username), nil)

	case "delete_user":
		var req api.UserDeleteRequest
		if !s.decode(body, &req) {
			return s.badRequest(ctx)
		}
		if err := s.handlers.Delete(ctx, req.Username); err != nil {
			return s.failure(ctx, err)
		}
		return s.success(ctx, fmt.Sprintf("User %s deleted", req.Username), nil)

	case "list_users":
		users, err := s.handlers.List(ctx)
		if err != nil {
			return s.failure(ctx, err)
		}
		return s.success(ctx, "", api.UserListResponse{Users: users})

	case "get_user":
		var req api.UserGetRequest
		if !s.decode(body, &req) {
			return s.badRequest(ctx)
		}
		user, err := s.handlers.Get(ctx, req.Username)
		if err != nil {
			return s.failure(ctx, err)
		}
		return s.success(ctx, "", user)

	case "add_groups":
		var req api.GroupModifyRequest
		if !s.decode(body, &req) {
			return s.badRequest(ctx)
		}
		user, err := s.handlers.AddGroups(ctx, req.Username, req.Groups)
		if err != nil {
			return s.failure(ctx, err)
		}
		return s.success(ctx, fmt.Sprintf("Updated groups for user %s", req.Username), user)

	case "remove_groups":
		var req api.GroupModifyRequest
		if !s.decode(body, &req) {
			return s.badRequest(ctx)
		}
		user, err := s.handlers.RemoveGroups(ctx, req.Username, req.Groups)
		if err != nil {
			return s.failure(ctx, err)
		}
		return s.success(ctx, fmt.Sprintf("Updated groups for user %s", req.Username), user)

	case "set_password":
		var req api.PasswordSetRequest
		if !s.decode(body, &req) {
			return s.badRequest(ctx)
		}
		if err := s.handlers.SetPassword(ctx, req.Username, req.NewPassword, req.ForceReset); err != nil {
			return s.failure(ctx, err)
		}
		return s.success(ctx, fmt.Sprintf("Password set for user %s", req.Username), nil)

	case "force_reset":
		var req api.ForceResetRequest
		if !s.decode(body, &req) {
			return s.badRequest(ctx)
		}
		if err := s.handlers.ForceReset(ctx, req.Username); err != nil {
			return s.failure(ctx, err)
		}
		return s.success(ctx, fmt.Sprintf("Password reset required for user %s", req.Username), nil)

	case "reset_password":
		var req api.PasswordResetRequest
		if !s.decode(body, &req) {
			return s.badRequest(ctx)
		}
		temp, err := s.handlers.ResetPassword(ctx, req.Username)
		if err != nil {
			return s.failure(ctx, err)
		}
		return s.success(ctx, fmt.Sprintf("Password reset for user %s", req.Username), api.PasswordResetResponse{TempPassword: temp})

	default:
		s.log.Debug(ctx, "unknown method requested", "method", method)
		return marshalEnvelope(ctx, s.log, false, fmt.Sprintf("unknown api method %s", method), nil)
	}
}

func (s *AdminServer) decode(body []byte, v any) bool {
	return json.Unmarshal(body, v) == nil
}

func (s *AdminServer) badRequest(ctx context.Context) []byte {
	return marshalEnvelope(ctx, s.log, false, "invalid request, unable to deserialize body", nil)
}

func (s *AdminServer) failure(ctx context.Context, err error) []byte {
	return marshalEnvelope(ctx, s.log, false, api.SanitizedMessage(err), nil)
}

func (s *AdminServer) success(ctx context.Context, message string, response any) []byte {
	return marshalEnvelope(ctx, s.log, true, message, response)
}
