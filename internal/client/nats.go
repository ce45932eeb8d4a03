// Package client provides programmatic access to a SNAS server over either
// of its transports. The NATS client speaks the full admin and user API; the
// socket client speaks the user API of a server on the same host.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/snasd/snas/internal/api"
)

// DefaultRequestTimeout bounds a single request/reply exchange.
const DefaultRequestTimeout = 3 * time.Second

// NatsClient talks to a SNAS cluster over the messaging fabric.
type NatsClient struct {
	nc          *nats.Conn
	adminPrefix string
	userPrefix  string
	timeout     time.Duration
}

// NewNatsClient wraps an established connection. Empty prefixes select the
// defaults; a zero timeout selects DefaultRequestTimeout.
func NewNatsClient(nc *nats.Conn, adminPrefix, userPrefix string, timeout time.Duration) (*NatsClient, error) {
	ap, err := api.SanitizePrefix(adminPrefix, api.DefaultAdminPrefix)
	if err != nil {
		return nil, err
	}
	up, err := api.SanitizePrefix(userPrefix, api.DefaultUserPrefix)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &NatsClient{nc: nc, adminPrefix: ap, userPrefix: up, timeout: timeout}, nil
}

// AddUser creates a user and returns the server's acknowledgement message.
func (c *NatsClient) AddUser(ctx context.Context, username, password string, groups []string, forceReset bool) (string, error) {
	req := api.UserAddRequest{Username: username, Password: password, Groups: groups, ForceReset: forceReset}
	return c.request(ctx, c.adminPrefix+".add_user", req, nil)
}

// DeleteUser removes a user.
func (c *NatsClient) DeleteUser(ctx context.Context, username string) (string, error) {
	return c.request(ctx, c.adminPrefix+".delete_user", api.UserDeleteRequest{Username: username}, nil)
}

// ListUsers returns all usernames.
func (c *NatsClient) ListUsers(ctx context.Context) ([]string, error) {
	var out api.UserListResponse
	if _, err := c.request(ctx, c.adminPrefix+".list_users", nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// GetUser returns a user record without the password hash.
func (c *NatsClient) GetUser(ctx context.Context, username string) (*api.UserSummary, error) {
	var out api.UserSummary
	if _, err := c.request(ctx, c.adminPrefix+".get_user", api.UserGetRequest{Username: username}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddGroups adds groups to a user, returning the updated record.
func (c *NatsClient) AddGroups(ctx context.Context, username string, groups []string) (*api.UserSummary, error) {
	var out api.UserSummary
	req := api.GroupModifyRequest{Username: username, Groups: groups}
	if _, err := c.request(ctx, c.adminPrefix+".add_groups", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveGroups removes groups from a user, returning the updated record.
func (c *NatsClient) RemoveGroups(ctx context.Context, username string, groups []string) (*api.UserSummary, error) {
	var out api.UserSummary
	req := api.GroupModifyRequest{Username: username, Groups: groups}
	if _, err := c.request(ctx, c.adminPrefix+".remove_groups", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPassword replaces a user's password administratively.
func (c *NatsClient) SetPassword(ctx context.Context, username, newPassword string, forceReset bool) (string, error) {
	req := api.PasswordSetRequest{Username: username, NewPassword: newPassword, ForceReset: forceReset}
	return c.request(ctx, c.adminPrefix+".set_password", req, nil)
}

// ForceReset marks a user as requiring a password change on next login.
func (c *NatsClient) ForceReset(ctx context.Context, username string) (string, error) {
	return c.request(ctx, c.adminPrefix+".force_reset", api.ForceResetRequest{Username: username}, nil)
}

// ResetPassword resets a user's password to a generated temporary one and
// returns it.
func (c *NatsClient) ResetPassword(ctx context.Context, username string) (string, error) {
	var out api.PasswordResetResponse
	if _, err := c.request(ctx, c.adminPrefix+".reset_password", api.PasswordResetRequest{Username: username}, &out); err != nil {
		return "", err
	}
	return out.TempPassword, nil
}

// Verify checks credentials. Invalid credentials are reported in the result,
// not as an error.
func (c *NatsClient) Verify(ctx context.Context, username, password string) (*api.VerificationResponse, error) {
	var out api.VerificationResponse
	req := api.VerificationRequest{Username: username, Password: password}
	if _, err := c.request(ctx, c.userPrefix+".verify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangePassword changes the user's own password.
func (c *NatsClient) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	req := api.PasswordChangeRequest{Username: username, OldPassword: oldPassword, NewPassword: newPassword}
	_, err := c.request(ctx, c.userPrefix+".change_password", req, nil)
	return err
}

// request performs one request/reply exchange and unpacks the envelope. A
// reply with success=false becomes an error carrying the server's message.
func (c *NatsClient) request(ctx context.Context, subject string, req, out any) (string, error) {
	var payload []byte
	if req != nil {
		var err error
		payload, err = json.Marshal(req)
		if err != nil {
			return "", fmt.Errorf("serializing request: %w", err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	msg, err := c.nc.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return "", fmt.Errorf("requesting %s: %w", subject, err)
	}
	var env api.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return "", fmt.Errorf("decoding reply: %w", err)
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
