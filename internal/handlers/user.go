package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/snasd/snas/internal/api"
	"github.com/snasd/snas/internal/common"
	"github.com/snasd/snas/internal/logging"
	"github.com/snasd/snas/internal/models"
	"github.com/snasd/snas/internal/store"
)

// User implements the end-user operations: credential verification and
// password changes.
type User struct {
	store  *store.CredStore
	limits Limits
	// dummyHash is verified against when the username does not exist, so the
	// response time of an unknown user matches that of a wrong password and
	// usernames cannot be enumerated by timing.
	dummyHash string
	log       logging.Logger
}

// NewUser configures the user handler. It pre-hashes a random throwaway
// password for the unknown-user path.
func NewUser(s *store.CredStore, limits Limits, log logging.Logger) (*User, error) {
	throwaway, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, fmt.Errorf("generating dummy password: %w", err)
	}
	dummy, err := s.HashPassword(throwaway)
	if err != nil {
		return nil, fmt.Errorf("hashing dummy password: %w", err)
	}
	return &User{
		store:     s,
		limits:    limits,
		dummyHash: dummy,
		log:       log.With("module", "user_handler"),
	}, nil
}

// Verify checks the given credentials. Invalid credentials are reported in
// the result, not as an error, and the result never reveals whether the
// username exists. The returned error is reserved for system failures.
func (u *User) Verify(ctx context.Context, username, password string) (*api.VerificationResponse, error) {
	invalid := &api.VerificationResponse{
		Valid:   false,
		Message: common.ErrAuthFailed.Error(),
		Groups:  []string{},
	}

	vr, err := u.store.Get(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// Burn the same amount of KDF work as the wrong-password path.
			if _, verr := u.store.VerifyPassword(password, u.dummyHash); verr != nil {
				u.log.Error(ctx, "dummy hash verification failed", "err", verr)
			}
			return invalid, nil
		}
		return nil, u.logged(ctx, "verify", username, err)
	}

	ok, err := u.store.VerifyPassword(password, vr.Record.PasswordHash)
	if err != nil {
		return nil, u.logged(ctx, "verify", username, err)
	}
	if !ok {
		return invalid, nil
	}

	groups := vr.Record.Groups
	if groups == nil {
		groups = []string{}
	}
	return &api.VerificationResponse{
		Valid:              true,
		NeedsPasswordReset: vr.Record.NeedsPasswordReset,
		Groups:             groups,
	}, nil
}

// ChangePassword replaces the user's own password after verifying the old
// one, clearing any pending reset flag. Failures do not reveal whether the
// username exists: a missing user and a wrong old password both surface
// ErrAuthFailed.
func (u *User) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if err := u.limits.checkPassword(newPassword); err != nil {
		return err
	}
	if newPassword == oldPassword {
		return fmt.Errorf("%w: new password must differ from the old password", common.ErrInvalidInput)
	}

	hash, err := u.store.HashPassword(newPassword)
	if err != nil {
		return u.logged(ctx, "change_password", username, err)
	}

	_, err = u.store.Update(ctx, username, func(rec models.UserRecord) (models.UserRecord, error) {
		ok, verr := u.store.VerifyPassword(oldPassword, rec.PasswordHash)
		if verr != nil {
			return rec, verr
		}
		if !ok {
			return rec, common.ErrAuthFailed
		}
		rec.PasswordHash = hash
		rec.NeedsPasswordReset = false
		return rec, nil
	})
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			if _, verr := u.store.VerifyPassword(oldPassword, u.dummyHash); verr != nil {
				u.log.Error(ctx, "dummy hash verification failed", "err", verr)
			}
			return common.ErrAuthFailed
		}
		return u.logged(ctx, "change_password", username, err)
	}
	u.log.Info(ctx, "password changed", "username", username)
	return nil
}

func (u *User) logged(ctx context.Context, op, username string, err error) error {
	if common.IsInternal(err) {
		u.log.Error(ctx, "operation failed", "op", op, "username", username, "err", err)
	}
	return err
}
