package handlers

import (
	"context"
	"fmt"

	"github.com/snasd/snas/internal/api"
	"github.com/snasd/snas/internal/common"
	"github.com/snasd/snas/internal/logging"
	"github.com/snasd/snas/internal/models"
	"github.com/snasd/snas/internal/store"
)

// tempPasswordBytes sizes the random temporary password minted by
// ResetPassword (hex-encoded, so twice this many characters).
const tempPasswordBytes = 16

// Admin implements the administrative operations. All methods are safe for
// concurrent use; mutations go through the store's compare-and-swap update.
type Admin struct {
	store         *store.CredStore
	limits        Limits
	defaultGroups []string
	log           logging.Logger
}

// NewAdmin configures the admin handler. defaultGroups are applied to new
// users created without an explicit group list.
func NewAdmin(s *store.CredStore, limits Limits, defaultGroups []string, log logging.Logger) *Admin {
	return &Admin{
		store:         s,
		limits:        limits,
		defaultGroups: normalizeGroups(defaultGroups),
		log:           log.With("module", "admin_handler"),
	}
}

// Add creates a user with the given password and groups. Duplicate usernames
// fail with ErrAlreadyExists; retrying clients must tolerate it.
func (a *Admin) Add(ctx context.Context, username, password string, groups []string, forceReset bool) error {
	if err := a.limits.checkUsername(username); err != nil {
		return err
	}
	if err := a.limits.checkPassword(password); err != nil {
		return err
	}
	set := normalizeGroups(groups)
	if len(set) == 0 {
		set = a.defaultGroups
	}
	if err := a.store.Create(ctx, username, password, set, forceReset); err != nil {
		return a.logged(ctx, "add", username, err)
	}
	a.log.Info(ctx, "user added", "username", username, "groups", set, "force_reset", forceReset)
	return nil
}

// Delete removes a user.
func (a *Admin) Delete(ctx context.Context, username string) error {
	if err := a.store.Delete(ctx, username); err != nil {
		return a.logged(ctx, "delete", username, err)
	}
	a.log.Info(ctx, "user deleted", "username", username)
	return nil
}

// List returns all usernames.
func (a *Admin) List(ctx context.Context) ([]string, error) {
	users, err := a.store.List(ctx)
	if err != nil {
		return nil, a.logged(ctx, "list", "", err)
	}
	return users, nil
}

// Get returns a user's record without the password hash.
func (a *Admin) Get(ctx context.Context, username string) (*api.UserSummary, error) {
	vr, err := a.store.Get(ctx, username)
	if err != nil {
		return nil, a.logged(ctx, "get", username, err)
	}
	return summarize(vr), nil
}

// AddGroups adds groups to a user and returns the updated record. Adding an
// already-present group is a no-op that still succeeds.
func (a *Admin) AddGroups(ctx context.Context, username string, groups []string) (*api.UserSummary, error) {
	vr, err := a.store.Update(ctx, username, func(rec models.UserRecord) (models.UserRecord, error) {
		rec.Groups = addToSet(rec.Groups, groups)
		return rec, nil
	})
	if err != nil {
		return nil, a.logged(ctx, "add_groups", username, err)
	}
	a.log.Info(ctx, "groups added", "username", username, "groups", groups)
	return summarize(vr), nil
}

// RemoveGroups removes groups from a user and returns the updated record.
// Removing an absent group is a no-op that still succeeds.
func (a *Admin) RemoveGroups(ctx context.Context, username string, groups []string) (*api.UserSummary, error) {
	vr, err := a.store.Update(ctx, username, func(rec models.UserRecord) (models.UserRecord, error) {
		rec.Groups = removeFromSet(rec.Groups, groups)
		return rec, nil
	})
	if err != nil {
		return nil, a.logged(ctx, "remove_groups", username, err)
	}
	a.log.Info(ctx, "groups removed", "username", username, "groups", groups)
	return summarize(vr), nil
}

// SetPassword replaces a user's password administratively. forceReset marks
// the account as requiring a change on next login.
func (a *Admin) SetPassword(ctx context.Context, username, newPassword string, forceReset bool) error {
	if err := a.limits.checkPassword(newPassword); err != nil {
		return err
	}
	hash, err := a.store.HashPassword(newPassword)
	if err != nil {
		return a.logged(ctx, "set_password", username, err)
	}
	_, err = a.store.Update(ctx, username, func(rec models.UserRecord) (models.UserRecord, error) {
		rec.PasswordHash = hash
		rec.NeedsPasswordReset = forceReset
		return rec, nil
	})
	if err != nil {
		return a.logged(ctx, "set_password", username, err)
	}
	a.log.Info(ctx, "password set", "username", username, "force_reset", forceReset)
	return nil
}

// ForceReset flags a user as requiring a password change before the account
// is usable again.
func (a *Admin) ForceReset(ctx context.Context, username string) error {
	_, err := a.store.Update(ctx, username, func(rec models.UserRecord) (models.UserRecord, error) {
		rec.NeedsPasswordReset = true
		return rec, nil
	})
	if err != nil {
		return a.logged(ctx, "force_reset", username, err)
	}
	a.log.Info(ctx, "reset forced", "username", username)
	return nil
}

// ResetPassword replaces the user's password with a random temporary one and
// flags the account for reset. The temporary password is returned once to
// the caller and exists nowhere else in readable form.
func (a *Admin) ResetPassword(ctx context.Context, username string) (string, error) {
	temp, err := common.MakeRandHexString(tempPasswordBytes)
	if err != nil {
		return "", a.logged(ctx, "reset_password", username, fmt.Errorf("%w: generating temporary password: %v", common.ErrBackend, err))
	}
	hash, err := a.store.HashPassword(temp)
	if err != nil {
		return "", a.logged(ctx, "reset_password", username, err)
	}
	_, err = a.store.Update(ctx, username, func(rec models.UserRecord) (models.UserRecord, error) {
		rec.PasswordHash = hash
		rec.NeedsPasswordReset = true
		return rec, nil
	})
	if err != nil {
		return "", a.logged(ctx, "reset_password", username, err)
	}
	a.log.Info(ctx, "password reset", "username", username)
	return temp, nil
}

// logged records backend and corruption failures at the handler boundary and
// passes the error through for the transport to sanitize.
func (a *Admin) logged(ctx context.Context, op, username string, err error) error {
	if common.IsInternal(err) {
		a.log.Error(ctx, "operation failed", "op", op, "username", username, "err", err)
	}
	return err
}

func summarize(vr *models.VersionedRecord) *api.UserSummary {
	return &api.UserSummary{
		Username:           vr.Username,
		Groups:             vr.Record.Groups,
		NeedsPasswordReset: vr.Record.NeedsPasswordReset,
	}
}
