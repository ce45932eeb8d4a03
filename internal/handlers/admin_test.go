package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snasd/snas/internal/common"
	"github.com/snasd/snas/internal/logging"
	"github.com/snasd/snas/internal/passhash"
	"github.com/snasd/snas/internal/store"
	"github.com/snasd/snas/internal/store/storetest"
)

func newTestHandlers(t *testing.T, defaultGroups ...string) (*Admin, *User, *store.CredStore) {
	t.Helper()
	bucket := storetest.New()
	hasher := passhash.New(passhash.Params{Memory: 8, Time: 1, Threads: 1, KeyLen: 16})
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s := store.New(bucket, hasher, log)
	admin := NewAdmin(s, DefaultLimits(), defaultGroups, log)
	user, err := NewUser(s, DefaultLimits(), log)
	require.NoError(t, err)
	return admin, user, s
}

func TestAddAndGet(t *testing.T) {
	ctx := context.Background()
	admin, _, _ := newTestHandlers(t)

	require.NoError(t, admin.Add(ctx, "foo", "supersecure", []string{"testers", "testers"}, false))

	got, err := admin.Get(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "foo", got.Username)
	assert.Equal(t, []string{"testers"}, got.Groups, "duplicate groups collapse")
	assert.False(t, got.NeedsPasswordReset)
}

func TestAddDuplicate(t *testing.T) {
	ctx := context.Background()
	admin, _, _ := newTestHandlers(t)

	require.NoError(t, admin.Add(ctx, "foo", "pw", nil, false))
	assert.ErrorIs(t, admin.Add(ctx, "foo", "pw", nil, false), common.ErrAlreadyExists)
}

func TestAddDefaultGroups(t *testing.T) {
	ctx := context.Background()
	admin, _, _ := newTestHandlers(t, "everyone")

	require.NoError(t, admin.Add(ctx, "foo", "pw", nil, false))
	got, err := admin.Get(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"everyone"}, got.Groups)

	// An explicit group list wins over the defaults.
	require.NoError(t, admin.Add(ctx, "bar", "pw", []string{"ops"}, false))
	got, err = admin.Get(ctx, "bar")
	require.NoError(t, err)
	assert.Equal(t, []string{"ops"}, got.Groups)
}

func TestAddValidation(t *testing.T) {
	ctx := context.Background()
	admin, _, _ := newTestHandlers(t)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"empty username", "", "pw"},
		{"empty password", "foo", ""},
		{"oversize username", strings.Repeat("a", 65), "pw"},
		{"oversize password", "foo", strings.Repeat("a", 1025)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := admin.Add(ctx, tc.username, tc.password, nil, false)
			assert.ErrorIs(t, err, common.ErrInvalidInput)
		})
	}

	// Inputs exactly at the limits pass.
	err := admin.Add(ctx, strings.Repeat("a", 64), strings.Repeat("b", 1024), nil, false)
	assert.NoError(t, err)
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	admin, _, _ := newTestHandlers(t)

	require.NoError(t, admin.Add(ctx, "foo", "pw", nil, false))
	require.NoError(t, admin.Delete(ctx, "foo"))

	_, err := admin.Get(ctx, "foo")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, admin.Delete(ctx, "foo"), common.ErrNotFound)
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	admin, _, _ := newTestHandlers(t)

	require.NoError(t, admin.Add(ctx, "foo", "pw", nil, false))
	require.NoError(t, admin.Add(ctx, "bar", "pw", nil, false))

	users, err := admin.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"foo", "bar"}, users)
}

func TestGroupEditsAreSetSemantic(t *testing.T) {
	ctx := context.Background()
	admin, _, _ := newTestHandlers(t)
	require.NoError(t, admin.Add(ctx, "foo", "pw", []string{"base"}, false))

	got, err := admin.AddGroups(ctx, "foo", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "base"}, got.Groups)

	// Adding a present group is a no-op that still succeeds.
	got, err = admin.AddGroups(ctx, "foo", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "base"}, got.Groups)

	// Removing an absent group is a no-op that still succeeds.
	got, err = admin.RemoveGroups(ctx, "foo", []string{"nope"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "base"}, got.Groups)

	// add then remove of the same set restores the original.
	got, err = admin.RemoveGroups(ctx, "foo", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, got.Groups)
}

func TestGroupEditsMissingUser(t *testing.T) {
	ctx := context.Background()
	admin, _, _ := newTestHandlers(t)

	_, err := admin.AddGroups(ctx, "ghost", []string{"g"})
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = admin.RemoveGroups(ctx, "ghost", []string{"g"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestConcurrentGroupAdds(t *testing.T) {
	ctx := context.Background()
	admin, _, _ := newTestHandlers(t)
	require.NoError(t, admin.Add(ctx, "foo", "pw", nil, false))

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	want := make([]string, n)
	for i := 0; i < n; i++ {
		want[i] = fmt.Sprintf("g%02d", i)
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = admin.AddGroups(ctx, "foo", []string{want[i]})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "add_groups %d", i)
	}
	got, err := admin.Get(ctx, "foo")
	require.NoError(t, err)
	assert.Subset(t, got.Groups, want)
}

func TestSetPassword(t *testing.T) {
	ctx := context.Background()
	admin, user, _ := newTestHandlers(t)
	require.NoError(t, admin.Add(ctx, "foo", "oldpw", nil, false))

	require.NoError(t, admin.SetPassword(ctx, "foo", "newpw", true))

	res, err := user.Verify(ctx, "foo", "newpw")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.NeedsPasswordReset)

	res, err = user.Verify(ctx, "foo", "oldpw")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestSetPasswordValidation(t *testing.T) {
	ctx := context.Background()
	admin, _, _ := newTestHandlers(t)
	require.NoError(t, admin.Add(ctx, "foo", "pw", nil, false))

	assert.ErrorIs(t, admin.SetPassword(ctx, "foo", "", false), common.ErrInvalidInput)
	assert.ErrorIs(t, admin.SetPassword(ctx, "ghost", "pw2", false), common.ErrNotFound)
}

func TestForceReset(t *testing.T) {
	ctx := context.Background()
	admin, user, _ := newTestHandlers(t)
	require.NoError(t, admin.Add(ctx, "foo", "pw", nil, false))

	require.NoError(t, admin.ForceReset(ctx, "foo"))

	res, err := user.Verify(ctx, "foo", "pw")
	require.NoError(t, err)
	assert.True(t, res.Valid, "the password still verifies after a forced reset")
	assert.True(t, res.NeedsPasswordReset)

	assert.ErrorIs(t, admin.ForceReset(ctx, "ghost"), common.ErrNotFound)
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()
	admin, user, _ := newTestHandlers(t)
	require.NoError(t, admin.Add(ctx, "foo", "original", nil, false))

	temp, err := admin.ResetPassword(ctx, "foo")
	require.NoError(t, err)
	require.NotEmpty(t, temp)

	res, err := user.Verify(ctx, "foo", temp)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.NeedsPasswordReset)

	res, err = user.Verify(ctx, "foo", "original")
	require.NoError(t, err)
	assert.False(t, res.Valid)

	_, err = admin.ResetPassword(ctx, "ghost")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetNeverExposesHash(t *testing.T) {
	ctx := context.Background()
	admin, _, s := newTestHandlers(t)
	require.NoError(t, admin.Add(ctx, "foo", "pw", nil, false))

	vr, err := s.Get(ctx, "foo")
	require.NoError(t, err)
	require.NotEmpty(t, vr.Record.PasswordHash)

	got, err := admin.Get(ctx, "foo")
	require.NoError(t, err)
	assert.NotContains(t, fmt.Sprintf("%+v", got), vr.Record.PasswordHash)
}
