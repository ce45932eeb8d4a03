// Package handlers implements the admin and user operations against the
// credential store. Handlers take plain values and return plain values;
// envelope construction is the transports' job, which keeps these functions
// directly testable without either transport running.
package handlers

import (
	"fmt"
	"slices"

	"github.com/snasd/snas/internal/common"
)

// Limits bounds the accepted sizes of usernames and passwords, in bytes.
type Limits struct {
	MaxUsernameBytes int
	MaxPasswordBytes int
}

// DefaultLimits returns the standard input bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxUsernameBytes: 64,
		MaxPasswordBytes: 1024,
	}
}

func (l Limits) checkUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: username must not be empty", common.ErrInvalidInput)
	}
	if len(username) > l.MaxUsernameBytes {
		return fmt.Errorf("%w: username exceeds %d bytes", common.ErrInvalidInput, l.MaxUsernameBytes)
	}
	return nil
}

func (l Limits) checkPassword(password string) error {
	if password == "" {
		return fmt.Errorf("%w: password must not be empty", common.ErrInvalidInput)
	}
	if len(password) > l.MaxPasswordBytes {
		return fmt.Errorf("%w: password exceeds %d bytes", common.ErrInvalidInput, l.MaxPasswordBytes)
	}
	return nil
}

// normalizeGroups collapses duplicates and sorts. Group membership is a set;
// the sorted order just keeps stored records and responses stable.
func normalizeGroups(groups []string) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if g == "" {
			continue
		}
		out = append(out, g)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// addToSet returns the union of groups and add, normalized.
func addToSet(groups, add []string) []string {
	return normalizeGroups(append(slices.Clone(groups), add...))
}

// removeFromSet returns groups minus remove, normalized. Removing an absent
// group is a no-op.
func removeFromSet(groups, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, g := range remove {
		drop[g] = struct{}{}
	}
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if _, ok := drop[g]; !ok {
			out = append(out, g)
		}
	}
	return normalizeGroups(out)
}
