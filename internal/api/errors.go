package api

import (
	"errors"

	"github.com/snasd/snas/internal/common"
)

// SanitizedMessage maps a handler error to the text that may cross the wire.
// Request-level failures keep their message; anything internal collapses to a
// fixed string so causes, keys, and stack detail never leak.
func SanitizedMessage(err error) string {
	switch {
	case errors.Is(err, common.ErrInvalidInput),
		errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrAlreadyExists),
		errors.Is(err, common.ErrAuthFailed):
		return err.Error()
	case errors.Is(err, common.ErrConflict):
		return "conflicting concurrent update, try again"
	default:
		return "internal error"
	}
}
