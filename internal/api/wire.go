package api

import (
	"fmt"
	"strings"
)

// Subject prefixes for the messaging API. Deployments may override them, but
// these are the documented defaults.
const (
	DefaultAdminPrefix = "snas.admin"
	DefaultUserPrefix  = "snas.user"
)

// Socket framing. A request is `REQ\n<method>\n<json>\r\nEND\n`; a response
// is `RES\n<json>\r\nEND\n`. The terminator cannot occur inside the payload
// because conformant JSON encoders escape \r and \n inside strings.
const (
	SocketRequestIdent  = "REQ\n"
	SocketResponseIdent = "RES\n"
	SocketTerminator    = "\r\nEND\n"
)

// SanitizePrefix validates an override of a subject prefix, falling back to
// def when none is given. A prefix of the form `my.custom.topic` is accepted;
// a trailing period is not.
func SanitizePrefix(prefix, def string) (string, error) {
	if prefix == "" {
		return def, nil
	}
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return def, nil
	}
	if strings.HasSuffix(trimmed, ".") {
		return "", fmt.Errorf("subject prefix must not end with a period, e.g. my.custom.topic")
	}
	if strings.ContainsAny(trimmed, "*> \t") {
		return "", fmt.Errorf("subject prefix must not contain wildcards or whitespace")
	}
	return trimmed, nil
}
