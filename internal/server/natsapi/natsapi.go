// Package natsapi exposes the admin and user handlers as request/reply
// endpoints on the messaging fabric. Each API tree is one queue-group
// subscription on `<prefix>.*`; the method is the final subject token, the
// payloads are JSON, and every reply is an api.Envelope. Multiple server
// processes subscribing under the same prefix form a load-balanced cluster.
package natsapi

import (
	"context"

	"github.com/snasd/snas/internal/api"
	"github.com/snasd/snas/internal/logging"
)

// marshalEnvelope serializes an envelope around a response payload, downgrading
// to a generic failure if the payload itself cannot be serialized.
func marshalEnvelope(ctx context.Context, log logging.Logger, success bool, message string, response any) []byte {
	data, err := api.MarshalEnvelope(success, message, response)
	if err != nil {
		log.Error(ctx, "unable to serialize response payload", "err", err)
		return []byte(`{"success":false,"message":"internal error","response":null}`)
	}
	return data
}
