// Package codec implements the binary encoding of user records stored as KV
// values. The layout is a version byte followed by the record fields:
//
//	0x01
//	uvarint(len) || password hash bytes
//	0x00 or 0x01 (needs password reset)
//	uvarint(group count) { uvarint(len) || group bytes }...
//
// Bytes after the known fields are ignored when decoding, so a later format
// revision can append fields without bumping the version. An unknown version
// byte fails decoding outright.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/snasd/snas/internal/common"
	"github.com/snasd/snas/internal/models"
)

// Version is the current format tag written as the first byte of every value.
const Version byte = 0x01

// Encode serializes a record. The output is deterministic for a given record;
// group order is preserved.
func Encode(rec *models.UserRecord) []byte {
	size := 1 + binary.MaxVarintLen64*2 + len(rec.PasswordHash) + 1
	for _, g := range rec.Groups {
		size += binary.MaxVarintLen64 + len(g)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, Version)
	buf = appendString(buf, rec.PasswordHash)
	if rec.NeedsPasswordReset {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.AppendUvarint(buf, uint64(len(rec.Groups)))
	for _, g := range rec.Groups {
		buf = appendString(buf, g)
	}
	return buf
}

// Decode parses a serialized record. Any malformed input, including an
// unknown version tag, yields common.ErrCorruptRecord.
func Decode(data []byte) (*models.UserRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty value", common.ErrCorruptRecord)
	}
	if data[0] != Version {
		return nil, fmt.Errorf("%w: unknown format version %d", common.ErrCorruptRecord, data[0])
	}
	rest := data[1:]

	hash, rest, err := readString(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: password hash: %v", common.ErrCorruptRecord, err)
	}
	if len(rest) == 0 {
		return nil, fmt.Errorf("%w: missing reset flag", common.ErrCorruptRecord)
	}
	var reset bool
	switch rest[0] {
	case 0:
		reset = false
	case 1:
		reset = true
	default:
		return nil, fmt.Errorf("%w: invalid reset flag %d", common.ErrCorruptRecord, rest[0])
	}
	rest = rest[1:]

	count, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, fmt.Errorf("%w: group count", common.ErrCorruptRecord)
	}
	rest = rest[n:]
	if count > uint64(len(rest)) {
		// Each group needs at least one length byte, so the count can never
		// exceed the remaining payload.
		return nil, fmt.Errorf("%w: group count %d exceeds payload", common.ErrCorruptRecord, count)
	}
	groups := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		var g string
		g, rest, err = readString(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: group %d: %v", common.ErrCorruptRecord, i, err)
		}
		groups = append(groups, g)
	}

	return &models.UserRecord{
		PasswordHash:       hash,
		Groups:             groups,
		NeedsPasswordReset: reset,
	}, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func readString(data []byte) (string, []byte, error) {
	l, n := binary.Uvarint(data)
	if n <= 0 {
		return "", nil, fmt.Errorf("bad length prefix")
	}
	data = data[n:]
	if l > uint64(len(data)) {
		return "", nil, fmt.Errorf("length %d exceeds remaining %d bytes", l, len(data))
	}
	return string(data[:l]), data[l:], nil
}
