package codec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snasd/snas/internal/common"
	"github.com/snasd/snas/internal/models"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rec  models.UserRecord
	}{
		{"basic", models.UserRecord{PasswordHash: "$argon2id$v=19$m=65536,t=1,p=4$abc$def", Groups: []string{"testers"}}},
		{"no groups", models.UserRecord{PasswordHash: "h", Groups: []string{}}},
		{"nil groups", models.UserRecord{PasswordHash: "h"}},
		{"reset flag", models.UserRecord{PasswordHash: "h", NeedsPasswordReset: true}},
		{"many groups", models.UserRecord{PasswordHash: "h", Groups: []string{"a", "b", "c", "d", "e"}}},
		{"utf8 group", models.UserRecord{PasswordHash: "h", Groups: []string{"ops", "админы"}}},
		{"empty hash", models.UserRecord{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(Encode(&tc.rec))
			require.NoError(t, err)
			assert.Equal(t, tc.rec.PasswordHash, got.PasswordHash)
			assert.Equal(t, tc.rec.NeedsPasswordReset, got.NeedsPasswordReset)
			assert.Equal(t, len(tc.rec.Groups), len(got.Groups))
			for i := range tc.rec.Groups {
				assert.Equal(t, tc.rec.Groups[i], got.Groups[i], "group order must be preserved")
			}
		})
	}
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	letters := "abcdefghijklmnopqrstuvwxyz0123456789-_"
	randStr := func(n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = letters[rng.Intn(len(letters))]
		}
		return string(b)
	}

	for i := 0; i < 200; i++ {
		rec := models.UserRecord{
			PasswordHash:       randStr(rng.Intn(200)),
			NeedsPasswordReset: rng.Intn(2) == 0,
		}
		for j := rng.Intn(8); j > 0; j-- {
			rec.Groups = append(rec.Groups, randStr(rng.Intn(32)+1))
		}
		got, err := Decode(Encode(&rec))
		require.NoError(t, err)
		assert.Equal(t, rec.PasswordHash, got.PasswordHash)
		assert.Equal(t, rec.NeedsPasswordReset, got.NeedsPasswordReset)
		assert.Equal(t, len(rec.Groups), len(got.Groups))
	}
}

func TestDeterministic(t *testing.T) {
	rec := models.UserRecord{PasswordHash: "h", Groups: []string{"b", "a"}, NeedsPasswordReset: true}
	assert.Equal(t, Encode(&rec), Encode(&rec))
}

func TestUnknownVersion(t *testing.T) {
	data := Encode(&models.UserRecord{PasswordHash: "h", Groups: []string{"g"}})
	data[0] = Version + 1

	_, err := Decode(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrCorruptRecord)
}

func TestTruncated(t *testing.T) {
	data := Encode(&models.UserRecord{PasswordHash: "somehash", Groups: []string{"g1", "g2"}})
	for i := 0; i < len(data); i++ {
		_, err := Decode(data[:i])
		assert.ErrorIs(t, err, common.ErrCorruptRecord, "truncation at %d", i)
	}
}

func TestTrailingBytesIgnored(t *testing.T) {
	rec := models.UserRecord{PasswordHash: "h", Groups: []string{"g"}}
	data := append(Encode(&rec), 0xde, 0xad, 0xbe, 0xef)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, rec.PasswordHash, got.PasswordHash)
}

func TestBogusGroupCount(t *testing.T) {
	rec := models.UserRecord{PasswordHash: "h"}
	data := Encode(&rec)
	// Overwrite the group count with a huge varint.
	data = data[:len(data)-1]
	data = append(data, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01)

	_, err := Decode(data)
	assert.ErrorIs(t, err, common.ErrCorruptRecord)
}

func TestEmptyValue(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, common.ErrCorruptRecord)
}
