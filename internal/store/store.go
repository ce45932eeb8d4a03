// Package store projects user records onto a replicated JetStream KeyValue
// bucket. The bucket's compare-and-swap semantics are the only concurrency
// discipline: there is no internal locking, and callers may issue arbitrarily
// many concurrent operations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/sethvargo/go-retry"

	"github.com/snasd/snas/internal/codec"
	"github.com/snasd/snas/internal/common"
	"github.com/snasd/snas/internal/logging"
	"github.com/snasd/snas/internal/models"
	"github.com/snasd/snas/internal/passhash"
)

// Update retry budget: first attempt plus conflictRetries retries, with
// exponential backoff and jitter summing to well under 100ms.
const (
	conflictRetries = 4
	backoffBase     = 2 * time.Millisecond
	backoffJitter   = 3 * time.Millisecond
)

// Bucket is the subset of jetstream.KeyValue the store uses. It exists so
// tests can substitute an in-memory implementation.
type Bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Purge(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
	ListKeys(ctx context.Context, opts ...jetstream.WatchOpt) (jetstream.KeyLister, error)
}

// MutateFunc produces the next version of a record. It must be pure: the
// store re-applies it on compare-and-swap conflicts. Returning an error
// aborts the update and surfaces that error unchanged.
type MutateFunc func(models.UserRecord) (models.UserRecord, error)

// CredStore is the credential store over a KV bucket. Usernames are used
// verbatim as keys; values are codec-encoded records.
type CredStore struct {
	bucket Bucket
	hasher *passhash.Hasher
	log    logging.Logger
}

func New(bucket Bucket, hasher *passhash.Hasher, log logging.Logger) *CredStore {
	return &CredStore{
		bucket: bucket,
		hasher: hasher,
		log:    log.With("module", "store"),
	}
}

// HashPassword runs the store's password hasher. Mutators that replace a
// password use this to produce the stored form before entering the update
// loop, keeping the KDF out of the retried section.
func (s *CredStore) HashPassword(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("%w: hashing password: %v", common.ErrBackend, err)
	}
	return hash, nil
}

// VerifyPassword checks plaintext against a stored hash.
func (s *CredStore) VerifyPassword(plaintext, hash string) (bool, error) {
	return s.hasher.Verify(plaintext, hash)
}

// Get returns the record for username along with its revision.
func (s *CredStore) Get(ctx context.Context, username string) (*models.VersionedRecord, error) {
	entry, err := s.bucket.Get(ctx, username)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("%w: fetching record: %v", common.ErrBackend, err)
	}
	rec, err := codec.Decode(entry.Value())
	if err != nil {
		s.log.Error(ctx, "stored record is not decodable", "username", username, "err", err)
		return nil, err
	}
	return &models.VersionedRecord{
		Username: username,
		Record:   *rec,
		Revision: entry.Revision(),
	}, nil
}

// Create hashes the password and writes a fresh record. Creation is atomic:
// a concurrent create of the same username fails with ErrAlreadyExists.
func (s *CredStore) Create(ctx context.Context, username, password string, groups []string, needsReset bool) error {
	if username == "" {
		return fmt.Errorf("%w: username must not be empty", common.ErrInvalidInput)
	}
	if password == "" {
		return fmt.Errorf("%w: password must not be empty", common.ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("%w: hashing password: %v", common.ErrBackend, err)
	}
	rec := models.UserRecord{
		PasswordHash:       hash,
		Groups:             groups,
		NeedsPasswordReset: needsReset,
	}
	if _, err := s.bucket.Create(ctx, username, codec.Encode(&rec)); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("%w: creating record: %v", common.ErrBackend, err)
	}
	return nil
}

// Delete removes the record for username.
func (s *CredStore) Delete(ctx context.Context, username string) error {
	// Purge succeeds on absent keys, so check existence first to honor the
	// NotFound contract.
	if _, err := s.Get(ctx, username); err != nil && !errors.Is(err, common.ErrCorruptRecord) {
		return err
	}
	if err := s.bucket.Purge(ctx, username); err != nil {
		return fmt.Errorf("%w: deleting record: %v", common.ErrBackend, err)
	}
	return nil
}

// List returns all usernames in the bucket.
func (s *CredStore) List(ctx context.Context) ([]string, error) {
	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing records: %v", common.ErrBackend, err)
	}
	defer lister.Stop()
	users := []string{}
	for key := range lister.Keys() {
		users = append(users, key)
	}
	return users, nil
}

// Update reads the current record, applies mutate, and writes the result
// conditional on the revision it read. A revision mismatch means another
// writer raced; the read-mutate-write cycle is retried with exponential
// backoff until the budget is exhausted, then surfaces ErrConflict.
func (s *CredStore) Update(ctx context.Context, username string, mutate MutateFunc) (*models.VersionedRecord, error) {
	var out *models.VersionedRecord
	backoff := retry.WithMaxRetries(conflictRetries, retry.WithJitter(backoffJitter, retry.NewExponential(backoffBase)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := s.Get(ctx, username)
		if err != nil {
			return err
		}
		next, err := mutate(current.Record)
		if err != nil {
			return err
		}
		rev, err := s.bucket.Update(ctx, username, codec.Encode(&next), current.Revision)
		if err != nil {
			if isRevisionMismatch(err) {
				s.log.Debug(ctx, "revision conflict, retrying", "username", username)
				return retry.RetryableError(common.ErrConflict)
			}
			return fmt.Errorf("%w: writing record: %v", common.ErrBackend, err)
		}
		out = &models.VersionedRecord{Username: username, Record: next, Revision: rev}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// isRevisionMismatch reports whether err is the stream rejecting a write
// whose expected revision is stale.
func isRevisionMismatch(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
