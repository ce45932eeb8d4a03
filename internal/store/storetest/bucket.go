// Package storetest provides an in-memory store.Bucket for tests. It mimics
// the compare-and-swap behavior of a JetStream KeyValue bucket, including the
// error values the real client returns, and supports fault injection.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

type record struct {
	value    []byte
	revision uint64
}

// Bucket is a threadsafe fake KV bucket. The zero value is not usable; call
// New.
type Bucket struct {
	mu   sync.Mutex
	seq  uint64
	data map[string]*record

	// Error overrides. When set, the corresponding operation fails with the
	// given error before touching data.
	GetErr    error
	CreateErr error
	UpdateErr error
	PurgeErr  error
	ListErr   error

	// ConflictNext makes the next N Update calls fail with a revision
	// mismatch, as if another writer raced.
	ConflictNext int
}

func New() *Bucket {
	return &Bucket{data: make(map[string]*record)}
}

// Seed inserts a value directly, bypassing CAS. Returns the new revision.
func (b *Bucket) Seed(key string, value []byte) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.data[key] = &record{value: value, revision: b.seq}
	return b.seq
}

// Revision returns the current revision for key, or 0 if absent.
func (b *Bucket) Revision(key string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.data[key]; ok {
		return rec.revision
	}
	return 0
}

func (b *Bucket) Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.GetErr != nil {
		return nil, b.GetErr
	}
	rec, ok := b.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &entry{key: key, value: rec.value, revision: rec.revision}, nil
}

func (b *Bucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CreateErr != nil {
		return 0, b.CreateErr
	}
	if _, ok := b.data[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	b.seq++
	b.data[key] = &record{value: value, revision: b.seq}
	return b.seq, nil
}

func (b *Bucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.UpdateErr != nil {
		return 0, b.UpdateErr
	}
	if b.ConflictNext > 0 {
		b.ConflictNext--
		return 0, wrongLastSequence()
	}
	rec, ok := b.data[key]
	if !ok || rec.revision != revision {
		return 0, wrongLastSequence()
	}
	b.seq++
	b.data[key] = &record{value: value, revision: b.seq}
	return b.seq, nil
}

func (b *Bucket) Purge(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PurgeErr != nil {
		return b.PurgeErr
	}
	delete(b.data, key)
	b.seq++
	return nil
}

func (b *Bucket) ListKeys(ctx context.Context, opts ...jetstream.WatchOpt) (jetstream.KeyLister, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	ch := make(chan string, len(b.data))
	for key := range b.data {
		ch <- key
	}
	close(ch)
	return &lister{ch: ch}, nil
}

func wrongLastSequence() error {
	return &jetstream.APIError{
		ErrorCode:   jetstream.JSErrCodeStreamWrongLastSequence,
		Description: "wrong last sequence",
	}
}

type entry struct {
	key      string
	value    []byte
	revision uint64
}

func (e *entry) Bucket() string                  { return "storetest" }
func (e *entry) Key() string                     { return e.key }
func (e *entry) Value() []byte                   { return e.value }
func (e *entry) Revision() uint64                { return e.revision }
func (e *entry) Created() time.Time              { return time.Time{} }
func (e *entry) Delta() uint64                   { return 0 }
func (e *entry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

type lister struct {
	ch chan string
}

func (l *lister) Keys() <-chan string { return l.ch }
func (l *lister) Stop() error         { return nil }
