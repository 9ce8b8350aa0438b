// Package dedupe remembers recently seen content id fingerprints so a
// fingerprint can only be used for a single published event.
//
// The window is bounded by capacity, not by time: once capacity newer
// fingerprints have been accepted, the oldest one is forgotten and becomes
// acceptable again.
package dedupe

import (
	"errors"

	lru "github.com/hashicorp/golang-lru"
)

const (
	// MinHashLength is the minimum accepted length of a content id hash.
	MinHashLength = 64
	// MinSaltLength is the minimum accepted length of a content id salt.
	MinSaltLength = 32

	// DefaultCapacity is the number of fingerprints remembered by default.
	DefaultCapacity = 500
)

var (
	ErrHashOrSaltInvalid = errors.New("content id hash or salt is too short")
	ErrDuplicate         = errors.New("content id hash was already used")
)

// Fingerprint is the (hash, salt) pair a client sends to identify the origin
// of an event without revealing it.
type Fingerprint struct {
	Hash string
	Salt string
}

// Validate checks the minimum lengths of both components.
func (f Fingerprint) Validate() error {
	if len(f.Hash) < MinHashLength || len(f.Salt) < MinSaltLength {
		return ErrHashOrSaltInvalid
	}
	return nil
}

// Cache is a fixed-size FIFO set of fingerprint hashes. It is safe for
// concurrent use.
type Cache struct {
	seen     *lru.Cache
	capacity int
}

// New creates a cache remembering up to capacity fingerprints. A capacity
// below one falls back to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	// lru.New only fails for non-positive sizes.
	seen, err := lru.New(capacity)
	if err != nil {
		panic(err)
	}
	return &Cache{seen: seen, capacity: capacity}
}

// CheckAndInsert validates fp and records it. It returns nil when fp was
// accepted, ErrHashOrSaltInvalid when fp is malformed (the cache is left
// untouched) and ErrDuplicate when the hash is still remembered.
//
// The check and the insert happen under one lock, so among concurrent callers
// with the same hash exactly one is accepted. Lookups never refresh an entry,
// which keeps eviction order equal to insertion order.
func (c *Cache) CheckAndInsert(fp Fingerprint) error {
	if err := fp.Validate(); err != nil {
		return err
	}
	if found, _ := c.seen.ContainsOrAdd(fp.Hash, struct{}{}); found {
		return ErrDuplicate
	}
	return nil
}

// Len returns the number of remembered fingerprints.
func (c *Cache) Len() int {
	return c.seen.Len()
}

// Capacity returns the maximum number of remembered fingerprints.
func (c *Cache) Capacity() int {
	return c.capacity
}
