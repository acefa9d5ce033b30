// Package store provides the durable key-value store shared by all execution
// contexts. It is the only state that survives context teardown and the
// ultimate source of local truth when the remote authority is unreachable.
//
// Writes to a single key are last-writer-wins. There is no transactional
// guarantee across keys, so callers must never split one logical value across
// two keys where partial application would be observable.
package store

import "context"

// Store is the durable key-value persistence contract. Values are opaque
// blobs to the store itself.
type Store interface {
	// Get returns the value for key. Missing keys return ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the value for key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Well-known slots. Every persisted piece of client state lives under one of
// these keys so contexts can find each other's writes.
const (
	// KeyCredential holds the serialized bearer credential material.
	KeyCredential = "auth.credential"

	// KeySubjectClaims holds the serialized subject identity claims.
	KeySubjectClaims = "auth.subject"

	// KeySessionTimestamp holds the RFC 3339 time of the last login.
	KeySessionTimestamp = "auth.session_started_at"
)

// CounterKey returns the per-subject slot for the last known-good
// authoritative counter value.
func CounterKey(subject string) string {
	return "counter." + subject
}
