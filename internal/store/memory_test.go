package store

import (
	"context"
	"testing"
)

func TestMemory_GetSetDelete(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, KeyCredential, []byte("tok")); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, err := s.Get(ctx, KeyCredential)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "tok" {
		t.Fatalf("unexpected value %q", value)
	}

	// Last writer wins on a single key.
	if err := s.Set(ctx, KeyCredential, []byte("tok2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, _ = s.Get(ctx, KeyCredential)
	if string(value) != "tok2" {
		t.Fatalf("overwrite not applied, got %q", value)
	}

	if err := s.Delete(ctx, KeyCredential); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, KeyCredential); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key is not an error.
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	original := []byte("abc")
	if err := s.Set(ctx, "k", original); err != nil {
		t.Fatalf("set: %v", err)
	}
	original[0] = 'x'

	value, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", value)
	}

	value[0] = 'y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("returned value aliased store slice: %q", again)
	}
}

func TestCounterKey(t *testing.T) {
	if got := CounterKey("user@example.com"); got != "counter.user@example.com" {
		t.Fatalf("unexpected counter key %q", got)
	}
}
