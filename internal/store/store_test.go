package store

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

// TestMemoryStore_GetSet verifies that Set stores values and Get retrieves
// them.
func TestMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Set(ctx, "kathmandu", []byte(`{"temp":22}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := s.Get(ctx, "kathmandu")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if string(got) != `{"temp":22}` {
		t.Errorf("Get() = %q, want %q", got, `{"temp":22}`)
	}
}

// TestMemoryStore_Get_Miss verifies that Get returns ok=false for an
// absent key.
func TestMemoryStore_Get_Miss(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestMemoryStore_Delete verifies that Delete removes a key and deleting
// a missing key is not an error.
func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("key still present after Delete")
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete() of missing key error = %v, want nil", err)
	}
}

// TestMemoryStore_Keys verifies key enumeration.
func TestMemoryStore_Keys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Set(%q) error = %v", k, err)
		}
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Errorf("Keys() = %v, want [a b c]", keys)
	}
}

// TestMemoryStore_Isolation verifies that a stored value cannot be mutated
// through the slice returned by Get.
func TestMemoryStore_Isolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Set(ctx, "k", []byte("abc")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, _, _ := s.Get(ctx, "k")
	got[0] = 'x'

	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value mutated through Get result: %q", again)
	}
}

// TestMemcachedStore_KeysUnsupported verifies the enumeration limitation
// is reported as the sentinel error, never as an empty key list. No server
// is needed: the client does not dial until a data operation.
func TestMemcachedStore_KeysUnsupported(t *testing.T) {
	s, err := NewMemcachedStore("localhost:11211", time.Hour, 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedStore() error = %v", err)
	}
	if _, err := s.Keys(context.Background()); !errors.Is(err, ErrEnumerationUnsupported) {
		t.Fatalf("Keys() error = %v, want ErrEnumerationUnsupported", err)
	}
}
