package cache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/weatherwave/weatherwave/internal/store"
)

// TestJanitor_Sweep_RemovesExpired verifies that entries older than the
// retention window are removed and newer entries are never touched.
func TestJanitor_Sweep_RemovesExpired(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	j := NewJanitor(s, 24*time.Hour, zap.NewNop())

	putWithTimestamp(t, s, "old", sampleBundle(), time.Now().Add(-48*time.Hour))
	putWithTimestamp(t, s, "recent", sampleBundle(), time.Now().Add(-1*time.Hour))

	removed := j.Sweep(ctx)
	if removed != 1 {
		t.Fatalf("Sweep() removed = %d, want 1", removed)
	}
	if _, ok, _ := s.Get(ctx, "old"); ok {
		t.Error("expired entry still present after sweep")
	}
	if _, ok, _ := s.Get(ctx, "recent"); !ok {
		t.Error("recent entry removed by sweep")
	}
}

// TestJanitor_Sweep_Idempotent verifies that a second sweep removes
// nothing further.
func TestJanitor_Sweep_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	j := NewJanitor(s, 24*time.Hour, zap.NewNop())

	putWithTimestamp(t, s, "old", sampleBundle(), time.Now().Add(-48*time.Hour))
	putWithTimestamp(t, s, "recent", sampleBundle(), time.Now().Add(-1*time.Hour))

	if removed := j.Sweep(ctx); removed != 1 {
		t.Fatalf("first Sweep() removed = %d, want 1", removed)
	}
	if removed := j.Sweep(ctx); removed != 0 {
		t.Errorf("second Sweep() removed = %d, want 0", removed)
	}
}

// TestJanitor_Sweep_RemovesCorrupt verifies that undecodable entries are
// swept regardless of age.
func TestJanitor_Sweep_RemovesCorrupt(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	j := NewJanitor(s, 24*time.Hour, zap.NewNop())

	if err := s.Set(ctx, "bad", []byte("{{{")); err != nil {
		t.Fatalf("store set: %v", err)
	}
	putWithTimestamp(t, s, "good", sampleBundle(), time.Now())

	removed := j.Sweep(ctx)
	if removed != 1 {
		t.Fatalf("Sweep() removed = %d, want 1", removed)
	}
	if _, ok, _ := s.Get(ctx, "bad"); ok {
		t.Error("corrupt entry still present after sweep")
	}
	if _, ok, _ := s.Get(ctx, "good"); !ok {
		t.Error("valid entry removed by sweep")
	}
}

// enumerationlessStore stands in for a backend whose keys cannot be
// listed.
type enumerationlessStore struct {
	store.Store
}

func (enumerationlessStore) Keys(ctx context.Context) ([]string, error) {
	return nil, store.ErrEnumerationUnsupported
}

// TestJanitor_Sweep_SkipsWhenEnumerationUnsupported verifies the sweep is
// a clean no-op for backends that expire entries server-side.
func TestJanitor_Sweep_SkipsWhenEnumerationUnsupported(t *testing.T) {
	j := NewJanitor(enumerationlessStore{Store: store.NewMemoryStore()}, 24*time.Hour, zap.NewNop())

	if removed := j.Sweep(context.Background()); removed != 0 {
		t.Errorf("Sweep() removed = %d, want 0", removed)
	}
}
