package token

import (
	"testing"
	"time"
)

func TestStore_PutLookup(t *testing.T) {
	clk := frozenClock(t)
	svc := newTestService(t, clk)
	store := NewStore(clk)
	defer store.Close()

	tok, err := svc.IssueOpaqueToken(time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	store.Put(tok, "patient-1", "record_access")

	ctx, ok := store.Lookup(tok.Value)
	if !ok {
		t.Fatal("expected lookup hit")
	}
	if ctx.SubjectID != "patient-1" || ctx.Purpose != "record_access" {
		t.Errorf("context = %+v", ctx)
	}
}

func TestStore_UnknownValue(t *testing.T) {
	store := NewStore(frozenClock(t))
	defer store.Close()

	if _, ok := store.Lookup("deadbeef"); ok {
		t.Error("expected miss for unknown value")
	}
}

func TestStore_ExpiredIsMiss(t *testing.T) {
	clk := frozenClock(t)
	svc := newTestService(t, clk)
	store := NewStore(clk)
	defer store.Close()

	tok, err := svc.IssueOpaqueToken(time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	store.Put(tok, "patient-1", "record_access")

	clk.Advance(2 * time.Minute)

	if _, ok := store.Lookup(tok.Value); ok {
		t.Error("expired token should be a miss before any sweep runs")
	}
}

func TestStore_Delete(t *testing.T) {
	clk := frozenClock(t)
	svc := newTestService(t, clk)
	store := NewStore(clk)
	defer store.Close()

	tok, err := svc.IssueOpaqueToken(time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	store.Put(tok, "patient-1", "record_access")
	store.Delete(tok.Value)

	if _, ok := store.Lookup(tok.Value); ok {
		t.Error("deleted token should be a miss")
	}
	if store.Count() != 0 {
		t.Errorf("count = %d, want 0", store.Count())
	}
}

func TestStore_CleanupRemovesExpired(t *testing.T) {
	clk := frozenClock(t)
	svc := newTestService(t, clk)
	store := NewStore(clk)
	defer store.Close()

	tok, err := svc.IssueOpaqueToken(time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	store.Put(tok, "patient-1", "record_access")

	clk.Advance(2 * time.Minute)
	store.cleanup()

	if store.Count() != 0 {
		t.Errorf("count after cleanup = %d, want 0", store.Count())
	}
}
