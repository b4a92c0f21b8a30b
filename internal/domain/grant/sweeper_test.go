package grant

import (
	"context"
	"testing"
	"time"
)

func TestSweeper_ExpiresStaleActiveGrants(t *testing.T) {
	engine, clk := newTestEngine(t)
	ctx := context.Background()

	g, err := engine.CreateRequest(ctx, testInput())
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := engine.Approve(ctx, g.ID, "patient"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	clk.Advance(25 * time.Hour)

	sweeper := NewSweeper(engine, 5*time.Millisecond, engine.logger)
	sweeper.Start()
	defer sweeper.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		stored, err := engine.Get(ctx, g.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Status == StatusExpired {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("grant still %q after sweep window", stored.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSweeper_CloseIsIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t)

	sweeper := NewSweeper(engine, time.Minute, engine.logger)
	sweeper.Start()

	sweeper.Close()
	sweeper.Close()
}

func TestNewSweeper_DefaultInterval(t *testing.T) {
	engine, _ := newTestEngine(t)

	sweeper := NewSweeper(engine, 0, engine.logger)
	if sweeper.interval != 5*time.Minute {
		t.Errorf("interval = %s, want 5m default", sweeper.interval)
	}
}
