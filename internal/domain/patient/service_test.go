package patient

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthqr/healthqr/internal/platform/clock"
	"github.com/healthqr/healthqr/internal/platform/qr"
)

var didPattern = regexp.MustCompile(`^hid_[0-9a-f]{32}$`)

func newTestService() (*Service, *clock.Fake) {
	logger := zerolog.New(os.Stderr)
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	codec := qr.NewCodec(clk, logger)
	return NewService(NewInMemoryRepo(), codec, clk, logger), clk
}

// --- Register ---------------------------------------------------------------

func TestRegister_AssignsDigitalIdentifier(t *testing.T) {
	s, _ := newTestService()

	p, err := s.Register(context.Background(), "Asha", "Rao")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !didPattern.MatchString(p.DigitalIdentifier) {
		t.Errorf("digital identifier %q does not match expected shape", p.DigitalIdentifier)
	}
	if !p.Active {
		t.Error("new patient should be active")
	}
}

func TestRegister_IdentifiersAreUnique(t *testing.T) {
	s, _ := newTestService()
	seen := make(map[string]bool)

	for i := 0; i < 50; i++ {
		p, err := s.Register(context.Background(), "Test", "Patient")
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
		if seen[p.DigitalIdentifier] {
			t.Fatalf("duplicate digital identifier %q", p.DigitalIdentifier)
		}
		seen[p.DigitalIdentifier] = true
	}
}

func TestRegister_RequiresName(t *testing.T) {
	s, _ := newTestService()

	if _, err := s.Register(context.Background(), "", "Rao"); err == nil {
		t.Error("expected error for missing first name")
	}
	if _, err := s.Register(context.Background(), "Asha", ""); err == nil {
		t.Error("expected error for missing last name")
	}
}

// --- ResolveDigitalIdentifier -----------------------------------------------

func TestResolveDigitalIdentifier(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	p, err := s.Register(ctx, "Asha", "Rao")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	id, err := s.ResolveDigitalIdentifier(ctx, p.DigitalIdentifier)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != p.ID {
		t.Errorf("resolved id = %v, want %v", id, p.ID)
	}

	if _, err := s.ResolveDigitalIdentifier(ctx, "hid_deadbeef"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown identifier error = %v, want ErrNotFound", err)
	}
	if _, err := s.ResolveDigitalIdentifier(ctx, ""); err == nil {
		t.Error("expected error for empty identifier")
	}
}

func TestResolveDigitalIdentifier_InactivePatient(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()
	repo := NewInMemoryRepo()
	s.repo = repo

	p := &Patient{
		ID:                uuid.New(),
		DigitalIdentifier: "hid_00000000000000000000000000000001",
		FirstName:         "Asha",
		LastName:          "Rao",
		Active:            false,
	}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.ResolveDigitalIdentifier(ctx, p.DigitalIdentifier); !errors.Is(err, ErrNotFound) {
		t.Errorf("inactive patient error = %v, want ErrNotFound", err)
	}
}

// --- IdentityQR -------------------------------------------------------------

func TestIdentityQR(t *testing.T) {
	s, clk := newTestService()
	ctx := context.Background()

	p, err := s.Register(ctx, "Asha", "Rao")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	encoded, err := s.IdentityQR(ctx, p.ID)
	if err != nil {
		t.Fatalf("identity qr: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(encoded), &payload); err != nil {
		t.Fatalf("encoded payload is not json: %v", err)
	}
	if payload["type"] != qr.TypeIdentity {
		t.Errorf("type = %v, want %v", payload["type"], qr.TypeIdentity)
	}
	if payload["digitalIdentifier"] != p.DigitalIdentifier {
		t.Errorf("digitalIdentifier = %v, want %v", payload["digitalIdentifier"], p.DigitalIdentifier)
	}

	// Round-trip through the codec at a later time still decodes.
	clk.Advance(time.Hour)
	decoded, ok := qr.NewCodec(clk, zerolog.New(os.Stderr)).Decode(encoded, qr.TypeIdentity)
	if !ok {
		t.Fatal("encoded identity payload failed to decode")
	}
	if decoded.DigitalIdentifier != p.DigitalIdentifier {
		t.Errorf("decoded identifier = %q", decoded.DigitalIdentifier)
	}

	if _, err := s.IdentityQR(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown patient error = %v, want ErrNotFound", err)
	}
}

// --- List -------------------------------------------------------------------

func TestList_Pagination(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Register(ctx, "Test", "Patient"); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}

	page, total, err := s.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 {
		t.Errorf("page size = %d, want 2", len(page))
	}

	rest, _, err := s.List(ctx, 10, 4)
	if err != nil {
		t.Fatalf("list rest: %v", err)
	}
	if len(rest) != 1 {
		t.Errorf("rest size = %d, want 1", len(rest))
	}
}
