package qr

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthqr/healthqr/internal/platform/clock"
)

func newTestCodec(t *testing.T) (*Codec, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewCodec(clk, zerolog.New(os.Stderr)), clk
}

// --- Encode -----------------------------------------------------------------

func TestEncode_Identity(t *testing.T) {
	codec, clk := newTestCodec(t)

	raw, err := codec.Encode(codec.NewIdentityPayload("did-abc-123"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var envelope map[string]any
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		t.Fatalf("encoded payload is not valid json: %v", err)
	}
	if envelope["type"] != TypeIdentity {
		t.Errorf("type = %v", envelope["type"])
	}
	if envelope["version"] != Version {
		t.Errorf("version = %v", envelope["version"])
	}
	if envelope["digitalIdentifier"] != "did-abc-123" {
		t.Errorf("digitalIdentifier = %v", envelope["digitalIdentifier"])
	}

	ts, err := time.Parse(time.RFC3339, envelope["timestamp"].(string))
	if err != nil {
		t.Fatalf("timestamp is not ISO-8601: %v", err)
	}
	if !ts.Equal(clk.Now()) {
		t.Errorf("timestamp = %v, want %v", ts, clk.Now())
	}
}

func TestEncode_UnknownType(t *testing.T) {
	codec, _ := newTestCodec(t)

	_, err := codec.Encode(Payload{Type: "health_bogus", DigitalIdentifier: "did-1"})
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestEncode_MissingIdentifier(t *testing.T) {
	codec, _ := newTestCodec(t)

	_, err := codec.Encode(Payload{Type: TypeIdentity})
	if err == nil {
		t.Fatal("expected error for missing digital identifier")
	}
}

// --- Decode -----------------------------------------------------------------

func TestDecode_IdentityRoundTrip(t *testing.T) {
	codec, _ := newTestCodec(t)

	raw, err := codec.Encode(codec.NewIdentityPayload("did-abc-123"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	p, ok := codec.Decode(raw, TypeIdentity)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if p.DigitalIdentifier != "did-abc-123" {
		t.Errorf("digitalIdentifier = %q", p.DigitalIdentifier)
	}
}

func TestDecode_InvalidJSON(t *testing.T) {
	codec, _ := newTestCodec(t)

	if _, ok := codec.Decode("{not json", TypeIdentity); ok {
		t.Error("expected decode failure for invalid json")
	}
}

func TestDecode_TypeMismatch(t *testing.T) {
	codec, _ := newTestCodec(t)

	raw, err := codec.Encode(codec.NewIdentityPayload("did-1"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, ok := codec.Decode(raw, TypeAccessRequest); ok {
		t.Error("expected decode failure for type mismatch")
	}
}

func TestDecode_UnsupportedVersion(t *testing.T) {
	codec, _ := newTestCodec(t)

	raw := `{"type":"health_identity","version":"2.0","digitalIdentifier":"did-1","timestamp":"2025-06-01T12:00:00Z"}`
	if _, ok := codec.Decode(raw, TypeIdentity); ok {
		t.Error("expected decode failure for unsupported version")
	}
}

func TestDecode_MissingFields(t *testing.T) {
	codec, _ := newTestCodec(t)

	cases := map[string]string{
		"no identifier": `{"type":"health_identity","version":"1.0","timestamp":"2025-06-01T12:00:00Z"}`,
		"no timestamp":  `{"type":"health_identity","version":"1.0","digitalIdentifier":"did-1"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, ok := codec.Decode(raw, TypeIdentity); ok {
				t.Error("expected decode failure")
			}
		})
	}
}

// Identity QR codes are durable display artifacts: stale ones decode with a
// warning instead of being rejected.
func TestDecode_StaleIdentityStillDecodes(t *testing.T) {
	codec, clk := newTestCodec(t)

	raw, err := codec.Encode(codec.NewIdentityPayload("did-1"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	clk.Advance(25 * time.Hour)

	p, ok := codec.Decode(raw, TypeIdentity)
	if !ok {
		t.Fatal("stale identity payload should still decode")
	}
	if p.DigitalIdentifier != "did-1" {
		t.Errorf("digitalIdentifier = %q", p.DigitalIdentifier)
	}
}

func TestDecode_AccessRequestRoundTrip(t *testing.T) {
	codec, _ := newTestCodec(t)

	raw, err := codec.Encode(codec.NewAccessRequestPayload("did-1", "grant-9", 5*time.Minute))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	p, ok := codec.Decode(raw, TypeAccessRequest)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if p.GrantID != "grant-9" {
		t.Errorf("grantId = %q", p.GrantID)
	}
}

// Access-request QR codes are one-shot: past expiry they are rejected, not
// warned about.
func TestDecode_ExpiredAccessRequestRejected(t *testing.T) {
	codec, clk := newTestCodec(t)

	raw, err := codec.Encode(codec.NewAccessRequestPayload("did-1", "grant-9", 5*time.Minute))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	clk.Advance(6 * time.Minute)

	if _, ok := codec.Decode(raw, TypeAccessRequest); ok {
		t.Error("expected expired access-request payload to be rejected")
	}
}

func TestDecode_AccessRequestWithoutGrantRejected(t *testing.T) {
	codec, _ := newTestCodec(t)

	raw := `{"type":"health_access_request","version":"1.0","digitalIdentifier":"did-1","timestamp":"2025-06-01T12:00:00Z"}`
	if _, ok := codec.Decode(raw, TypeAccessRequest); ok {
		t.Error("expected access request without grant reference to be rejected")
	}
}
