package cursor

import (
	"bytes"
	"encoding/base64"
	"testing"
	"time"

	"relgate/internal/dsl"
)

func TestOffsetRoundTrip(t *testing.T) {
	enc := NewEncoder("")

	token, err := enc.EncodeOffset(75)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := enc.DecodeOffset(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != 75 {
		t.Fatalf("expected 75, got %d", got)
	}
}

func TestKeysetRoundTrip_ProjectsOntoOrderFields(t *testing.T) {
	enc := NewEncoder("secret")

	row := map[string]any{
		"id":         "row-42",
		"created_at": "2026-01-02T03:04:05Z",
		"email":      "john@example.com", // not an order field, must not leak
	}
	order := []dsl.OrderClause{
		{Field: "created_at", Direction: dsl.DirDesc},
		{Field: "id", Direction: dsl.DirAsc},
	}

	token, err := enc.EncodeKeyset(row, order, DirectionForward)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	data, err := enc.DecodeKeyset(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.Type != TypeKeyset || data.Direction != DirectionForward {
		t.Fatalf("envelope: %+v", data)
	}
	if data.Values["id"] != "row-42" || data.Values["created_at"] != "2026-01-02T03:04:05Z" {
		t.Fatalf("values: %v", data.Values)
	}
	if _, leaked := data.Values["email"]; leaked {
		t.Fatal("non-order field leaked into the cursor")
	}
}

func TestKeyset_DateBoxing(t *testing.T) {
	enc := NewEncoder("")

	ts := time.Date(2026, 3, 15, 10, 30, 0, 123456789, time.UTC)
	token, err := enc.EncodeKeyset(
		map[string]any{"created_at": ts},
		[]dsl.OrderClause{{Field: "created_at"}},
		DirectionForward,
	)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	data, err := enc.Decode(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := data.Values["created_at"].(time.Time)
	if !ok {
		t.Fatalf("expected time.Time, got %T", data.Values["created_at"])
	}
	if !got.Equal(ts) {
		t.Fatalf("expected %v, got %v", ts, got)
	}
}

func TestDecode_RejectsTamperedToken(t *testing.T) {
	enc := NewEncoder("secret")

	token, err := enc.EncodeKeyset(
		map[string]any{"id": "t1-row"},
		[]dsl.OrderClause{{Field: "id"}},
		DirectionForward,
	)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Rewrite the payload value without recomputing the checksum.
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	tampered := bytes.Replace(raw, []byte("t1-row"), []byte("t2-row"), 1)
	if bytes.Equal(raw, tampered) {
		t.Fatal("test setup: payload value not found")
	}
	forged := base64.RawURLEncoding.EncodeToString(tampered)

	if _, err := enc.Decode(forged); err == nil {
		t.Fatal("expected checksum mismatch for tampered token")
	}
}

func TestDecode_RejectsForeignSecret(t *testing.T) {
	a := NewEncoder("secret-a")
	b := NewEncoder("secret-b")

	token, err := a.EncodeOffset(10)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := b.Decode(token); err == nil {
		t.Fatal("expected mismatch across secrets")
	}
}

func TestDecode_RejectsGarbage(t *testing.T) {
	enc := NewEncoder("")

	for _, token := range []string{
		"not base64 at all!!!",
		base64.RawURLEncoding.EncodeToString([]byte("not json")),
		base64.RawURLEncoding.EncodeToString([]byte(`{"t":"mystery","v":{}}`)),
	} {
		if _, err := enc.Decode(token); err == nil {
			t.Fatalf("expected error for token %q", token)
		}
	}
}

func TestBuildKeysetCondition_TieBreakShape(t *testing.T) {
	values := map[string]any{"created_at": "2026-01-01", "id": "row-9"}
	order := []dsl.OrderClause{
		{Field: "created_at", Direction: dsl.DirDesc},
		{Field: "id", Direction: dsl.DirAsc},
	}

	groups := BuildKeysetCondition(values, order, DirectionForward)
	if len(groups) != 2 {
		t.Fatalf("expected 2 OR groups, got %d", len(groups))
	}

	// Group 1: created_at < c (desc, forward)
	if len(groups[0]) != 1 || groups[0][0].Field != "created_at" || groups[0][0].Op != dsl.OpLt {
		t.Fatalf("group 1: %+v", groups[0])
	}
	// Group 2: created_at = c AND id > c (asc tie-break)
	if len(groups[1]) != 2 {
		t.Fatalf("group 2: %+v", groups[1])
	}
	if groups[1][0].Field != "created_at" || groups[1][0].Op != dsl.OpEq {
		t.Fatalf("group 2 prefix: %+v", groups[1][0])
	}
	if groups[1][1].Field != "id" || groups[1][1].Op != dsl.OpGt {
		t.Fatalf("group 2 strict: %+v", groups[1][1])
	}
}

func TestBuildKeysetCondition_BackwardInvertsOperators(t *testing.T) {
	values := map[string]any{"id": "row-9"}
	order := []dsl.OrderClause{{Field: "id", Direction: dsl.DirAsc}}

	groups := BuildKeysetCondition(values, order, DirectionBackward)
	if len(groups) != 1 || groups[0][0].Op != dsl.OpLt {
		t.Fatalf("expected lt for backward over asc, got %+v", groups)
	}
}
