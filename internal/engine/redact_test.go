package engine

import (
	"strings"
	"testing"

	"relgate/internal/policy"
)

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"john@example.com": "j***@example.com",
		"a@b.io":           "x***@b.io",
		"ada.l@corp.dev":   "a***@corp.dev",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskCard(t *testing.T) {
	if got := MaskCard("1234567890123456"); got != "************3456" {
		t.Fatalf("MaskCard = %q", got)
	}
	if got := MaskCard("1234"); got != "****" {
		t.Fatalf("MaskCard short = %q", got)
	}
}

func TestMaskPhone(t *testing.T) {
	if got := MaskPhone("+4915112345678"); got != "+4*********678" {
		t.Fatalf("MaskPhone = %q", got)
	}
	if got := MaskPhone("12345"); got != "*****" {
		t.Fatalf("MaskPhone short = %q", got)
	}
}

func TestMaskPartial(t *testing.T) {
	cases := map[string]string{
		"ab":       "**",
		"a":        "*",
		"secret":   "s****t",
		"internal": "i******l",
	}
	for in, want := range cases {
		if got := MaskPartial(in); got != want {
			t.Fatalf("MaskPartial(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskValue_ShapeDispatch(t *testing.T) {
	// Email shape
	if got := MaskValue("john@example.com", ""); got != "j***@example.com" {
		t.Fatalf("email dispatch = %v", got)
	}
	// Long digit string goes through the phone masker
	if got := MaskValue("491511234567", ""); got != "49*******567" {
		t.Fatalf("phone dispatch = %v", got)
	}
	// Everything else is partial
	if got := MaskValue("hello", ""); got != "h***o" {
		t.Fatalf("partial dispatch = %v", got)
	}
	// nil stays nil
	if got := MaskValue(nil, ""); got != nil {
		t.Fatalf("nil dispatch = %v", got)
	}
}

func TestMaskValue_CustomPattern(t *testing.T) {
	got := MaskValue("1234567890123456", "{first4}-****-{last4}")
	if got != "1234-****-3456" {
		t.Fatalf("pattern mask = %v", got)
	}
	// Token lengths beyond the value clamp instead of panicking
	got = MaskValue("abc", "{first10}")
	if got != "abc" {
		t.Fatalf("clamped pattern = %v", got)
	}
}

func TestHashValue_Deterministic(t *testing.T) {
	a := HashValue("sensitive")
	b := HashValue("sensitive")
	if a != b {
		t.Fatal("hash must be deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("expected sha256 hex length 64, got %d", len(a))
	}
	if a == HashValue("different") {
		t.Fatal("distinct inputs must not collide trivially")
	}
}

func TestRedactRecord(t *testing.T) {
	pol, err := policy.NewBuilder().
		Model("Customer").
		DenyField("password").
		MaskField("email").
		HashField("ssn").
		Done().
		Build()
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}

	r := NewRedactor(pol)
	in := map[string]any{
		"id":       "c1",
		"email":    "john@example.com",
		"password": "hunter2",
		"ssn":      "123-45-6789",
	}
	out := r.RedactRecord(in, pol.GetModel("Customer"))

	if out["id"] != "c1" {
		t.Fatalf("allowed field changed: %v", out["id"])
	}
	if out["email"] != "j***@example.com" {
		t.Fatalf("email not masked: %v", out["email"])
	}
	if out["password"] != nil {
		t.Fatalf("denied field not dropped: %v", out["password"])
	}
	hashed, _ := out["ssn"].(string)
	if len(hashed) != 64 || strings.Contains(hashed, "-") {
		t.Fatalf("ssn not hashed: %v", out["ssn"])
	}

	// Input record is untouched.
	if in["password"] != "hunter2" {
		t.Fatal("redaction mutated the input record")
	}
}

func TestRedactRecords_GlobalMaskPattern(t *testing.T) {
	pol, err := policy.NewBuilder().
		MaskPattern("*_secret").
		Model("Account").
		Done().
		Build()
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}

	r := NewRedactor(pol)
	rows := []map[string]any{
		{"name": "prod", "api_secret": "tok_12345678"},
	}
	out := r.RedactRecords(rows, pol.GetModel("Account"))
	if out[0]["name"] != "prod" {
		t.Fatalf("name changed: %v", out[0]["name"])
	}
	if out[0]["api_secret"] == "tok_12345678" {
		t.Fatal("pattern-matched field not masked")
	}
}
