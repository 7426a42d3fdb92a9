package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"relgate/internal/policy"
)

// Redactor applies field policy to raw execution results. It must run
// exactly once, on the raw rows, never on already-redacted output.
type Redactor struct {
	policy *policy.Policy
}

func NewRedactor(p *policy.Policy) *Redactor {
	return &Redactor{policy: p}
}

// RedactRecord returns a copy of the record with every field transformed
// by its resolved action: deny drops the value to nil, hash replaces it
// with a SHA-256 hex digest, mask applies pattern or shape-based masking.
func (r *Redactor) RedactRecord(record map[string]any, mp *policy.ModelPolicy) map[string]any {
	if record == nil {
		return nil
	}

	out := make(map[string]any, len(record))
	for key, val := range record {
		switch r.policy.FieldAction(mp, key) {
		case policy.ActionDeny:
			out[key] = nil
		case policy.ActionHash:
			out[key] = HashValue(val)
		case policy.ActionMask:
			out[key] = MaskValue(val, mp.MaskPattern(key))
		default:
			out[key] = val
		}
	}
	return out
}

// RedactRecords redacts a result set.
func (r *Redactor) RedactRecords(records []map[string]any, mp *policy.ModelPolicy) []map[string]any {
	if records == nil {
		return nil
	}
	out := make([]map[string]any, len(records))
	for i, rec := range records {
		out[i] = r.RedactRecord(rec, mp)
	}
	return out
}

// HashValue returns the SHA-256 hex digest of the value's string form.
func HashValue(v any) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%v", v)))
	return hex.EncodeToString(sum[:])
}

// MaskValue masks a value. With a custom pattern, {firstN}/{lastN}
// tokens are substituted against the raw string. Without one, masking
// dispatches on shape: email, phone-like digit string, or partial.
func MaskValue(v any, pattern string) any {
	if v == nil {
		return nil
	}
	s := fmt.Sprintf("%v", v)

	if pattern != "" {
		return applyMaskPattern(s, pattern)
	}

	if strings.Contains(s, "@") {
		return MaskEmail(s)
	}
	if isDigitString(s) && len(s) > 10 {
		return MaskPhone(s)
	}
	return MaskPartial(s)
}

// MaskEmail keeps the first character of the local part:
// john@example.com -> j***@example.com. A single-character local part
// masks to x*** so nothing of it leaks.
func MaskEmail(s string) string {
	at := strings.Index(s, "@")
	if at < 0 {
		return MaskPartial(s)
	}
	local, domain := s[:at], s[at+1:]
	if len(local) <= 1 {
		return "x***@" + domain
	}
	return local[:1] + "***@" + domain
}

// MaskPhone keeps the first 2 and last 3 characters.
func MaskPhone(s string) string {
	if len(s) <= 5 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-5) + s[len(s)-3:]
}

// MaskCard keeps only the last 4 digits: 1234567890123456 -> ************3456.
func MaskCard(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// MaskPartial keeps the first and last character; two characters or
// fewer are fully masked.
func MaskPartial(s string) string {
	if len(s) <= 2 {
		return strings.Repeat("*", len(s))
	}
	return s[:1] + strings.Repeat("*", len(s)-2) + s[len(s)-1:]
}

var maskToken = regexp.MustCompile(`\{(first|last)(\d+)\}`)

// applyMaskPattern substitutes {firstN} and {lastN} tokens with slices
// of the raw value.
func applyMaskPattern(s, pattern string) string {
	return maskToken.ReplaceAllStringFunc(pattern, func(token string) string {
		m := maskToken.FindStringSubmatch(token)
		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			return ""
		}
		if n > len(s) {
			n = len(s)
		}
		if m[1] == "first" {
			return s[:n]
		}
		return s[len(s)-n:]
	})
}

func isDigitString(s string) bool {
	seen := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seen = true
		case r == '+' || r == '-' || r == ' ':
		default:
			return false
		}
	}
	return seen
}
