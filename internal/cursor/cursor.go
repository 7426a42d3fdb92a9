package cursor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"relgate/internal/dsl"
)

// Cursor types and pagination directions.
const (
	TypeOffset = "offset"
	TypeKeyset = "keyset"

	DirectionForward  = "forward"
	DirectionBackward = "backward"
)

// Data is a decoded pagination token.
type Data struct {
	Type      string         `json:"t"`
	Values    map[string]any `json:"v"`
	Direction string         `json:"d"`
	Checksum  string         `json:"c,omitempty"`
}

// Encoder produces and consumes opaque pagination tokens. The wire
// format — base64url of a compact JSON envelope {t,v,d,c} — is the one
// bit-exact external contract of the gateway. A non-empty secret adds a
// truncated SHA-256 checksum so tokens cannot be tampered with.
type Encoder struct {
	secret string
}

func NewEncoder(secret string) *Encoder {
	return &Encoder{secret: secret}
}

// EncodeOffset packs a plain offset cursor.
func (e *Encoder) EncodeOffset(offset int) (string, error) {
	return e.encode(Data{
		Type:      TypeOffset,
		Values:    map[string]any{"offset": offset},
		Direction: DirectionForward,
	})
}

// DecodeOffset unpacks an offset cursor.
func (e *Encoder) DecodeOffset(token string) (int, error) {
	data, err := e.Decode(token)
	if err != nil {
		return 0, err
	}
	if data.Type != TypeOffset {
		return 0, fmt.Errorf("expected offset cursor, got %s", data.Type)
	}
	n, ok := numeric(data.Values["offset"])
	if !ok || n < 0 {
		return 0, fmt.Errorf("invalid offset value")
	}
	return int(n), nil
}

// EncodeKeyset packs the last row's ordering-key values into a keyset
// cursor. Only the order fields are retained: anything else in
// keyValues is dropped so tokens stay minimal and never leak unrelated
// field values.
func (e *Encoder) EncodeKeyset(keyValues map[string]any, orderFields []dsl.OrderClause, direction string) (string, error) {
	if direction == "" {
		direction = DirectionForward
	}
	if direction != DirectionForward && direction != DirectionBackward {
		return "", fmt.Errorf("invalid cursor direction: %s", direction)
	}

	values := make(map[string]any, len(orderFields))
	for _, of := range orderFields {
		if v, ok := keyValues[of.Field]; ok {
			values[of.Field] = boxValue(v)
		}
	}

	return e.encode(Data{Type: TypeKeyset, Values: values, Direction: direction})
}

// DecodeKeyset unpacks a keyset cursor, reconstructing boxed dates.
func (e *Encoder) DecodeKeyset(token string) (*Data, error) {
	data, err := e.Decode(token)
	if err != nil {
		return nil, err
	}
	if data.Type != TypeKeyset {
		return nil, fmt.Errorf("expected keyset cursor, got %s", data.Type)
	}
	return data, nil
}

// Decode unpacks any cursor token, verifying the checksum when a secret
// is configured. Date values boxed as {_dt: iso8601} are reconstructed.
func (e *Encoder) Decode(token string) (*Data, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("invalid cursor payload: %w", err)
	}
	if data.Type != TypeOffset && data.Type != TypeKeyset {
		return nil, fmt.Errorf("unknown cursor type: %s", data.Type)
	}

	if e.secret != "" {
		want, err := e.checksum(data.Values)
		if err != nil {
			return nil, err
		}
		if data.Checksum != want {
			return nil, fmt.Errorf("cursor checksum mismatch: token tampered or signed with a different secret")
		}
	}

	unboxed := make(map[string]any, len(data.Values))
	for k, v := range data.Values {
		unboxed[k] = unboxValue(v)
	}
	data.Values = unboxed
	return &data, nil
}

func (e *Encoder) encode(data Data) (string, error) {
	if e.secret != "" {
		sum, err := e.checksum(data.Values)
		if err != nil {
			return "", err
		}
		data.Checksum = sum
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// checksum is sha256(canonical json of values + secret) truncated to 16
// hex characters. encoding/json sorts map keys, which gives the
// canonical form for free.
func (e *Encoder) checksum(values map[string]any) (string, error) {
	canonical, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("checksum cursor: %w", err)
	}
	sum := sha256.Sum256(append(canonical, []byte(e.secret)...))
	return hex.EncodeToString(sum[:])[:16], nil
}

// BuildKeysetCondition expands cursor values into the standard keyset
// predicate for order fields (f1..fn): OR over i of
// (f1=c1 AND ... AND f_{i-1}=c_{i-1} AND f_i <op> c_i), where the strict
// operator on f_i depends on its sort direction and the pagination
// direction. The result is an OR of AND-groups for the compiler to
// render; this tie-break shape is what makes keyset pagination stable
// under concurrent inserts and deletes.
func BuildKeysetCondition(values map[string]any, orderFields []dsl.OrderClause, direction string) [][]dsl.FilterClause {
	var groups [][]dsl.FilterClause
	for i, of := range orderFields {
		val, ok := values[of.Field]
		if !ok {
			continue
		}

		group := make([]dsl.FilterClause, 0, i+1)
		usable := true
		for _, prev := range orderFields[:i] {
			pv, ok := values[prev.Field]
			if !ok {
				usable = false
				break
			}
			group = append(group, dsl.FilterClause{Field: prev.Field, Op: dsl.OpEq, Value: pv})
		}
		if !usable {
			continue
		}

		group = append(group, dsl.FilterClause{
			Field: of.Field,
			Op:    keysetOp(of.Direction, direction),
			Value: val,
		})
		groups = append(groups, group)
	}
	return groups
}

// keysetOp picks the strict comparison: forward+asc -> gt,
// forward+desc -> lt, inverted for backward.
func keysetOp(sortDir, pageDir string) string {
	asc := sortDir != dsl.DirDesc
	if pageDir == DirectionBackward {
		asc = !asc
	}
	if asc {
		return dsl.OpGt
	}
	return dsl.OpLt
}

func boxValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return map[string]any{"_dt": t.UTC().Format(time.RFC3339Nano)}
	}
	return v
}

func unboxValue(v any) any {
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		if iso, ok := m["_dt"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, iso); err == nil {
				return t
			}
		}
	}
	return v
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
