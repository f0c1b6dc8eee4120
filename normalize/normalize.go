// Package normalize converts Traveltek's provider JSON — which the
// pipeline has observed in three pathological wire shapes — into the
// canonical Record. The dispatch is a small hand-written type switch
// on the leading byte, in the same spirit as the teacher's
// provider.Provider interface dispatch (pick the right small path by
// inspecting the shape, rather than reaching for a schema-validation
// library the pack never imports for this kind of problem).
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// maxUnwrapDepth bounds the recursive unwrap to guard against a
// pathological mix of nested double-encoding (spec §4.3(d)).
const maxUnwrapDepth = 8

// maxLoggedPrefix is how many raw bytes accompany a NormalizationFailed
// log line (spec §4.3 "Failure").
const maxLoggedPrefix = 256

// Error is returned when a file cannot be reconstructed or parsed.
// It carries a bounded prefix of the raw bytes for logging; no partial
// write ever happens on this path.
type Error struct {
	Reason    string
	RawPrefix []byte
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Normalize detects which of the three shapes raw is in and returns
// the canonical Record.
//
// Detection order (spec §4.3):
//  1. Top-level object with keys "0","1","2" where value["0"] is a
//     length-1 string -> char-indexed reconstruction.
//  2. Top-level JSON string -> double-encoded; decode once and repeat
//     detection on the result.
//  3. Otherwise accept as-is.
func Normalize(raw []byte) (*Record, error) {
	unwrapped, err := unwrap(raw, 0)
	if err != nil {
		return nil, &Error{Reason: "reconstruction failed", RawPrefix: prefixOf(raw), Err: err}
	}

	var rec Record
	if err := json.Unmarshal(unwrapped, &rec); err != nil {
		return nil, &Error{Reason: "parse failed", RawPrefix: prefixOf(unwrapped), Err: err}
	}
	return &rec, nil
}

func unwrap(raw []byte, depth int) ([]byte, error) {
	if depth > maxUnwrapDepth {
		return nil, fmt.Errorf("exceeded max unwrap depth %d", maxUnwrapDepth)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	switch trimmed[0] {
	case '"':
		// Rule 2: top-level decodes as a string -> JSON-parse again.
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, fmt.Errorf("decode double-encoded string: %w", err)
		}
		return unwrap([]byte(inner), depth+1)

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		if isCharIndexed(obj) {
			reconstructed, err := reconstructCharIndexed(obj)
			if err != nil {
				return nil, fmt.Errorf("reconstruct char-indexed form: %w", err)
			}
			return unwrap(reconstructed, depth+1)
		}
		return trimmed, nil

	default:
		// Arrays and scalars are never valid top-level shapes here.
		return nil, fmt.Errorf("unexpected top-level JSON type %q", trimmed[0])
	}
}

// isCharIndexed implements rule 1: keys "0","1","2" present and
// value["0"] is a length-1 string.
func isCharIndexed(obj map[string]json.RawMessage) bool {
	if _, ok := obj["1"]; !ok {
		return false
	}
	if _, ok := obj["2"]; !ok {
		return false
	}
	raw0, ok := obj["0"]
	if !ok {
		return false
	}
	var s string
	if err := json.Unmarshal(raw0, &s); err != nil {
		return false
	}
	return len(s) == 1
}

// reconstructCharIndexed concatenates value[i] for ascending integer i
// while present, handling payloads up to 10M characters (spec §8
// boundary behavior) via strings.Builder.
func reconstructCharIndexed(obj map[string]json.RawMessage) ([]byte, error) {
	var sb strings.Builder
	for i := 0; ; i++ {
		raw, ok := obj[strconv.Itoa(i)]
		if !ok {
			break
		}
		var ch string
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, fmt.Errorf("char index %d: %w", i, err)
		}
		sb.WriteString(ch)
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("char-indexed object reconstructed to empty string")
	}
	return []byte(sb.String()), nil
}

func prefixOf(raw []byte) []byte {
	if len(raw) <= maxLoggedPrefix {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out
	}
	out := make([]byte, maxLoggedPrefix)
	copy(out, raw[:maxLoggedPrefix])
	return out
}
