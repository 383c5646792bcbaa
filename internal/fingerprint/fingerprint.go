// Package fingerprint computes stable content digests for change detection.
// Two logically equal values fingerprint identically regardless of map key
// insertion order, so a fingerprint comparison is a cheap "did anything
// actually change" gate in front of expensive export work.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Sum returns the SHA-256 hex digest of v's canonical JSON serialization:
// object keys sorted, no incidental whitespace, array order preserved.
func Sum(v any) (string, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// SumJSON canonicalizes raw JSON bytes and digests them. Useful when the
// value was never decoded into a typed structure.
func SumJSON(raw []byte) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("parsing json for fingerprint: %w", err)
	}
	return Sum(v)
}

// Changed reports whether current differs from stored. Pure equality; the
// caller updates the stored fingerprint only after successfully acting on a
// true result, so a failed downstream action cannot mask a real change.
func Changed(current, stored string) bool {
	return current != stored
}

// writeCanonical emits v as canonical JSON. v is first round-tripped
// through encoding/json so struct tags, omitempty, and numeric formatting
// match what a plain Marshal would produce.
func writeCanonical(buf *bytes.Buffer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling for fingerprint: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("canonicalizing for fingerprint: %w", err)
	}
	return writeValue(buf, decoded)
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := writeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(raw)
		return nil
	}
}
