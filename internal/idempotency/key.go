// Package idempotency derives stable, content-addressed keys for inbound
// submissions. The same logical submission always maps to the same key, so
// the job store's insert-if-absent collapses retries and the dual trigger
// paths onto one job.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

var errTrailingData = errors.New("trailing data after JSON value")

// Derive returns the idempotency key for (subjectID, payload).
//
// JSON payloads are canonicalized (recursive key sort, compact encoding)
// before hashing, so two JSON-equivalent payloads that differ only in key
// order produce the same key. Non-JSON payloads are hashed as raw bytes.
// A zero byte separates subject and payload so ("ab","c") and ("a","bc")
// cannot collide.
func Derive(subjectID string, payload []byte) string {
	body := payload
	if canonical, err := canonicalize(payload); err == nil {
		body = canonical
	}

	h := sha256.New()
	h.Write([]byte(subjectID))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalize re-encodes a JSON document deterministically. Objects are
// written with keys in sorted order; arrays keep their element order, which
// is semantically significant in JSON.
func canonicalize(payload []byte) ([]byte, error) {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// Anything after the first value means the payload is not a single
	// JSON document, so it must hash as raw bytes.
	if err := dec.Decode(new(any)); err != io.EOF {
		return nil, errTrailingData
	}

	var b strings.Builder
	if err := writeCanonical(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encKey, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(encKey)
			b.WriteByte(':')
			if err := writeCanonical(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	case json.Number:
		b.WriteString(val.String())
		return nil
	default:
		enc, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canonical encode: %w", err)
		}
		b.Write(enc)
		return nil
	}
}
