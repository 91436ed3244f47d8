package idempotency_test

import (
	"testing"

	"github.com/giftflow/wishlist-pipeline/internal/idempotency"
)

func TestDerive_Deterministic(t *testing.T) {
	payload := []byte(`{"items":[{"name":"LEGO Set"}]}`)

	first := idempotency.Derive("child-1", payload)
	second := idempotency.Derive("child-1", payload)

	if first == "" {
		t.Fatal("expected a non-empty key")
	}
	if first != second {
		t.Fatalf("same inputs produced different keys: %s vs %s", first, second)
	}
}

func TestDerive_DifferentPayloadsDiffer(t *testing.T) {
	a := idempotency.Derive("child-1", []byte(`{"items":[{"name":"LEGO Set"}]}`))
	b := idempotency.Derive("child-1", []byte(`{"items":[{"name":"Bicycle"}]}`))

	if a == b {
		t.Fatal("different payloads produced the same key")
	}
}

func TestDerive_DifferentSubjectsDiffer(t *testing.T) {
	payload := []byte(`{"items":[{"name":"LEGO Set"}]}`)

	if idempotency.Derive("child-1", payload) == idempotency.Derive("child-2", payload) {
		t.Fatal("different subjects produced the same key")
	}
}

// Key order inside a JSON object must not influence the key: payloads are
// canonicalized before hashing.
func TestDerive_KeyOrderInsensitive(t *testing.T) {
	a := idempotency.Derive("child-1", []byte(`{"a":1,"b":{"x":true,"y":"z"}}`))
	b := idempotency.Derive("child-1", []byte(`{"b":{"y":"z","x":true},"a":1}`))

	if a != b {
		t.Fatalf("JSON-equivalent payloads produced different keys: %s vs %s", a, b)
	}
}

// A payload with bytes after the first JSON value is not a single JSON
// document; it must hash as raw bytes and not collide with the clean one.
func TestDerive_TrailingDataHashesRaw(t *testing.T) {
	clean := idempotency.Derive("child-1", []byte(`{"a":1}`))
	trailing := idempotency.Derive("child-1", []byte(`{"a":1}garbage`))

	if clean == trailing {
		t.Fatal("trailing data after the JSON value produced the same key")
	}
}

// Array order is semantically significant and must influence the key.
func TestDerive_ArrayOrderSensitive(t *testing.T) {
	a := idempotency.Derive("child-1", []byte(`{"items":["a","b"]}`))
	b := idempotency.Derive("child-1", []byte(`{"items":["b","a"]}`))

	if a == b {
		t.Fatal("reordered arrays produced the same key")
	}
}

func TestDerive_SubjectPayloadBoundary(t *testing.T) {
	// Without a separator these two would hash the same byte stream.
	a := idempotency.Derive("ab", []byte("c"))
	b := idempotency.Derive("a", []byte("bc"))

	if a == b {
		t.Fatal("subject/payload boundary is ambiguous")
	}
}

func TestDerive_NonJSONPayload(t *testing.T) {
	first := idempotency.Derive("child-1", []byte("not json at all"))
	second := idempotency.Derive("child-1", []byte("not json at all"))

	if first != second {
		t.Fatal("raw payload hashing is not deterministic")
	}
}

func TestDerive_NumberPrecisionPreserved(t *testing.T) {
	// Large integers must not be mangled through float64 on the canonical path.
	a := idempotency.Derive("s", []byte(`{"n":9007199254740993}`))
	b := idempotency.Derive("s", []byte(`{"n":9007199254740992}`))

	if a == b {
		t.Fatal("adjacent large integers collapsed to the same key")
	}
}
