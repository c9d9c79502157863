package jcs

import "testing"

func TestDigestJCSIsKeyOrderStable(t *testing.T) {
	first, err := DigestJCS([]byte(`{"b":2,"a":1}`))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	second, err := DigestJCS([]byte(`{"a":1,"b":2}`))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical digests, got %s and %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(first))
	}
}

func TestDigestValueMatchesRawDigest(t *testing.T) {
	type payload struct {
		Assessment string `json:"assessment"`
		Confidence int    `json:"confidence"`
	}
	fromValue, err := DigestValue(payload{Assessment: "benign", Confidence: 4})
	if err != nil {
		t.Fatalf("digest value: %v", err)
	}
	fromRaw, err := DigestJCS([]byte(`{"confidence":4,"assessment":"benign"}`))
	if err != nil {
		t.Fatalf("digest raw: %v", err)
	}
	if fromValue != fromRaw {
		t.Fatalf("expected matching digests, got %s and %s", fromValue, fromRaw)
	}
}

func TestDigestJCSRejectsInvalidJSON(t *testing.T) {
	if _, err := DigestJCS([]byte(`{"a":`)); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}
