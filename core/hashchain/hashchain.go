// Package hashchain computes and verifies the digests binding ledger entries
// to their position and predecessor. One canonical chain-hash preimage exists
// (fixed_v1); producer and verifier both refuse anything else.
package hashchain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/davidahmann/readerseal/core/jcs"
)

const (
	// FormatFixedV1 is the only supported chain-hash preimage layout: a
	// fixed-width binary buffer in which every variable-length field is
	// pre-hashed to 32 bytes, so no delimiter ambiguity exists across fields.
	FormatFixedV1 = "fixed_v1"

	// GenesisHash is the previous_hash sentinel for the first entry.
	GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

	digestHexLen = 64
)

type ViolationKind string

const (
	KindBadSequence     ViolationKind = "bad_sequence"
	KindBadPreviousHash ViolationKind = "bad_previous_hash"
	KindBadChainHash    ViolationKind = "bad_chain_hash"
)

// Link is the chain-relevant projection of a ledger entry.
type Link struct {
	Seq          int64
	EntryID      string
	EntryType    string
	Timestamp    string
	PreviousHash string
	ContentHash  string
	ChainHash    string
}

type LinkResult struct {
	Valid  bool
	Kind   ViolationKind
	Reason string
}

// ComputeContentHash digests an entry's domain payload (which must exclude
// chain fields by construction) via JCS-canonical JSON.
func ComputeContentHash(payload any) (string, error) {
	return jcs.DigestValue(payload)
}

// ComputeChainHash computes the fixed_v1 chain digest:
// sha256(be64(seq) || raw32(previousHash) || sha256(entryID) ||
// sha256(entryType) || sha256(timestamp) || raw32(contentHash)).
func ComputeChainHash(seq int64, previousHash, entryID, entryType, timestamp, contentHash string) (string, error) {
	if seq < 1 {
		return "", fmt.Errorf("chain hash seq must be >= 1, got %d", seq)
	}
	previousRaw, err := decodeDigest(previousHash)
	if err != nil {
		return "", fmt.Errorf("previous_hash: %w", err)
	}
	contentRaw, err := decodeDigest(contentHash)
	if err != nil {
		return "", fmt.Errorf("content_hash: %w", err)
	}

	preimage := make([]byte, 0, 8+5*sha256.Size)
	preimage = binary.BigEndian.AppendUint64(preimage, uint64(seq))
	preimage = append(preimage, previousRaw...)
	preimage = appendFieldDigest(preimage, entryID)
	preimage = appendFieldDigest(preimage, entryType)
	preimage = appendFieldDigest(preimage, timestamp)
	preimage = append(preimage, contentRaw...)

	sum := sha256.Sum256(preimage)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyLink checks one link against its predecessor (nil for the first).
// It is pure and needs only the two links, so callers can stream a chain in
// O(1) extra memory. Content-hash recomputation happens at the ledger layer
// where the payload is in scope.
func VerifyLink(link Link, previous *Link) LinkResult {
	if previous == nil {
		if link.Seq != 1 {
			return invalid(KindBadSequence, fmt.Sprintf("first entry seq must be 1, got %d", link.Seq))
		}
		if !strings.EqualFold(link.PreviousHash, GenesisHash) {
			return invalid(KindBadPreviousHash, "first entry previous_hash must be the all-zero sentinel")
		}
	} else {
		if link.Seq != previous.Seq+1 {
			return invalid(KindBadSequence, fmt.Sprintf("seq must be %d, got %d", previous.Seq+1, link.Seq))
		}
		if !strings.EqualFold(link.PreviousHash, previous.ChainHash) {
			return invalid(KindBadPreviousHash, fmt.Sprintf("previous_hash %s does not match prior chain_hash %s", link.PreviousHash, previous.ChainHash))
		}
	}

	expected, err := ComputeChainHash(link.Seq, link.PreviousHash, link.EntryID, link.EntryType, link.Timestamp, link.ContentHash)
	if err != nil {
		return invalid(KindBadChainHash, fmt.Sprintf("chain hash not computable: %v", err))
	}
	if !strings.EqualFold(link.ChainHash, expected) {
		return invalid(KindBadChainHash, fmt.Sprintf("chain_hash %s does not match recomputed %s", link.ChainHash, expected))
	}
	return LinkResult{Valid: true}
}

func invalid(kind ViolationKind, reason string) LinkResult {
	return LinkResult{Valid: false, Kind: kind, Reason: reason}
}

func appendFieldDigest(preimage []byte, field string) []byte {
	sum := sha256.Sum256([]byte(field))
	return append(preimage, sum[:]...)
}

func decodeDigest(value string) ([]byte, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if len(trimmed) != digestHexLen {
		return nil, fmt.Errorf("expected %d hex chars, got %d", digestHexLen, len(trimmed))
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode hex digest: %w", err)
	}
	return raw, nil
}
