package ledger

import (
	"testing"

	"github.com/davidahmann/readerseal/core/hashchain"
	schemaledger "github.com/davidahmann/readerseal/core/schema/v1/ledger"
)

func TestValidateChainAcceptsUntamperedLedger(t *testing.T) {
	session := completeSession(t)
	if violations := session.ValidateChain(); len(violations) != 0 {
		t.Fatalf("expected clean chain, got %v", violations)
	}
}

func TestValidateChainFlagsTamperedFirstImpression(t *testing.T) {
	session := completeSession(t)
	entries := session.Entries()
	// Mutate the stored assessment without recomputing the content hash.
	entries[0].FirstImpression.Assessment = "malignant"

	violations := ValidateChain(entries)
	if len(violations) != 1 {
		t.Fatalf("expected exactly one violation, got %d: %v", len(violations), violations)
	}
	if violations[0].Index != 0 || violations[0].Kind != ViolationBadContentHash {
		t.Fatalf("expected bad_content_hash at index 0, got %+v", violations[0])
	}
}

func TestValidateChainFlagsRewrittenContentHash(t *testing.T) {
	session := completeSession(t)
	entries := session.Entries()
	// An attacker who recomputes the content hash still breaks the chain hash,
	// and the next entry's previous_hash linkage if the chain hash is fixed up.
	entries[0].FirstImpression.Assessment = "malignant"
	contentHash := mustContentHash(t, entries[0].FirstImpression)
	entries[0].ContentHash = contentHash

	violations := ValidateChain(entries)
	if len(violations) != 1 {
		t.Fatalf("expected one violation, got %v", violations)
	}
	if violations[0].Kind != ViolationBadChainHash {
		t.Fatalf("expected bad_chain_hash, got %s", violations[0].Kind)
	}
}

func TestValidateChainFlagsReordering(t *testing.T) {
	session := completeSession(t)
	entries := session.Entries()
	entries[1], entries[2] = entries[2], entries[1]

	violations := ValidateChain(entries)
	if len(violations) == 0 {
		t.Fatalf("expected violations for reordered entries")
	}
	kinds := map[string]bool{}
	for _, violation := range violations {
		kinds[violation.Kind] = true
	}
	if !kinds[ViolationBadEntryType] {
		t.Fatalf("expected bad_entry_type among %v", violations)
	}
}

func TestValidateChainFlagsBrokenLinkage(t *testing.T) {
	session := completeSession(t)
	entries := session.Entries()
	entries[2].PreviousHash = entries[0].ChainHash

	violations := ValidateChain(entries)
	found := false
	for _, violation := range violations {
		if violation.Index == 2 && violation.Kind == ViolationBadPrevHash {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected bad_previous_hash at index 2, got %v", violations)
	}
}

func TestValidateChainFlagsPayloadVariantMismatch(t *testing.T) {
	session := completeSession(t)
	entries := session.Entries()
	entries[1].FirstImpression = entries[0].FirstImpression

	violations := ValidateChain(entries)
	found := false
	for _, violation := range violations {
		if violation.Index == 1 && violation.Kind == ViolationBadPayload {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected bad_payload at index 1, got %v", violations)
	}
}

func TestValidateChainFlagsExtraEntries(t *testing.T) {
	session := completeSession(t)
	entries := session.Entries()
	extra := entries[2]
	extra.Seq = 4
	extra.PreviousHash = entries[2].ChainHash
	entries = append(entries, extra)

	violations := ValidateChain(entries)
	if len(violations) == 0 {
		t.Fatalf("expected violations for a fourth entry")
	}
}

func TestValidateChainReportsAllViolationsNotJustFirst(t *testing.T) {
	session := completeSession(t)
	entries := session.Entries()
	entries[0].FirstImpression.Confidence = 1
	entries[2].Reconciliation.Confidence = 1

	violations := ValidateChain(entries)
	if len(violations) != 2 {
		t.Fatalf("expected two violations, got %v", violations)
	}
}

func mustContentHash(t *testing.T, payload *schemaledger.FirstImpression) string {
	t.Helper()
	digest, err := hashchain.ComputeContentHash(payload)
	if err != nil {
		t.Fatalf("content hash: %v", err)
	}
	return digest
}
