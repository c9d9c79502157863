package ledger

import (
	"fmt"
	"strings"

	"github.com/davidahmann/readerseal/core/hashchain"
	schemaledger "github.com/davidahmann/readerseal/core/schema/v1/ledger"
)

const (
	ViolationBadEntryType   = "bad_entry_type"
	ViolationBadPayload     = "bad_payload"
	ViolationBadContentHash = "bad_content_hash"
	ViolationBadSequence    = string(hashchain.KindBadSequence)
	ViolationBadPrevHash    = string(hashchain.KindBadPreviousHash)
	ViolationBadChainHash   = string(hashchain.KindBadChainHash)
)

type Violation struct {
	Index  int    `json:"index"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func (violation Violation) String() string {
	return fmt.Sprintf("entry %d: %s: %s", violation.Index, violation.Kind, violation.Detail)
}

var requiredEntryOrder = []string{
	schemaledger.EntryTypeFirstImpression,
	schemaledger.EntryTypeAIExposure,
	schemaledger.EntryTypeReconciliation,
}

// ValidateChain replays the entries from index 0 and returns every violation
// found: entry-type ordering, payload variant consistency, recomputed content
// hashes, recomputed chain hashes, and previous-hash linkage. A clean chain
// returns an empty list.
func ValidateChain(entries []schemaledger.Entry) []Violation {
	violations := []Violation{}
	if len(entries) > len(requiredEntryOrder) {
		violations = append(violations, Violation{
			Index:  len(requiredEntryOrder),
			Kind:   ViolationBadEntryType,
			Detail: fmt.Sprintf("ledger must contain at most %d entries, found %d", len(requiredEntryOrder), len(entries)),
		})
	}

	var previousLink *hashchain.Link
	for index, entry := range entries {
		if index < len(requiredEntryOrder) && entry.EntryType != requiredEntryOrder[index] {
			violations = append(violations, Violation{
				Index:  index,
				Kind:   ViolationBadEntryType,
				Detail: fmt.Sprintf("expected entry_type %s, got %s", requiredEntryOrder[index], entry.EntryType),
			})
		}

		payload, payloadErr := entryPayload(entry)
		if payloadErr != nil {
			violations = append(violations, Violation{Index: index, Kind: ViolationBadPayload, Detail: payloadErr.Error()})
		} else {
			contentHash, hashErr := hashchain.ComputeContentHash(payload)
			if hashErr != nil {
				violations = append(violations, Violation{Index: index, Kind: ViolationBadContentHash, Detail: hashErr.Error()})
			} else if !strings.EqualFold(contentHash, entry.ContentHash) {
				violations = append(violations, Violation{
					Index:  index,
					Kind:   ViolationBadContentHash,
					Detail: fmt.Sprintf("content_hash %s does not match recomputed %s", entry.ContentHash, contentHash),
				})
			}
		}

		link := entryLink(entry)
		if result := hashchain.VerifyLink(link, previousLink); !result.Valid {
			violations = append(violations, Violation{Index: index, Kind: string(result.Kind), Detail: result.Reason})
		}
		linkCopy := link
		previousLink = &linkCopy
	}
	return violations
}

// ValidateChain validates this session's recorded entries.
func (session *Session) ValidateChain() []Violation {
	return ValidateChain(session.entries)
}

// entryPayload returns the single variant matching the entry type, rejecting
// missing or extra variants so illegal combinations cannot slip through a
// hand-edited ledger file.
func entryPayload(entry schemaledger.Entry) (any, error) {
	populated := 0
	if entry.FirstImpression != nil {
		populated++
	}
	if entry.AIExposure != nil {
		populated++
	}
	if entry.Reconciliation != nil {
		populated++
	}
	if populated != 1 {
		return nil, fmt.Errorf("entry must carry exactly one payload variant, found %d", populated)
	}
	switch entry.EntryType {
	case schemaledger.EntryTypeFirstImpression:
		if entry.FirstImpression == nil {
			return nil, fmt.Errorf("entry_type %s does not match populated payload variant", entry.EntryType)
		}
		return entry.FirstImpression, nil
	case schemaledger.EntryTypeAIExposure:
		if entry.AIExposure == nil {
			return nil, fmt.Errorf("entry_type %s does not match populated payload variant", entry.EntryType)
		}
		return entry.AIExposure, nil
	case schemaledger.EntryTypeReconciliation:
		if entry.Reconciliation == nil {
			return nil, fmt.Errorf("entry_type %s does not match populated payload variant", entry.EntryType)
		}
		return entry.Reconciliation, nil
	default:
		return nil, fmt.Errorf("unknown entry_type %q", entry.EntryType)
	}
}

func entryLink(entry schemaledger.Entry) hashchain.Link {
	return hashchain.Link{
		Seq:          entry.Seq,
		EntryID:      entry.EntryID,
		EntryType:    entry.EntryType,
		Timestamp:    entry.Timestamp,
		PreviousHash: entry.PreviousHash,
		ContentHash:  entry.ContentHash,
		ChainHash:    entry.ChainHash,
	}
}
