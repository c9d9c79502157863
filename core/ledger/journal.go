package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/readerseal/core/errors"
	"github.com/davidahmann/readerseal/core/fsx"
	"github.com/davidahmann/readerseal/core/hashchain"
	schemaledger "github.com/davidahmann/readerseal/core/schema/v1/ledger"
)

const (
	journalSchemaID      = "readerseal.ledger.journal"
	journalSchemaVersion = "1.0.0"
	journalLockTimeout   = 2 * time.Second
	journalLockRetry     = 50 * time.Millisecond
	journalLockStale     = 5 * time.Minute
)

type JournalHeader struct {
	SchemaID        string    `json:"schema_id"`
	SchemaVersion   string    `json:"schema_version"`
	CreatedAt       time.Time `json:"created_at"`
	ProducerVersion string    `json:"producer_version"`
	CaseID          string    `json:"case_id"`
	ReaderID        string    `json:"reader_id"`
	ChainFormat     string    `json:"chain_format"`
}

type journalRecord struct {
	RecordType string              `json:"record_type"`
	Header     *JournalHeader      `json:"header,omitempty"`
	Entry      *schemaledger.Entry `json:"entry,omitempty"`
}

// StartJournal creates a new append-only session journal. Re-running against
// an existing journal for the same case and reader is a no-op.
func StartJournal(path, caseID, readerID, producerVersion string, now time.Time) error {
	caseID = strings.TrimSpace(caseID)
	readerID = strings.TrimSpace(readerID)
	if caseID == "" || readerID == "" {
		return invalidInput("case_id and reader_id are required")
	}
	createdAt := now.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if producerVersion == "" {
		producerVersion = "0.0.0-dev"
	}
	return withJournalLock(path, func() error {
		if _, statErr := os.Stat(path); statErr == nil {
			header, _, readErr := readJournal(path)
			if readErr != nil {
				return readErr
			}
			if header.CaseID != caseID || header.ReaderID != readerID {
				return invalidInput("journal already initialized for a different case or reader")
			}
			return nil
		}
		header := JournalHeader{
			SchemaID:        journalSchemaID,
			SchemaVersion:   journalSchemaVersion,
			CreatedAt:       createdAt,
			ProducerVersion: producerVersion,
			CaseID:          caseID,
			ReaderID:        readerID,
			ChainFormat:     hashchain.FormatFixedV1,
		}
		return appendJournalRecord(path, journalRecord{RecordType: "header", Header: &header})
	})
}

// LoadSession rebuilds the in-memory session from a journal and refuses to
// proceed if the persisted chain no longer validates.
func LoadSession(path string) (*Session, JournalHeader, error) {
	header, entries, err := readJournal(path)
	if err != nil {
		return nil, JournalHeader{}, err
	}
	if violations := ValidateChain(entries); len(violations) > 0 {
		cause := fmt.Errorf("journal chain invalid: %s", violations[0].String())
		return nil, JournalHeader{}, coreerrors.Wrap(cause, coreerrors.CategoryChainIntegrity, "journal_chain_invalid", "the journal was altered after it was written; it cannot be extended")
	}
	session := &Session{
		caseID:   header.CaseID,
		readerID: header.ReaderID,
		entries:  entries,
		phase:    phaseForEntryCount(len(entries)),
	}
	return session, header, nil
}

// Mutate loads the session, applies fn, and appends whatever entries fn
// recorded, all under the journal lock.
func Mutate(path string, fn func(*Session) error) (*Session, error) {
	var session *Session
	err := withJournalLock(path, func() error {
		loaded, _, loadErr := LoadSession(path)
		if loadErr != nil {
			return loadErr
		}
		before := len(loaded.entries)
		if fnErr := fn(loaded); fnErr != nil {
			return fnErr
		}
		for _, entry := range loaded.entries[before:] {
			entryCopy := entry
			if appendErr := appendJournalRecord(path, journalRecord{RecordType: "entry", Entry: &entryCopy}); appendErr != nil {
				return appendErr
			}
		}
		session = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func phaseForEntryCount(count int) Phase {
	switch count {
	case 0:
		return PhaseFirstImpression
	case 1:
		return PhaseAIExposure
	case 2:
		return PhaseReconciliation
	default:
		return PhaseComplete
	}
}

func readJournal(path string) (JournalHeader, []schemaledger.Entry, error) {
	// #nosec G304 -- journal path is an explicit local path.
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return JournalHeader{}, nil, coreerrors.Wrap(fmt.Errorf("journal missing: %s", path), coreerrors.CategoryMissingFile, "missing_file", "run session init first")
		}
		return JournalHeader{}, nil, coreerrors.Wrap(fmt.Errorf("open journal: %w", err), coreerrors.CategoryIOFailure, "open_failed", "")
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 128*1024), 8*1024*1024)
	lineNo := 0
	var header JournalHeader
	haveHeader := false
	var entries []schemaledger.Entry
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var record journalRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return JournalHeader{}, nil, parseFailure(fmt.Errorf("journal parse line %d: %w", lineNo, err))
		}
		switch record.RecordType {
		case "header":
			if haveHeader {
				return JournalHeader{}, nil, parseFailure(fmt.Errorf("journal contains duplicate header at line %d", lineNo))
			}
			if record.Header == nil || record.Header.CaseID == "" || record.Header.ReaderID == "" {
				return JournalHeader{}, nil, parseFailure(fmt.Errorf("journal header at line %d missing case_id or reader_id", lineNo))
			}
			if record.Header.ChainFormat != hashchain.FormatFixedV1 {
				return JournalHeader{}, nil, parseFailure(fmt.Errorf("journal header declares unsupported chain_format %q", record.Header.ChainFormat))
			}
			header = *record.Header
			haveHeader = true
		case "entry":
			if !haveHeader {
				return JournalHeader{}, nil, parseFailure(fmt.Errorf("journal entry before header at line %d", lineNo))
			}
			if record.Entry == nil {
				return JournalHeader{}, nil, parseFailure(fmt.Errorf("journal line %d missing entry payload", lineNo))
			}
			entries = append(entries, *record.Entry)
		default:
			return JournalHeader{}, nil, parseFailure(fmt.Errorf("journal line %d has unsupported record_type %q", lineNo, record.RecordType))
		}
	}
	if err := scanner.Err(); err != nil {
		return JournalHeader{}, nil, coreerrors.Wrap(fmt.Errorf("read journal: %w", err), coreerrors.CategoryIOFailure, "read_failed", "")
	}
	if !haveHeader {
		return JournalHeader{}, nil, parseFailure(fmt.Errorf("journal missing header"))
	}
	return header, entries, nil
}

func appendJournalRecord(path string, record journalRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}
	return fsx.AppendLine(path, encoded, 0o600)
}

func parseFailure(cause error) error {
	return coreerrors.Wrap(cause, coreerrors.CategoryParseError, "journal_invalid", "the journal file is corrupt; start a new session")
}

func withJournalLock(journalPath string, fn func() error) error {
	lockPath := journalPath + ".lock"
	lockDir := filepath.Dir(lockPath)
	if lockDir != "." && lockDir != "" {
		if err := os.MkdirAll(lockDir, 0o750); err != nil {
			return fmt.Errorf("prepare journal lock directory: %w", err)
		}
	}
	start := time.Now()
	for {
		// #nosec G304 -- lock path is derived from the journal path.
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_ = lockFile.Close()
			defer func() { _ = os.Remove(lockPath) }()
			return fn()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquire journal lock: %w", err)
		}
		if journalLockIsStale(lockPath, time.Now().UTC()) {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Since(start) >= journalLockTimeout {
			return fmt.Errorf("journal contention: lock timeout")
		}
		time.Sleep(journalLockRetry)
	}
}

func journalLockIsStale(lockPath string, now time.Time) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime().UTC()) > journalLockStale
}
