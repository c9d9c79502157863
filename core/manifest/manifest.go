// Package manifest builds and checks {path, bytes, sha256} export manifests.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/readerseal/core/errors"
	"github.com/davidahmann/readerseal/core/fsx"
	"github.com/davidahmann/readerseal/core/hashchain"
	schemapack "github.com/davidahmann/readerseal/core/schema/v1/pack"
)

type Mismatch struct {
	Path     string `json:"path"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

type Report struct {
	EntriesChecked int        `json:"entries_checked"`
	MissingFiles   []string   `json:"missing_files,omitempty"`
	Mismatches     []Mismatch `json:"mismatches,omitempty"`
}

func (report Report) Pass() bool {
	return len(report.MissingFiles) == 0 && len(report.Mismatches) == 0
}

// Build produces manifest entries for the given relative paths under rootDir.
func Build(rootDir string, paths []string, producerVersion string, now time.Time) (schemapack.Manifest, error) {
	createdAt := now.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if producerVersion == "" {
		producerVersion = "0.0.0-dev"
	}
	entries := make([]schemapack.ManifestEntry, 0, len(paths))
	for _, relativePath := range paths {
		fullPath := filepath.Join(rootDir, filepath.FromSlash(relativePath))
		info, err := os.Stat(fullPath)
		if err != nil {
			return schemapack.Manifest{}, fmt.Errorf("stat %s: %w", relativePath, err)
		}
		digest, err := hashFile(fullPath)
		if err != nil {
			return schemapack.Manifest{}, fmt.Errorf("hash %s: %w", relativePath, err)
		}
		entries = append(entries, schemapack.ManifestEntry{
			Path:   filepath.ToSlash(relativePath),
			Bytes:  info.Size(),
			SHA256: digest,
		})
	}
	sort.Slice(entries, func(leftIndex, rightIndex int) bool {
		return entries[leftIndex].Path < entries[rightIndex].Path
	})
	return schemapack.Manifest{
		SchemaID:        schemapack.ManifestSchemaID,
		SchemaVersion:   schemapack.ManifestSchemaVersion,
		CreatedAt:       createdAt,
		ProducerVersion: producerVersion,
		ChainFormat:     hashchain.FormatFixedV1,
		Entries:         entries,
	}, nil
}

// Check verifies every manifest entry against the files under rootDir:
// existence, byte length, and a streamed sha256 digest. It never stops at the
// first failure; auditors need the complete list.
func Check(rootDir string, manifest schemapack.Manifest) Report {
	report := Report{EntriesChecked: len(manifest.Entries)}
	for _, entry := range manifest.Entries {
		fullPath := filepath.Join(rootDir, filepath.FromSlash(entry.Path))
		info, err := os.Stat(fullPath)
		if err != nil {
			report.MissingFiles = append(report.MissingFiles, entry.Path)
			continue
		}
		if info.Size() != entry.Bytes {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Path:     entry.Path,
				Field:    "bytes",
				Expected: fmt.Sprintf("%d", entry.Bytes),
				Actual:   fmt.Sprintf("%d", info.Size()),
			})
		}
		actualDigest, err := hashFile(fullPath)
		if err != nil {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Path:     entry.Path,
				Field:    "sha256",
				Expected: entry.SHA256,
				Actual:   fmt.Sprintf("unreadable: %v", err),
			})
			continue
		}
		if !strings.EqualFold(actualDigest, entry.SHA256) {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Path:     entry.Path,
				Field:    "sha256",
				Expected: strings.ToLower(entry.SHA256),
				Actual:   actualDigest,
			})
		}
	}
	sort.Strings(report.MissingFiles)
	sort.Slice(report.Mismatches, func(leftIndex, rightIndex int) bool {
		if report.Mismatches[leftIndex].Path != report.Mismatches[rightIndex].Path {
			return report.Mismatches[leftIndex].Path < report.Mismatches[rightIndex].Path
		}
		return report.Mismatches[leftIndex].Field < report.Mismatches[rightIndex].Field
	})
	return report
}

func Write(path string, manifest schemapack.Manifest) error {
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	encoded = append(encoded, '\n')
	return fsx.WriteFileAtomic(path, encoded, 0o600)
}

func Read(path string) (schemapack.Manifest, error) {
	// #nosec G304 -- manifest path is an explicit local path.
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return schemapack.Manifest{}, coreerrors.Wrap(fmt.Errorf("manifest missing: %s", path), coreerrors.CategoryMissingFile, "missing_file", "the pack directory must contain export_manifest.json")
		}
		return schemapack.Manifest{}, coreerrors.Wrap(fmt.Errorf("read manifest: %w", err), coreerrors.CategoryIOFailure, "read_failed", "")
	}
	var manifest schemapack.Manifest
	if err := json.Unmarshal(content, &manifest); err != nil {
		return schemapack.Manifest{}, coreerrors.Wrap(fmt.Errorf("parse manifest: %w", err), coreerrors.CategoryParseError, "parse_failed", "export_manifest.json must be valid JSON")
	}
	if manifest.SchemaID != schemapack.ManifestSchemaID {
		return schemapack.Manifest{}, coreerrors.Wrap(fmt.Errorf("manifest schema_id must be %s, got %q", schemapack.ManifestSchemaID, manifest.SchemaID), coreerrors.CategoryParseError, "schema_mismatch", "")
	}
	if manifest.ChainFormat != hashchain.FormatFixedV1 {
		return schemapack.Manifest{}, coreerrors.Wrap(fmt.Errorf("manifest declares unsupported chain_format %q", manifest.ChainFormat), coreerrors.CategoryParseError, "chain_format_unsupported", "only fixed_v1 ledgers can be verified by this build")
	}
	return manifest, nil
}

// hashFile streams the file through sha256 so memory stays constant for any
// file size.
func hashFile(path string) (string, error) {
	// #nosec G304 -- path is derived from a manifest entry under the pack root.
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = file.Close()
	}()
	hashWriter := sha256.New()
	if _, err := io.Copy(hashWriter, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hashWriter.Sum(nil)), nil
}
