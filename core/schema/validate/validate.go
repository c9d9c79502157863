// Package validate checks raw pack bytes against embedded JSON Schemas before
// any typed decoding happens. Structural errors surface here with schema
// pointers instead of as opaque unmarshal failures deeper in.
package validate

import (
	"bufio"
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"

	coreerrors "github.com/davidahmann/readerseal/core/errors"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	compileOnce sync.Once
	compileErr  error
	compiled    map[string]*jsonschema.Schema
)

const (
	schemaManifest = "export_manifest"
	schemaLedger   = "ledger"
	schemaEvent    = "event"
)

// Manifest validates raw export_manifest.json bytes.
func Manifest(data []byte) error {
	return validateDocument(schemaManifest, data)
}

// Ledger validates raw ledger.json bytes (the bare entry array).
func Ledger(data []byte) error {
	return validateDocument(schemaLedger, data)
}

// Events validates raw events.jsonl bytes line by line.
func Events(data []byte) error {
	schema, err := schemaByName(schemaEvent)
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if err := validateAgainst(schema, raw); err != nil {
			return coreerrors.Wrap(fmt.Errorf("events.jsonl line %d: %w", line, err),
				coreerrors.CategoryParseError, "event_schema_invalid", "each line must be one event object with type and timestamp")
		}
	}
	if err := scanner.Err(); err != nil {
		return coreerrors.Wrap(fmt.Errorf("read events: %w", err), coreerrors.CategoryIOFailure, "read_failed", "")
	}
	return nil
}

func validateDocument(name string, data []byte) error {
	schema, err := schemaByName(name)
	if err != nil {
		return err
	}
	if err := validateAgainst(schema, data); err != nil {
		return coreerrors.Wrap(fmt.Errorf("%s: %w", name, err),
			coreerrors.CategoryParseError, name+"_schema_invalid", "the file does not match its published schema")
	}
	return nil
}

func validateAgainst(schema *jsonschema.Schema, data []byte) error {
	var instance interface{}
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("schema validation failed: invalid JSON: %w", err)
	}
	result := schema.Validate(instance)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}

func schemaByName(name string) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = map[string]*jsonschema.Schema{}
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		for _, schemaName := range []string{schemaManifest, schemaLedger, schemaEvent} {
			raw, err := schemaFS.ReadFile("schemas/" + schemaName + ".schema.json")
			if err != nil {
				compileErr = fmt.Errorf("read embedded schema %s: %w", schemaName, err)
				return
			}
			schema, err := compiler.Compile(raw)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", schemaName, err)
				return
			}
			compiled[schemaName] = schema
		}
	})
	if compileErr != nil {
		return nil, coreerrors.Wrap(compileErr, coreerrors.CategoryInternalFailure, "schema_compile_failed", "")
	}
	return compiled[name], nil
}
