// Package validator checks configuration fragments against JSON Schema
// documents before a write transaction opens.
package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"lunchbadger/configstore/pkg/store"
)

type rule struct {
	pattern *regexp.Regexp
	schema  string
}

// Validator routes file names to schemas via regex rules and validates
// file content against the selected schema. Files that match no rule are
// accepted. Safe for concurrent use; schemas can be swapped at runtime
// by the reload watcher.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
	rules   []rule
	logger  *slog.Logger
}

// New creates an empty Validator.
func New(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger,
	}
}

// RegisterSchema compiles a JSON Schema document and stores it under the
// given name, replacing any previous version.
func (v *Validator) RegisterSchema(name string, document []byte) error {
	compiler := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := compiler.AddResource(resource, bytes.NewReader(document)); err != nil {
		return fmt.Errorf("schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("schema %s: %w", name, err)
	}

	v.mu.Lock()
	v.schemas[name] = schema
	v.mu.Unlock()
	return nil
}

// AddRule associates a file-name pattern with a schema name. Rules are
// consulted in registration order; the first match wins.
func (v *Validator) AddRule(pattern, schemaName string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("rule pattern %q: %w", pattern, err)
	}
	v.mu.Lock()
	v.rules = append(v.rules, rule{pattern: re, schema: schemaName})
	v.mu.Unlock()
	return nil
}

// LoadDir registers every *.json document in dir under its base name
// without extension.
func (v *Validator) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read schema directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		document, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read schema %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		if err := v.RegisterSchema(name, document); err != nil {
			return err
		}
		v.logger.Debug("registered schema", "name", name)
	}
	return nil
}

// Validate checks content against the schema selected by the first rule
// matching fileName. A ValidationFailed error carries every violation,
// one line per data path.
func (v *Validator) Validate(fileName string, content []byte) error {
	v.mu.RLock()
	var schema *jsonschema.Schema
	var schemaName string
	for _, r := range v.rules {
		if r.pattern.MatchString(fileName) {
			schemaName = r.schema
			schema = v.schemas[r.schema]
			break
		}
	}
	v.mu.RUnlock()

	if schemaName == "" {
		return nil
	}
	if schema == nil {
		return store.NewError(store.KindValidationFailed,
			"%s: schema %s is not registered", fileName, schemaName)
	}

	var instance any
	decoder := json.NewDecoder(bytes.NewReader(content))
	decoder.UseNumber()
	if err := decoder.Decode(&instance); err != nil {
		return store.NewError(store.KindValidationFailed,
			"%s is not valid JSON: %v", fileName, err)
	}

	if err := schema.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if vErr, ok := err.(*jsonschema.ValidationError); ok {
			ve = vErr
		}
		return store.NewError(store.KindValidationFailed,
			"%s failed validation against schema %s:\n%s",
			fileName, schemaName, formatViolations(ve))
	}
	return nil
}

// formatViolations flattens the validation error tree into one line per
// leaf violation: "<data path>: <message>".
func formatViolations(ve *jsonschema.ValidationError) string {
	if ve == nil {
		return "unknown violation"
	}
	var lines []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "/"
			}
			lines = append(lines, fmt.Sprintf("  %s: %s", location, e.Message))
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return strings.Join(lines, "\n")
}
