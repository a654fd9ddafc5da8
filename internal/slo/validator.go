package slo

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed schema/slo_v1.json
var schemaJSON string

// Validator checks SLO definition files against the embedded JSON schema
// and a set of semantic rules the schema cannot express.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded definition schema.
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to decode embedded schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("slo_v1.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("slo_v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDirectory validates every definition file under dirPath: schema
// first, then per-definition invariants, then cross-file rules.
func (v *Validator) ValidateDirectory(dirPath string) []ValidationError {
	files, err := discoverYAMLFiles(dirPath)
	if err != nil {
		return []ValidationError{{
			File:    dirPath,
			Message: fmt.Sprintf("failed to read directory: %v", err),
		}}
	}

	var allErrors []ValidationError
	var allDefs []DefinitionWithFile

	for _, file := range files {
		defs, errs := v.ValidateFile(file)
		allErrors = append(allErrors, errs...)
		for _, def := range defs {
			allDefs = append(allDefs, DefinitionWithFile{Definition: def, File: file})
		}
	}

	allErrors = append(allErrors, validateCrossFileRules(allDefs)...)
	return allErrors
}

// ValidateFile validates a single definition file. When the file is clean
// it returns the parsed definitions; when it is not, it returns every
// problem found.
func (v *Validator) ValidateFile(path string) ([]Definition, []ValidationError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []ValidationError{{File: path, Message: fmt.Sprintf("failed to read file: %v", err)}}
	}

	// Validate the raw document, not the parsed struct, so unknown keys
	// and misspellings surface as schema errors.
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, []ValidationError{{File: path, Message: fmt.Sprintf("failed to parse YAML: %v", err)}}
	}

	if err := v.schema.Validate(doc); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			return nil, extractSchemaErrors(path, validationErr)
		}
		return nil, []ValidationError{{File: path, Message: err.Error()}}
	}

	var file DefinitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, []ValidationError{{File: path, Message: fmt.Sprintf("failed to decode definitions: %v", err)}}
	}

	var errors []ValidationError
	for i, def := range file.SLOs {
		if err := def.Validate(); err != nil {
			errors = append(errors, ValidationError{
				File:    path,
				Path:    fmt.Sprintf("slos[%d]", i),
				Message: err.Error(),
			})
		}
		errors = append(errors, validateTypeFields(path, i, def)...)
	}
	if len(errors) > 0 {
		return nil, errors
	}

	return file.SLOs, nil
}

// extractSchemaErrors converts JSON schema validation errors to ValidationErrors.
func extractSchemaErrors(file string, err *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	path := strings.Join(err.InstanceLocation, ".")
	if path == "" {
		path = "(root)"
	}

	errors = append(errors, ValidationError{
		File:    file,
		Path:    path,
		Message: err.Error(),
	})

	for _, cause := range err.Causes {
		errors = append(errors, extractSchemaErrors(file, cause)...)
	}

	return errors
}

// validateTypeFields enforces the rules tying threshold_ms/percentile to
// latency SLOs.
func validateTypeFields(file string, index int, def Definition) []ValidationError {
	var errors []ValidationError

	if def.Type == TypeLatency {
		if def.ThresholdMs == nil {
			errors = append(errors, ValidationError{
				File:    file,
				Path:    fmt.Sprintf("slos[%d].threshold_ms", index),
				Message: "latency SLOs require threshold_ms",
			})
		}
		return errors
	}

	if def.ThresholdMs != nil {
		errors = append(errors, ValidationError{
			File:    file,
			Path:    fmt.Sprintf("slos[%d].threshold_ms", index),
			Message: fmt.Sprintf("threshold_ms is only meaningful for latency SLOs, not %s", def.Type),
		})
	}
	if def.Percentile != nil {
		errors = append(errors, ValidationError{
			File:    file,
			Path:    fmt.Sprintf("slos[%d].percentile", index),
			Message: fmt.Sprintf("percentile is only meaningful for latency SLOs, not %s", def.Type),
		})
	}

	return errors
}

// validateCrossFileRules checks rules that span files, currently duplicate
// service/name pairs.
func validateCrossFileRules(defs []DefinitionWithFile) []ValidationError {
	var errors []ValidationError

	seen := make(map[string]string)
	for _, wf := range defs {
		key := wf.Definition.Key()
		if prevFile, exists := seen[key]; exists {
			errors = append(errors, ValidationError{
				File:    wf.File,
				Path:    "slos",
				Message: fmt.Sprintf("duplicate SLO %q (also in %s)", key, filepath.Base(prevFile)),
			})
		} else {
			seen[key] = wf.File
		}
	}

	return errors
}
