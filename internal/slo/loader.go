package slo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefinitionFile is the on-disk shape of a definitions file: one document
// carrying any number of SLOs.
type DefinitionFile struct {
	SLOs []Definition `yaml:"slos"`
}

// LoadFromDirectory discovers and loads all SLO definition files from a
// directory tree. Files that fail to parse are reported as validation
// errors; definitions from the remaining files are still returned.
func LoadFromDirectory(dirPath string) ([]DefinitionWithFile, []ValidationError) {
	var defs []DefinitionWithFile
	var errors []ValidationError

	files, err := discoverYAMLFiles(dirPath)
	if err != nil {
		errors = append(errors, ValidationError{
			File:    dirPath,
			Message: fmt.Sprintf("failed to read directory: %v", err),
		})
		return nil, errors
	}

	for _, file := range files {
		parsed, err := parseDefinitionFile(file)
		if err != nil {
			errors = append(errors, ValidationError{
				File:    file,
				Message: fmt.Sprintf("failed to parse YAML: %v", err),
			})
			continue
		}
		for _, def := range parsed {
			defs = append(defs, DefinitionWithFile{Definition: def, File: file})
		}
	}

	return defs, errors
}

// LoadDefinitions is LoadFromDirectory without file attribution, failing on
// the first error. Meant for callers that need a ready-to-use set.
func LoadDefinitions(dirPath string) ([]Definition, error) {
	withFiles, errs := LoadFromDirectory(dirPath)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	defs := make([]Definition, 0, len(withFiles))
	for _, wf := range withFiles {
		if err := wf.Definition.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", wf.File, err)
		}
		defs = append(defs, wf.Definition)
	}
	return defs, nil
}

// GroupByService buckets definitions by service name, each bucket sorted by
// SLO name.
func GroupByService(defs []Definition) map[string][]Definition {
	grouped := make(map[string][]Definition)
	for _, def := range defs {
		grouped[def.ServiceName] = append(grouped[def.ServiceName], def)
	}
	for _, svc := range grouped {
		sort.Slice(svc, func(i, j int) bool { return svc[i].Name < svc[j].Name })
	}
	return grouped
}

// discoverYAMLFiles finds all *.yaml and *.yml files under a directory.
func discoverYAMLFiles(dirPath string) ([]string, error) {
	var files []string

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// parseDefinitionFile parses a single YAML file into definitions.
func parseDefinitionFile(filePath string) ([]Definition, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var file DefinitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.SLOs) == 0 {
		return nil, fmt.Errorf("no slos defined")
	}

	return file.SLOs, nil
}
