package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/registry"
)

// document is the top level of a workflow file. A file holds either a
// "workflows" list or a single definition at the root.
type document struct {
	Workflows []map[string]any `yaml:"workflows"`
}

// ParseWorkflows decodes the workflow definitions in a YAML (or JSON) document.
// Unknown keys are rejected so typos in definitions surface at load time.
func ParseWorkflows(data []byte) ([]domain.WorkflowDefinition, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse workflow document: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var items []map[string]any
	if _, ok := raw["workflows"]; ok {
		var doc document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse workflow list: %w", err)
		}
		items = doc.Workflows
	} else {
		items = []map[string]any{raw}
	}

	defs := make([]domain.WorkflowDefinition, 0, len(items))
	for i, item := range items {
		def, err := decodeDefinition(item)
		if err != nil {
			return nil, fmt.Errorf("workflow #%d: %w", i+1, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func decodeDefinition(m map[string]any) (domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "yaml",
		Result:      &def,
		ErrorUnused: true,
	})
	if err != nil {
		return def, err
	}
	if err := decoder.Decode(m); err != nil {
		return def, fmt.Errorf("failed to decode definition: %w", err)
	}
	return def, nil
}

// LoadWorkflows reads definitions from a file or from every .yaml, .yml and
// .json file of a directory (non-recursive, in name order).
func LoadWorkflows(path string) ([]domain.WorkflowDefinition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workflows path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read workflows directory: %w", err)
		}
		files = files[:0]
		for _, e := range entries {
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".yaml", ".yml", ".json":
				if !e.IsDir() {
					files = append(files, filepath.Join(path, e.Name()))
				}
			}
		}
		sort.Strings(files)
	}

	var defs []domain.WorkflowDefinition
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		parsed, err := ParseWorkflows(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		defs = append(defs, parsed...)
	}
	return defs, nil
}

// LoadRegistry loads the definitions at path into a validated registry.
func LoadRegistry(path string, opts ...registry.WorkflowsOption) (*registry.Workflows, error) {
	defs, err := LoadWorkflows(path)
	if err != nil {
		return nil, err
	}
	return registry.NewWorkflows(defs, opts...)
}
