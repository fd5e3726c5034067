// Package definition reads and writes workflow definition files. YAML is the
// native format; JSON documents and n8n exports are accepted.
package definition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Tsinling0525/weir/format/n8n"
	"github.com/Tsinling0525/weir/model"
)

var ErrEmpty = errors.New("definition: empty document")

// exportShape detects n8n exports by their top-level keys.
type exportShape struct {
	Nodes       []json.RawMessage          `json:"nodes"`
	Connections map[string]json.RawMessage `json:"connections"`
}

// Parse decodes one definition. Documents starting with '{' are read as
// JSON, everything else as YAML. Unknown keys are rejected so typos in
// hand-written files surface early.
func Parse(data []byte) (model.WorkflowDefinition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return model.WorkflowDefinition{}, ErrEmpty
	}
	if trimmed[0] == '{' {
		return parseJSON(trimmed)
	}

	var def model.WorkflowDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return model.WorkflowDefinition{}, ErrEmpty
		}
		return model.WorkflowDefinition{}, fmt.Errorf("definition: %w", err)
	}
	return def, nil
}

func parseJSON(data []byte) (model.WorkflowDefinition, error) {
	var p exportShape
	if err := json.Unmarshal(data, &p); err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("definition: %w", err)
	}
	if len(p.Nodes) > 0 && p.Connections != nil {
		var wf n8n.N8nWorkflow
		if err := json.Unmarshal(data, &wf); err != nil {
			return model.WorkflowDefinition{}, fmt.Errorf("definition: n8n export: %w", err)
		}
		return n8n.ParseWorkflow(wf)
	}
	var def model.WorkflowDefinition
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("definition: %w", err)
	}
	return def, nil
}

// Load reads a definition file.
func Load(path string) (model.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.WorkflowDefinition{}, err
	}
	def, err := Parse(data)
	if err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadDir reads every .yaml, .yml and .json file in dir, sorted by name.
func LoadDir(dir string) ([]model.WorkflowDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var defs []model.WorkflowDefinition
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		def, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Marshal encodes def as YAML.
func Marshal(def model.WorkflowDefinition) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(def); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadData decodes trigger data from a YAML or JSON document.
func ReadData(r io.Reader) (map[string]any, error) {
	var data map[string]any
	if err := yaml.NewDecoder(r).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("definition: data: %w", err)
	}
	return data, nil
}
