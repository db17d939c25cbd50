package process

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// definitionDoc mirrors ProcessDefinition's exported fields so a definition
// file can be unmarshaled directly, then handed to NewProcessDefinition for
// validation and index building (ProcessDefinition's own unexported index
// fields must never be populated by a decoder).
type definitionDoc struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Version   string         `json:"version" yaml:"version"`
	Nodes     []*ProcessNode `json:"nodes" yaml:"nodes"`
	Edges     []*ProcessEdge `json:"edges" yaml:"edges"`
	Variables []Variable     `json:"variables" yaml:"variables"`
	Triggers  []Trigger      `json:"triggers" yaml:"triggers"`
	Settings  Settings       `json:"settings" yaml:"settings"`
}

func (d definitionDoc) build() (*ProcessDefinition, error) {
	return NewProcessDefinition(d.ID, d.Name, d.Version, d.Nodes, d.Edges, d.Variables, d.Triggers, d.Settings)
}

// LoadDefinitionJSON parses a process definition document encoded as JSON.
func LoadDefinitionJSON(data []byte) (*ProcessDefinition, error) {
	var doc definitionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse process definition json: %w", err)
	}
	return doc.build()
}

// LoadDefinitionYAML parses a process definition document encoded as YAML.
func LoadDefinitionYAML(data []byte) (*ProcessDefinition, error) {
	var doc definitionDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse process definition yaml: %w", err)
	}
	return doc.build()
}
