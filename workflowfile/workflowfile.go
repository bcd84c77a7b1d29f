// Package workflowfile reads workflow definitions from JSON, YAML and HCL
// documents.
//
// JSON and YAML use the editor's document shape: "nodes" with "id",
// "subtype", "config", and "connections" with "source" and "target". HCL
// files describe the same graph with blocks:
//
//	name = "Research"
//
//	node "input" "question" {
//	  config = {
//	    value = env.QUESTION
//	  }
//	}
//
//	node "llm" "answer" {
//	  config = { prompt = upper("answer briefly") }
//	}
//
//	connection {
//	  source = "question"
//	  target = "answer"
//	}
//
// HCL expressions can read environment variables through env and call the
// string functions upper, lower, trimspace, join and format.
package workflowfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/internal/xjson"
)

// Format is a workflow document syntax.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// DetectFormat picks the format from a file name's extension.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".hcl":
		return FormatHCL, nil
	default:
		return "", fmt.Errorf("unsupported workflow file %q: want .json, .yaml, .yml or .hcl", name)
	}
}

// Load reads and parses the workflow file at path. A workflow without an ID
// is named after the file.
func Load(path string) (*graph.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	w, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	if w.ID == "" {
		w.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return w, nil
}

// Parse decodes data, choosing the format from name's extension.
func Parse(name string, data []byte) (*graph.Workflow, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}
	return Decode(format, name, data)
}

// Decode decodes data in the given format. name is used in diagnostics.
// Decode only checks syntax; graph.Workflow.Validate checks structure.
func Decode(format Format, name string, data []byte) (*graph.Workflow, error) {
	var w graph.Workflow
	switch format {
	case FormatJSON:
		if err := xjson.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	case FormatHCL:
		decoded, err := decodeHCL(name, data)
		if err != nil {
			return nil, err
		}
		w = *decoded
	default:
		return nil, fmt.Errorf("unsupported workflow format %q", format)
	}
	normalize(&w)
	return &w, nil
}

// Encode renders w in format. HCL is read-only.
func Encode(format Format, w *graph.Workflow) ([]byte, error) {
	switch format {
	case FormatJSON:
		return xjson.MarshalIndent(w, "", "  ")
	case FormatYAML:
		return yaml.Marshal(w)
	default:
		return nil, fmt.Errorf("cannot encode workflows as %q", format)
	}
}

// normalize gives every node a non-nil Config, as the editor does for
// empty configs.
func normalize(w *graph.Workflow) {
	for i := range w.Nodes {
		if w.Nodes[i].Config == nil {
			w.Nodes[i].Config = graph.Config{}
		}
	}
}
