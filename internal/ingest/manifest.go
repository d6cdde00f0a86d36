package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// manifestFileName is the optional per-resource-directory manifest that
// overrides dataset file names.
const manifestFileName = "sources.yaml"

// Default dataset file names.
const (
	defaultMetadataFile = "metadata.tsv"
	defaultCoeditFile   = "coedit_counts.tsv"
	defaultTemporalFile = "temporal.tsv"
)

// Manifest describes where each dataset lives inside a resource directory.
type Manifest struct {
	Metadata string `yaml:"metadata"`
	Coedits  string `yaml:"coedits"`
	Temporal string `yaml:"temporal"`
}

// loadManifest reads sources.yaml from the resource directory if present,
// filling in defaults for anything it does not override.
func loadManifest(resourceDir string) (*Manifest, error) {
	m := &Manifest{
		Metadata: defaultMetadataFile,
		Coedits:  defaultCoeditFile,
		Temporal: defaultTemporalFile,
	}

	path := filepath.Join(resourceDir, manifestFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if m.Metadata == "" {
		m.Metadata = defaultMetadataFile
	}
	if m.Coedits == "" {
		m.Coedits = defaultCoeditFile
	}
	if m.Temporal == "" {
		m.Temporal = defaultTemporalFile
	}
	return m, nil
}
