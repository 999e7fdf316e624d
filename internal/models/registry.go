// Package models manages the ONNX token-classification models used by the
// transformers engine: the embedded catalog, download and install, and
// verification of installed files.
package models

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

//go:embed catalog.json
var embeddedCatalog []byte

// RequiredFiles must all be present in an installed model directory.
var RequiredFiles = []string{"model.onnx", "labels.json", "tokenizer.json"}

const (
	checksumFile = ".checksum"
	manifestFile = ".manifest.json"
)

type Catalog struct {
	Version string      `json:"version"`
	Models  []ModelSpec `json:"models"`
}

type ModelSpec struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	Version      string   `json:"version"`
	Language     string   `json:"language"`
	Source       string   `json:"source"`
	URL          string   `json:"url"`
	Checksum     string   `json:"checksum"`
	SizeBytes    int64    `json:"size_bytes"`
	EntityTypes  []string `json:"entity_types"`
	Description  string   `json:"description"`
	Architecture string   `json:"architecture"`
	License      string   `json:"license"`
	Recommended  bool     `json:"recommended"`
}

// Pinned reports whether the catalog carries an archive checksum.
func (m ModelSpec) Pinned() bool { return m.Checksum != "" }

func LoadCatalog() (Catalog, error) {
	return parseCatalog(embeddedCatalog)
}

func parseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse model catalog: %w", err)
	}
	sort.Slice(c.Models, func(i, j int) bool { return c.Models[i].Name < c.Models[j].Name })
	return c, nil
}

func (c Catalog) Find(name string) (ModelSpec, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelSpec{}, false
}

// Recommended returns the first recommended model, if any.
func (c Catalog) Recommended() (ModelSpec, bool) {
	for _, m := range c.Models {
		if m.Recommended {
			return m, true
		}
	}
	return ModelSpec{}, false
}

func DefaultModelsRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".veil", "models"), nil
}

func InstallPath(root, name string) string {
	return filepath.Join(root, name)
}

func IsInstalled(root string, model ModelSpec) bool {
	return hasRequiredFiles(InstallPath(root, model.Name))
}

func hasRequiredFiles(dir string) bool {
	for _, f := range RequiredFiles {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			return false
		}
	}
	return true
}

// InstalledChecksum returns the archive checksum recorded at install time.
func InstalledChecksum(root string, model ModelSpec) (string, error) {
	b, err := os.ReadFile(filepath.Join(InstallPath(root, model.Name), checksumFile))
	if err != nil {
		return "", err
	}
	return string(trimNewline(b)), nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
