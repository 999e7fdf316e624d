package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"veil/internal/detect"
)

// manifest records the checksum of every required file at install time.
type manifest struct {
	Files map[string]string `json:"files"`
}

func buildManifest(dir string) (manifest, error) {
	m := manifest{Files: make(map[string]string, len(RequiredFiles))}
	for _, name := range RequiredFiles {
		sum, err := FileChecksum(filepath.Join(dir, name))
		if err != nil {
			return manifest{}, err
		}
		m.Files[name] = sum
	}
	return m, nil
}

func (m manifest) write(dir string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestFile), b, 0o644)
}

func readManifest(dir string) (manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return manifest{}, err
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// VerifyReport describes the state of an installed model.
type VerifyReport struct {
	Model     string   `json:"model"`
	Path      string   `json:"path"`
	Installed bool     `json:"installed"`
	Checksum  string   `json:"checksum,omitempty"`
	Modified  []string `json:"modified,omitempty"`
	Problem   string   `json:"problem,omitempty"`
}

// OK reports whether the install is complete and unmodified.
func (r VerifyReport) OK() bool {
	return r.Installed && r.Problem == "" && len(r.Modified) == 0
}

// Verify re-hashes the installed files against the install manifest, checks
// the recorded archive checksum against a pinned catalog entry, and parses the
// label map and tokenizer.
func Verify(root string, model ModelSpec) VerifyReport {
	dir := InstallPath(root, model.Name)
	rep := VerifyReport{Model: model.Name, Path: dir, Installed: IsInstalled(root, model)}
	if !rep.Installed {
		rep.Problem = "not installed"
		return rep
	}

	sum, err := InstalledChecksum(root, model)
	switch {
	case errors.Is(err, os.ErrNotExist):
		rep.Problem = "no recorded archive checksum"
		return rep
	case err != nil:
		rep.Problem = err.Error()
		return rep
	}
	rep.Checksum = sum
	if model.Pinned() && sum != model.Checksum {
		rep.Problem = fmt.Sprintf("installed archive %s does not match catalog %s", sum, model.Checksum)
		return rep
	}

	m, err := readManifest(dir)
	if err != nil {
		rep.Problem = err.Error()
		return rep
	}
	for _, name := range RequiredFiles {
		got, err := FileChecksum(filepath.Join(dir, name))
		if err != nil || got != m.Files[name] {
			rep.Modified = append(rep.Modified, name)
		}
	}
	sort.Strings(rep.Modified)
	if len(rep.Modified) > 0 {
		return rep
	}
	if err := detect.CheckModelFiles(dir); err != nil {
		rep.Problem = err.Error()
	}
	return rep
}
