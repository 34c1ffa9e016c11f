package wizard

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed definitions/*.yaml
var builtin embed.FS

// Loader reads wizard definitions from YAML files and computes SHA-256
// checksums.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadBuiltin returns the wizards shipped with the binary.
func (l *Loader) LoadBuiltin() ([]Definition, error) {
	sub, err := fs.Sub(builtin, "definitions")
	if err != nil {
		return nil, err
	}
	return l.LoadFS(sub, "builtin")
}

// LoadAll recursively scans directories for *.yaml and *.yml files.
func (l *Loader) LoadAll(directories []string) ([]Definition, error) {
	var defs []Definition
	for _, dir := range directories {
		found, err := l.LoadFS(os.DirFS(dir), dir)
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
		defs = append(defs, found...)
	}
	return defs, nil
}

// LoadFS walks fsys for YAML files. Source paths are reported relative to
// label.
func (l *Loader) LoadFS(fsys fs.FS, label string) ([]Definition, error) {
	var defs []Definition
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(path.Ext(p))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		def, err := l.Parse(data, filepath.Join(label, filepath.FromSlash(p)))
		if err != nil {
			return err
		}
		defs = append(defs, def)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return defs, nil
}

// LoadFile loads and parses a single YAML definition file.
func (l *Loader) LoadFile(file string) (Definition, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Definition{}, fmt.Errorf("reading %s: %w", file, err)
	}
	return l.Parse(data, file)
}

// Parse decodes one definition and records its checksum and source.
func (l *Loader) Parse(data []byte, source string) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parsing %s: %w", source, err)
	}
	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = source
	return def, nil
}
