// Package definition loads YAML workflow definitions, validates them, and
// provides a fast-lookup registry with atomic pointer swap.
package definition

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/flowbase/model"
)

// Loader scans directories for YAML definition files, parses them, and computes
// SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a DefinitionFile. Files are visited in lexical order.
func (l *Loader) LoadAll(directories []string) ([]model.DefinitionFile, error) {
	var files []model.DefinitionFile

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			file, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			files = append(files, file)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return files, nil
}

// LoadFile loads and parses a single YAML definition file. The checksum and
// source path are recorded on the file and on each of its workflows.
func (l *Loader) LoadFile(path string) (model.DefinitionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.DefinitionFile{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var file model.DefinitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return model.DefinitionFile{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	file.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	file.SourceFile = path
	for i := range file.Workflows {
		file.Workflows[i].Checksum = file.Checksum
		file.Workflows[i].SourceFile = path
	}

	return file, nil
}
