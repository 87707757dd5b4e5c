package pipefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pipec/internal/spirv"
)

// LoadFile parses a YAML description and reads the module files of its
// stages. WGSL sources are compiled to SPIR-V.
func LoadFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file %q: %w", path, err)
	}

	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse pipeline file %q: %w", path, err)
	}
	if err := spec.readModules(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("pipeline file %q: %w", path, err)
	}
	if spec.Name == "" {
		spec.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &spec, nil
}

// ParseJSON parses a description with inlined module bytes. File references
// are rejected.
func ParseJSON(data []byte) (*Spec, error) {
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse pipeline JSON: %w", err)
	}
	for name, st := range spec.Stages {
		if st.File != "" {
			return nil, fmt.Errorf("stages.%s: file references are not allowed here", name)
		}
	}
	return &spec, nil
}

func (s *Spec) readModules(baseDir string) error {
	for name, st := range s.Stages {
		if st.File == "" {
			return fmt.Errorf("stages.%s: file is required", name)
		}
		path := st.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		code, err := ReadModule(path)
		if err != nil {
			return fmt.Errorf("stages.%s: %w", name, err)
		}
		st.Code = code
		s.Stages[name] = st
	}
	return nil
}

// ReadModule reads a shader file. Files ending in .wgsl are compiled; any
// other file is returned as is.
func ReadModule(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shader %q: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".wgsl") {
		code, err := spirv.CompileWGSL(string(data))
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", path, err)
		}
		return code, nil
	}
	return data, nil
}
