package pack

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type packFile struct {
	Packs []Definition `yaml:"packs"`
}

// LoadYAML registers every pack defined in a YAML document.
func (r *Registry) LoadYAML(data []byte) error {
	var f packFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("pack file: %w", err)
	}
	for _, def := range f.Packs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile registers every pack defined in a YAML file on disk.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("pack file %s: %w", path, err)
	}
	if err := r.LoadYAML(data); err != nil {
		return fmt.Errorf("pack file %s: %w", path, err)
	}
	return nil
}
