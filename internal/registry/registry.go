// Package registry loads the field registry from its embedded default
// table or an operator-supplied override file.
package registry

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/profile-engine/internal/model"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type fileSchema struct {
	Fields []model.FieldSpec `yaml:"fields"`
}

// Load builds the registry from the file at path, or from the embedded
// defaults when path is empty.
func Load(path string) (*model.FieldRegistry, error) {
	raw := defaultsYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "registry: read override file")
		}
		raw = b
	}
	return Parse(raw)
}

// Parse decodes and validates a registry document.
func Parse(raw []byte) (*model.FieldRegistry, error) {
	var doc fileSchema
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "registry: parse yaml")
	}
	if len(doc.Fields) == 0 {
		return nil, eris.New("registry: no fields defined")
	}

	seen := make(map[string]bool, len(doc.Fields))
	for i := range doc.Fields {
		f := &doc.Fields[i]
		if f.Key == "" {
			return nil, eris.New(fmt.Sprintf("registry: field %d has empty key", i))
		}
		if seen[f.Key] {
			return nil, eris.New(fmt.Sprintf("registry: duplicate field key %q", f.Key))
		}
		seen[f.Key] = true
		if f.Tier < 1 {
			return nil, eris.New(fmt.Sprintf("registry: field %q has invalid tier %d", f.Key, f.Tier))
		}
		if !f.Class.Valid() {
			return nil, eris.New(fmt.Sprintf("registry: field %q has invalid class %q", f.Key, f.Class))
		}
		if f.Class == model.ClassSignal && f.Category == "" {
			return nil, eris.New(fmt.Sprintf("registry: signal field %q missing category", f.Key))
		}
	}
	return model.NewFieldRegistry(doc.Fields), nil
}
