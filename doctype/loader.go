package doctype

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lodestone-cms/lodestone/schema"
)

// typeFile is the on-disk shape of a document type definition file.
type typeFile struct {
	Types []typeDefinition `yaml:"types"`
}

type typeDefinition struct {
	Name       string          `yaml:"name"`
	Label      string          `yaml:"label"`
	Collection string          `yaml:"collection"`
	URLPrefix  string          `yaml:"urlPrefix"`
	Fields     []*schema.Field `yaml:"fields"`
	Remove     []string        `yaml:"removeFields"`
	Require    []string        `yaml:"requireFields"`
	Arrange    []schema.Group  `yaml:"arrange"`
}

// Load reads declarative document type definitions, composes each type's
// schema and registers a manager per type. Returns the managers in file
// order.
func (r *Registry) Load(reader io.Reader, composer *schema.Composer) ([]*Manager, error) {
	var file typeFile
	if err := yaml.NewDecoder(reader).Decode(&file); err != nil {
		return nil, fmt.Errorf("doctype: parse definitions: %w", err)
	}
	if composer == nil {
		composer = schema.NewComposer(r.logger)
	}

	managers := make([]*Manager, 0, len(file.Types))
	for _, def := range file.Types {
		fields, err := composer.Compose(schema.Spec{
			AddFields:     def.Fields,
			RemoveFields:  def.Remove,
			RequireFields: def.Require,
			ArrangeGroups: def.Arrange,
		})
		if err != nil {
			return nil, fmt.Errorf("doctype: compose %s: %w", def.Name, err)
		}

		var urlFunc URLFunc
		if prefix := def.URLPrefix; prefix != "" {
			urlFunc = func(doc map[string]any) string {
				slug, _ := doc["slug"].(string)
				return prefix + "/" + slug
			}
		}

		m, err := r.Add(Definition{
			Name:       def.Name,
			Label:      def.Label,
			Collection: def.Collection,
			Fields:     fields,
			URLFunc:    urlFunc,
		})
		if err != nil {
			return nil, err
		}
		managers = append(managers, m)
	}
	return managers, nil
}

// LoadFile is Load over a file path.
func (r *Registry) LoadFile(path string, composer *schema.Composer) ([]*Manager, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("doctype: open definitions: %w", err)
	}
	defer f.Close()
	return r.Load(f, composer)
}
