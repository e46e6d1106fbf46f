// Package schema implements schema composition for document types:
// declarative add/remove/require/arrange instructions are resolved into an
// ordered, grouped field list that later stages (conversion, indexing,
// join resolution, querying) consume.
package schema

// Field describes one slot of a document schema. Name is unique within a
// flat schema. Type references a registered field type by name.
type Field struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Label    string `yaml:"label"`
	Def      any    `yaml:"def"`
	Required bool   `yaml:"required"`

	// Sortify marks the field as sorted through its normalized companion
	// property (see text.SortifiedName).
	Sortify bool `yaml:"sortify"`

	// Group is the non-owning back-reference assigned during composition.
	// It carries the group's identity only, never its membership.
	Group *GroupInfo `yaml:"-"`

	// Schema is the nested field list for array- and object-typed fields.
	Schema []*Field `yaml:"schema"`

	// Choices applies to selection-type fields. A choice may declare
	// ShowFields: names of sibling fields shown when the choice is active.
	Choices []Choice `yaml:"choices"`

	// Join attributes. A join field's name must start with the relation
	// sigil; WithType names the target document type.
	WithType           string         `yaml:"withType"`
	IDField            string         `yaml:"idField"`
	IDsField           string         `yaml:"idsField"`
	RelationshipsField string         `yaml:"relationshipsField"`
	RemovedIDsField    string         `yaml:"removedIdsField"`
	IfOnlyOne          bool           `yaml:"ifOnlyOne"`
	WithJoins          []string       `yaml:"withJoins"`
	Filters            map[string]any `yaml:"filters"`
}

// Choice is one option of a selection-type field.
type Choice struct {
	Label      string   `yaml:"label"`
	Value      any      `yaml:"value"`
	ShowFields []string `yaml:"showFields"`
}

// Group is a display/logical section of a schema. Fields lists member
// field names in order. Last forces the group after the default group.
type Group struct {
	Name   string   `yaml:"name"`
	Label  string   `yaml:"label"`
	Fields []string `yaml:"fields"`
	Last   bool     `yaml:"last"`
}

// GroupInfo is the membership-stripped copy of a group attached to each
// field, avoiding cyclic ownership between fields and groups.
type GroupInfo struct {
	Name  string
	Label string
	Last  bool
}

// Spec is the declarative input to Compose and Refine.
type Spec struct {
	AddFields     []*Field
	RemoveFields  []string
	RequireFields []string

	// ArrangeNames replaces the default group's membership with a plain
	// list of field names. ArrangeGroups appends or merges whole groups.
	ArrangeNames  []string
	ArrangeGroups []Group

	// AlterFields is an escape hatch invoked with the working field list
	// after add/remove/require, before grouping.
	AlterFields func([]*Field) []*Field
}

// Clone deep-copies a field, including nested sub-schemas.
func (f *Field) Clone() *Field {
	if f == nil {
		return nil
	}
	cp := *f
	if f.Group != nil {
		g := *f.Group
		cp.Group = &g
	}
	if f.Schema != nil {
		cp.Schema = CloneFields(f.Schema)
	}
	if f.Choices != nil {
		cp.Choices = make([]Choice, len(f.Choices))
		for i, c := range f.Choices {
			cc := c
			cc.ShowFields = append([]string(nil), c.ShowFields...)
			cp.Choices[i] = cc
		}
	}
	cp.WithJoins = append([]string(nil), f.WithJoins...)
	if f.Filters != nil {
		cp.Filters = make(map[string]any, len(f.Filters))
		for k, v := range f.Filters {
			cp.Filters[k] = v
		}
	}
	return &cp
}

// CloneFields deep-copies a field list.
func CloneFields(fields []*Field) []*Field {
	out := make([]*Field, len(fields))
	for i, f := range fields {
		out[i] = f.Clone()
	}
	return out
}

// FieldByName returns the named field from a flat schema, or nil.
func FieldByName(fields []*Field, name string) *Field {
	for _, f := range fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}
