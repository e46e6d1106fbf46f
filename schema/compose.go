package schema

import (
	"fmt"

	"go.uber.org/zap"
)

// DefaultGroupName is used when no default group override is configured.
const DefaultGroupName = "default"

// Composer resolves schema specs into ordered, grouped field lists. A
// zero-value Composer is usable; DefaultGroup and Logger may be set to
// override the ungrouped-fields section and the warning sink.
type Composer struct {
	DefaultGroup Group
	Logger       *zap.Logger
}

// NewComposer creates a composer with the standard default group.
func NewComposer(logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		DefaultGroup: Group{Name: DefaultGroupName, Label: "Info"},
		Logger:       logger,
	}
}

// Compose resolves a spec into the final field order. It is a pure
// function of its inputs: the spec's fields are deep-copied, never
// mutated, and no global state is consulted.
func (c *Composer) Compose(spec Spec) ([]*Field, error) {
	fields, err := applyAdds(nil, spec.AddFields)
	if err != nil {
		return nil, err
	}

	fields = applyRemoves(fields, spec.RemoveFields)
	applyRequires(fields, spec.RequireFields)

	if spec.AlterFields != nil {
		fields = spec.AlterFields(fields)
	}

	def := c.defaultGroup()
	groups := arrangeGroups(&def, spec)

	fields = groupFields(fields, groups, def)

	c.validate(fields)
	return fields, nil
}

// Refine composes a spec on top of an existing schema: the existing
// fields seed the adds, and the grouping already established survives
// unless the spec overrides it. The schema passed in is never mutated.
func (c *Composer) Refine(existing []*Field, spec Spec) ([]*Field, error) {
	seeded := spec
	seeded.AddFields = append(CloneFields(existing), spec.AddFields...)
	seeded.ArrangeGroups = append(reconstructGroups(existing, c.defaultGroup().Name), spec.ArrangeGroups...)
	return c.Compose(seeded)
}

func (c *Composer) defaultGroup() Group {
	def := c.DefaultGroup
	if def.Name == "" {
		def.Name = DefaultGroupName
	}
	def.Fields = nil
	return def
}

// applyAdds applies adds in order with last-write-wins semantics: a
// repeated name drops the earlier entry, so the final position is the
// position among adds, not the original position.
func applyAdds(fields []*Field, adds []*Field) ([]*Field, error) {
	for _, add := range adds {
		if add.Name == "" {
			return nil, fmt.Errorf("schema: field with empty name (type %q)", add.Type)
		}
		if add.Type == "" {
			return nil, fmt.Errorf("schema: field %q has no type", add.Name)
		}
		for i, existing := range fields {
			if existing.Name == add.Name {
				fields = append(fields[:i], fields[i+1:]...)
				break
			}
		}
		fields = append(fields, add.Clone())
	}
	return fields, nil
}

func applyRemoves(fields []*Field, removes []string) []*Field {
	if len(removes) == 0 {
		return fields
	}
	drop := make(map[string]bool, len(removes))
	for _, name := range removes {
		drop[name] = true
	}
	kept := fields[:0]
	for _, f := range fields {
		if !drop[f.Name] {
			kept = append(kept, f)
		}
	}
	return kept
}

// applyRequires marks listed fields required. Names not present are
// silently ignored, so removeFields followed by requireFields naming a
// removed field is a no-op.
func applyRequires(fields []*Field, requires []string) {
	for _, name := range requires {
		if f := FieldByName(fields, name); f != nil {
			f.Required = true
		}
	}
}

// arrangeGroups resolves the arrangement instructions into the ordered
// group list (default group excluded; it is handled separately).
// Reconfiguring a group with the same name replaces it in place, at the
// position immediately before any ordered-last groups.
func arrangeGroups(def *Group, spec Spec) []Group {
	if len(spec.ArrangeNames) > 0 {
		def.Fields = append([]string(nil), spec.ArrangeNames...)
	}

	var groups []Group
	for _, g := range spec.ArrangeGroups {
		if g.Name == def.Name {
			def.Label = pick(g.Label, def.Label)
			def.Fields = append([]string(nil), g.Fields...)
			continue
		}
		groups = mergeGroup(groups, g)
	}
	return groups
}

func mergeGroup(groups []Group, g Group) []Group {
	g.Fields = append([]string(nil), g.Fields...)
	for i, existing := range groups {
		if existing.Name == g.Name {
			if g.Last == existing.Last {
				groups[i] = g
				return groups
			}
			groups = append(groups[:i], groups[i+1:]...)
			break
		}
	}
	if g.Last {
		return append(groups, g)
	}
	// Insert before the first ordered-last group.
	for i, existing := range groups {
		if existing.Last {
			groups = append(groups[:i], append([]Group{g}, groups[i:]...)...)
			return groups
		}
	}
	return append(groups, g)
}

// groupFields assigns every field to exactly one group and stabilizes the
// final order: one contiguous block per arranged group (in group order),
// then the default group's fields as the overall suffix.
func groupFields(fields []*Field, groups []Group, def Group) []*Field {
	index := make(map[string]*Field, len(fields))
	for _, f := range fields {
		index[f.Name] = f
	}

	placed := make(map[string]bool, len(fields))
	ordered := make([]*Field, 0, len(fields))

	for _, g := range groups {
		info := &GroupInfo{Name: g.Name, Label: g.Label, Last: g.Last}
		for _, name := range g.Fields {
			f, ok := index[name]
			if !ok || placed[name] {
				continue
			}
			f.Group = info
			placed[name] = true
			ordered = append(ordered, f)
		}
	}

	// Fields explicitly arranged into the default group come first within
	// it, then leftovers in working order.
	defInfo := &GroupInfo{Name: def.Name, Label: def.Label}
	var defaulted []*Field
	for _, name := range def.Fields {
		f, ok := index[name]
		if !ok || placed[name] {
			continue
		}
		f.Group = defInfo
		placed[name] = true
		defaulted = append(defaulted, f)
	}
	for _, f := range fields {
		if !placed[f.Name] {
			f.Group = defInfo
			placed[f.Name] = true
			defaulted = append(defaulted, f)
		}
	}

	return append(ordered, defaulted...)
}

// validate reports soft schema problems. A selection choice whose
// showFields entry references a missing field is a warning, not a
// failure.
func (c *Composer) validate(fields []*Field) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, f := range fields {
		if f.Type != "select" && f.Type != "checkboxes" {
			continue
		}
		for _, choice := range f.Choices {
			for _, shown := range choice.ShowFields {
				if FieldByName(fields, shown) == nil {
					logger.Warn("schema: choice shows unknown field",
						zap.String("field", f.Name),
						zap.Any("choice", choice.Value),
						zap.String("shows", shown),
					)
				}
			}
		}
	}
}

// reconstructGroups rebuilds arrangement instructions from per-field
// group annotations so refinement preserves established grouping. Fields
// annotated with the default group are left out; they fall back into the
// default group naturally.
func reconstructGroups(fields []*Field, defaultName string) []Group {
	var groups []Group
	pos := make(map[string]int)
	for _, f := range fields {
		if f.Group == nil || f.Group.Name == defaultName {
			continue
		}
		i, ok := pos[f.Group.Name]
		if !ok {
			groups = append(groups, Group{
				Name:  f.Group.Name,
				Label: f.Group.Label,
				Last:  f.Group.Last,
			})
			i = len(groups) - 1
			pos[f.Group.Name] = i
		}
		groups[i].Fields = append(groups[i].Fields, f.Name)
	}
	return groups
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
