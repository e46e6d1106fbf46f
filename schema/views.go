package schema

// GroupedSchema is the grouped presentation of a composed schema: an
// ordered sequence of sections, each owning its fields in order.
type GroupedSchema []GroupedSection

// GroupedSection is one group together with its member fields.
type GroupedSection struct {
	Name   string
	Label  string
	Last   bool
	Fields []*Field
}

// ToGroups converts a composed flat schema into its grouped presentation.
// Groups appear in field order; after composition that means one section
// per contiguous group block. Sections never come back empty.
func ToGroups(fields []*Field) GroupedSchema {
	var grouped GroupedSchema
	pos := make(map[string]int)

	for _, f := range fields {
		name, label, last := DefaultGroupName, "", false
		if f.Group != nil {
			name, label, last = f.Group.Name, f.Group.Label, f.Group.Last
		}
		i, ok := pos[name]
		if !ok {
			grouped = append(grouped, GroupedSection{Name: name, Label: label, Last: last})
			i = len(grouped) - 1
			pos[name] = i
		}
		grouped[i].Fields = append(grouped[i].Fields, f)
	}
	return grouped
}

// ToGroups on an already-grouped schema is an idempotent no-op.
func (g GroupedSchema) ToGroups() GroupedSchema {
	return g
}

// Flatten converts the grouped presentation back into field order.
func (g GroupedSchema) Flatten() []*Field {
	var fields []*Field
	for _, section := range g {
		fields = append(fields, section.Fields...)
	}
	return fields
}

// Subset returns deep copies of the named fields, preserving composed
// order and group annotations. Dropping all of a group's members simply
// drops the group from the grouped presentation.
func Subset(fields []*Field, names ...string) []*Field {
	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[name] = true
	}
	var out []*Field
	for _, f := range fields {
		if want[f.Name] {
			out = append(out, f.Clone())
		}
	}
	return out
}
