package fieldtype

import (
	"fmt"
	"strings"
	"sync"

	"github.com/lodestone-cms/lodestone/schema"
	"github.com/lodestone-cms/lodestone/store"
)

// Registry maps field type names to fully-resolved definitions. It is
// intended to be populated once at startup, then treated as read-only:
// concurrent lookups from many cursors are safe.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Type
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Type)}
}

// Register resolves and stores a type definition under its name,
// overwriting any previous registration. When Extend names an existing
// type, registration starts from a deep copy of that type and merges the
// new definition's own properties on top, so omitted properties inherit.
// Converter aliases are resolved against the merged converter set.
func (r *Registry) Register(t *Type) error {
	if t.Name == "" {
		return fmt.Errorf("fieldtype: type with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	resolved := t.clone()
	if t.Extend != "" {
		parent, ok := r.types[t.Extend]
		if !ok {
			return fmt.Errorf("fieldtype: %s extends unknown type %s", t.Name, t.Extend)
		}
		resolved = parent.clone()
		resolved.Name = t.Name
		resolved.Extend = t.Extend
		mergeType(resolved, t)
	}

	for format, sibling := range resolved.ConverterAliases {
		if _, own := t.Converters[format]; own {
			// A converter declared on the type itself shadows an
			// inherited alias for the same format.
			delete(resolved.ConverterAliases, format)
			continue
		}
		fn, ok := resolved.Converters[sibling]
		if !ok {
			return fmt.Errorf("fieldtype: %s aliases converter %s to missing %s", t.Name, format, sibling)
		}
		if resolved.Converters == nil {
			resolved.Converters = make(map[string]Converter)
		}
		resolved.Converters[format] = fn
	}

	r.types[resolved.Name] = resolved
	return nil
}

// mergeType overlays the child's own properties on a copied parent.
func mergeType(dst *Type, child *Type) {
	for k, v := range child.Converters {
		if dst.Converters == nil {
			dst.Converters = make(map[string]Converter)
		}
		dst.Converters[k] = v
	}
	for k, v := range child.ConverterAliases {
		if dst.ConverterAliases == nil {
			dst.ConverterAliases = make(map[string]string)
		}
		dst.ConverterAliases[k] = v
	}
	for k, v := range child.Exporters {
		if dst.Exporters == nil {
			dst.Exporters = make(map[string]Exporter)
		}
		dst.Exporters[k] = v
	}
	if child.Empty != nil {
		dst.Empty = child.Empty
	}
	if child.Index != nil {
		dst.Index = child.Index
	}
	if child.Bless != nil {
		dst.Bless = child.Bless
	}
	if child.Join != nil {
		j := *child.Join
		dst.Join = &j
	}
	if child.Default != nil {
		dst.Default = child.Default
	}
}

// Lookup returns the registered type, if any.
func (r *Registry) Lookup(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// IsJoin reports whether the named type declares join capability.
func (r *Registry) IsJoin(name string) (*JoinSpec, bool) {
	t, ok := r.Lookup(name)
	if !ok || t.Join == nil {
		return nil, false
	}
	return t.Join, true
}

// Convert sanitizes raw input (for example parsed form or CSV values)
// against a schema, assigning typed values onto target. A field whose
// type declares no converter for the requested format passes through
// unconverted; that is a skip, not an error. An unregistered field type
// is a configuration error.
func (r *Registry) Convert(fields []*schema.Field, raw map[string]any, format string, target store.Doc) error {
	for _, f := range fields {
		t, ok := r.Lookup(f.Type)
		if !ok {
			return fmt.Errorf("fieldtype: field %s has unregistered type %s", f.Name, f.Type)
		}
		value, present := raw[f.Name]
		if !present {
			continue
		}
		fn, ok := t.Converters[format]
		if !ok {
			// The type does not support this import format.
			continue
		}
		if err := fn(value, f, target); err != nil {
			return fmt.Errorf("fieldtype: converting %s: %w", f.Name, err)
		}
	}
	return nil
}

// Empty reports whether a field's value counts as empty. Types without an
// emptiness hook fall back to a generic test.
func (r *Registry) Empty(f *schema.Field, value any) bool {
	if t, ok := r.Lookup(f.Type); ok && t.Empty != nil {
		return t.Empty(f, value)
	}
	return genericEmpty(value)
}

// AllEmpty reports whether every schema field of the document is empty.
func (r *Registry) AllEmpty(fields []*schema.Field, doc store.Doc) bool {
	for _, f := range fields {
		if !r.Empty(f, doc[f.Name]) {
			return false
		}
	}
	return true
}

// NewInstance creates a document holding every field's default value.
// Join fields are computed relations and receive nothing.
func (r *Registry) NewInstance(fields []*schema.Field) store.Doc {
	doc := store.Doc{}
	for _, f := range fields {
		if _, isJoin := r.IsJoin(f.Type); isJoin {
			continue
		}
		if f.Def != nil {
			doc[f.Name] = store.CloneValue(f.Def)
			continue
		}
		if t, ok := r.Lookup(f.Type); ok && t.Default != nil {
			doc[f.Name] = store.CloneValue(t.Default)
		}
	}
	return doc
}

// IndexText feeds each field's indexable text into the sink via the
// type's index hook. Types without one contribute nothing.
func (r *Registry) IndexText(fields []*schema.Field, doc store.Doc, sink *TextSink) {
	for _, f := range fields {
		t, ok := r.Lookup(f.Type)
		if !ok || t.Index == nil {
			continue
		}
		t.Index(doc[f.Name], f, sink)
	}
}

// Export writes each field of the document into output using the type's
// exporter for the requested format, skipping types without one.
func (r *Registry) Export(fields []*schema.Field, doc store.Doc, format string, output map[string]any) {
	for _, f := range fields {
		t, ok := r.Lookup(f.Type)
		if !ok {
			continue
		}
		fn, ok := t.Exporters[format]
		if !ok {
			continue
		}
		fn(doc, f, output)
	}
}

// Bless invokes each field type's bless hook, letting join fields mark
// their declared filters as pre-approved for the identity's queries.
func (r *Registry) Bless(identity any, fields []*schema.Field) {
	for _, f := range fields {
		if t, ok := r.Lookup(f.Type); ok && t.Bless != nil {
			t.Bless(identity, f)
		}
		if len(f.Schema) > 0 {
			r.Bless(identity, f.Schema)
		}
	}
}

func genericEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}

// IDField returns the document property holding a forward one-to-one
// join's id, defaulting from the join's own name minus the sigil.
func IDField(f *schema.Field) string {
	if f.IDField != "" {
		return f.IDField
	}
	return strings.TrimPrefix(f.Name, "_") + "Id"
}

// IDsField is the array-of-ids analogue of IDField.
func IDsField(f *schema.Field) string {
	if f.IDsField != "" {
		return f.IDsField
	}
	return strings.TrimPrefix(f.Name, "_") + "Ids"
}
