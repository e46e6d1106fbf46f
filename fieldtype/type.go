// Package fieldtype implements the field type registry: each type is a
// named behavior bundle (conversion, emptiness, indexing, join driving,
// export) shared by every schema field of that type. Types are registered
// once at startup and are immutable afterwards; a type may extend another,
// inheriting a deep copy of its behavior.
package fieldtype

import (
	"strings"

	"github.com/lodestone-cms/lodestone/schema"
	"github.com/lodestone-cms/lodestone/store"
)

// Converter sanitizes one raw input value and assigns the typed result
// onto the target document. Returning an error fails the whole conversion.
type Converter func(value any, field *schema.Field, target store.Doc) error

// Exporter writes one field of a document into a flat export row.
type Exporter func(doc store.Doc, field *schema.Field, output map[string]any)

// TextSink accumulates indexable text extracted from a document.
type TextSink struct {
	parts []string
}

// Add appends a piece of text to the sink. Empty strings are dropped.
func (s *TextSink) Add(text string) {
	if text != "" {
		s.parts = append(s.parts, text)
	}
}

// Text returns the accumulated text joined with single spaces.
func (s *TextSink) Text() string {
	return strings.Join(s.parts, " ")
}

// JoinSpec declares that a field type is a relationship: Reverse joins
// look the relation up from the target side, Array joins carry many ids.
type JoinSpec struct {
	Reverse bool
	Array   bool
}

// Type is a registered field type definition.
type Type struct {
	Name string

	// Extend names a previously registered type whose behavior this type
	// inherits before its own properties are merged on top.
	Extend string

	// Converters maps an input format ("form", "csv") to its conversion
	// function. ConverterAliases maps a format to a sibling format whose
	// converter is reused; aliases are resolved at registration time.
	Converters       map[string]Converter
	ConverterAliases map[string]string

	// Optional capability hooks. Absence means the capability is
	// unsupported for this type, which is never an error.
	Empty     func(field *schema.Field, value any) bool
	Index     func(value any, field *schema.Field, sink *TextSink)
	Bless     func(identity any, field *schema.Field)
	Join      *JoinSpec
	Exporters map[string]Exporter

	// Default is the value a new instance receives when the field
	// declares no default of its own.
	Default any
}

// clone deep-copies a type definition. Function values are shared; the
// maps and the join spec are copied so extension never aliases state.
func (t *Type) clone() *Type {
	cp := *t
	if t.Converters != nil {
		cp.Converters = make(map[string]Converter, len(t.Converters))
		for k, v := range t.Converters {
			cp.Converters[k] = v
		}
	}
	if t.ConverterAliases != nil {
		cp.ConverterAliases = make(map[string]string, len(t.ConverterAliases))
		for k, v := range t.ConverterAliases {
			cp.ConverterAliases[k] = v
		}
	}
	if t.Exporters != nil {
		cp.Exporters = make(map[string]Exporter, len(t.Exporters))
		for k, v := range t.Exporters {
			cp.Exporters[k] = v
		}
	}
	if t.Join != nil {
		j := *t.Join
		cp.Join = &j
	}
	return &cp
}
