package fieldtype

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lodestone-cms/lodestone/internal/util/text"
	"github.com/lodestone-cms/lodestone/schema"
	"github.com/lodestone-cms/lodestone/store"
)

// DefaultRegistry returns a registry pre-populated with the built-in
// field types. Applications typically extend it with their own.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, register := range []func(*Registry) error{
		registerString,
		registerSlug,
		registerNumbers,
		registerBoolean,
		registerSelect,
		registerCheckboxes,
		registerTags,
		registerDateTime,
		registerURL,
		registerArea,
		registerContainers,
		registerJoins,
	} {
		if err := register(r); err != nil {
			// Built-in registration only fails on a programming error in
			// this package, never on user input.
			panic(err)
		}
	}
	return r
}

func registerString(r *Registry) error {
	return r.Register(&Type{
		Name:    "string",
		Default: "",
		Converters: map[string]Converter{
			"csv": convertString,
		},
		ConverterAliases: map[string]string{
			"form": "csv",
		},
		Empty: func(f *schema.Field, value any) bool {
			s, _ := value.(string)
			return strings.TrimSpace(s) == ""
		},
		Index: func(value any, f *schema.Field, sink *TextSink) {
			if s, ok := value.(string); ok {
				sink.Add(s)
			}
		},
		Exporters: map[string]Exporter{
			"csv": func(doc store.Doc, f *schema.Field, output map[string]any) {
				s, _ := doc[f.Name].(string)
				output[f.Name] = s
			},
		},
	})
}

func convertString(value any, f *schema.Field, target store.Doc) error {
	s := stringify(value)
	target[f.Name] = s
	if f.Sortify {
		target[text.SortifiedName(f.Name)] = text.Sortify(s)
	}
	return nil
}

func registerSlug(r *Registry) error {
	return r.Register(&Type{
		Name:    "slug",
		Extend:  "string",
		Default: "",
		Converters: map[string]Converter{
			"csv": func(value any, f *schema.Field, target store.Doc) error {
				target[f.Name] = text.Slugify(stringify(value))
				return nil
			},
		},
	})
}

func registerNumbers(r *Registry) error {
	if err := r.Register(&Type{
		Name:    "integer",
		Default: 0,
		Converters: map[string]Converter{
			"csv": func(value any, f *schema.Field, target store.Doc) error {
				n, err := toInt(value)
				if err != nil {
					return fmt.Errorf("field %s: %w", f.Name, err)
				}
				target[f.Name] = n
				return nil
			},
		},
		ConverterAliases: map[string]string{"form": "csv"},
		Empty: func(f *schema.Field, value any) bool {
			return value == nil
		},
	}); err != nil {
		return err
	}
	return r.Register(&Type{
		Name:    "float",
		Default: 0.0,
		Converters: map[string]Converter{
			"csv": func(value any, f *schema.Field, target store.Doc) error {
				n, err := toFloat(value)
				if err != nil {
					return fmt.Errorf("field %s: %w", f.Name, err)
				}
				target[f.Name] = n
				return nil
			},
		},
		ConverterAliases: map[string]string{"form": "csv"},
		Empty: func(f *schema.Field, value any) bool {
			return value == nil
		},
	})
}

func registerBoolean(r *Registry) error {
	return r.Register(&Type{
		Name:    "boolean",
		Default: false,
		Converters: map[string]Converter{
			"csv": func(value any, f *schema.Field, target store.Doc) error {
				target[f.Name] = toBool(value)
				return nil
			},
		},
		ConverterAliases: map[string]string{"form": "csv"},
		Empty: func(f *schema.Field, value any) bool {
			return value == nil
		},
	})
}

func registerSelect(r *Registry) error {
	return r.Register(&Type{
		Name: "select",
		Converters: map[string]Converter{
			"csv": func(value any, f *schema.Field, target store.Doc) error {
				if v, ok := matchChoice(f, value); ok {
					target[f.Name] = v
				} else if f.Def != nil {
					target[f.Name] = f.Def
				}
				return nil
			},
		},
		ConverterAliases: map[string]string{"form": "csv"},
	})
}

func registerCheckboxes(r *Registry) error {
	return r.Register(&Type{
		Name:    "checkboxes",
		Extend:  "select",
		Default: []any{},
		Converters: map[string]Converter{
			"form": func(value any, f *schema.Field, target store.Doc) error {
				var chosen []any
				for _, item := range toList(value) {
					if v, ok := matchChoice(f, item); ok {
						chosen = append(chosen, v)
					}
				}
				target[f.Name] = chosen
				return nil
			},
			"csv": func(value any, f *schema.Field, target store.Doc) error {
				var chosen []any
				for _, part := range splitCSV(stringify(value)) {
					if v, ok := matchChoice(f, part); ok {
						chosen = append(chosen, v)
					}
				}
				target[f.Name] = chosen
				return nil
			},
		},
		Empty: func(f *schema.Field, value any) bool {
			list, _ := value.([]any)
			return len(list) == 0
		},
	})
}

func registerTags(r *Registry) error {
	return r.Register(&Type{
		Name:    "tags",
		Default: []any{},
		Converters: map[string]Converter{
			"form": func(value any, f *schema.Field, target store.Doc) error {
				target[f.Name] = normalizeTags(toList(value))
				return nil
			},
			"csv": func(value any, f *schema.Field, target store.Doc) error {
				parts := splitCSV(stringify(value))
				items := make([]any, len(parts))
				for i, p := range parts {
					items[i] = p
				}
				target[f.Name] = normalizeTags(items)
				return nil
			},
		},
		Empty: func(f *schema.Field, value any) bool {
			list, _ := value.([]any)
			return len(list) == 0
		},
		Index: func(value any, f *schema.Field, sink *TextSink) {
			for _, item := range toList(value) {
				if s, ok := item.(string); ok {
					sink.Add(s)
				}
			}
		},
	})
}

func registerDateTime(r *Registry) error {
	if err := r.Register(&Type{
		Name: "date",
		Converters: map[string]Converter{
			"csv": func(value any, f *schema.Field, target store.Doc) error {
				s := stringify(value)
				if s == "" {
					return nil
				}
				if _, err := time.Parse("2006-01-02", s); err != nil {
					return fmt.Errorf("field %s: invalid date %q", f.Name, s)
				}
				target[f.Name] = s
				return nil
			},
		},
		ConverterAliases: map[string]string{"form": "csv"},
	}); err != nil {
		return err
	}
	return r.Register(&Type{
		Name: "time",
		Converters: map[string]Converter{
			"csv": func(value any, f *schema.Field, target store.Doc) error {
				s := stringify(value)
				if s == "" {
					return nil
				}
				if _, err := time.Parse("15:04", s); err != nil {
					return fmt.Errorf("field %s: invalid time %q", f.Name, s)
				}
				target[f.Name] = s
				return nil
			},
		},
		ConverterAliases: map[string]string{"form": "csv"},
	})
}

func registerURL(r *Registry) error {
	return r.Register(&Type{
		Name:   "url",
		Extend: "string",
		Converters: map[string]Converter{
			"csv": func(value any, f *schema.Field, target store.Doc) error {
				s := strings.TrimSpace(stringify(value))
				if s != "" && !strings.Contains(s, "://") {
					s = "http://" + s
				}
				target[f.Name] = s
				return nil
			},
		},
	})
}

// registerArea installs the rich-content type. An area is a document of
// the shape {"items": [...]}. Emptiness is defined strictly by its item
// count; see the accompanying tests for why this is pinned down.
func registerArea(r *Registry) error {
	return r.Register(&Type{
		Name: "area",
		Converters: map[string]Converter{
			"form": func(value any, f *schema.Field, target store.Doc) error {
				area, ok := value.(map[string]any)
				if !ok {
					return fmt.Errorf("field %s: area must be an object", f.Name)
				}
				items, _ := area["items"].([]any)
				target[f.Name] = store.Doc{"items": store.CloneValue(items)}
				return nil
			},
		},
		Empty: func(f *schema.Field, value any) bool {
			area, ok := value.(map[string]any)
			if !ok {
				return true
			}
			items, _ := area["items"].([]any)
			return len(items) == 0
		},
		Index: func(value any, f *schema.Field, sink *TextSink) {
			area, ok := value.(map[string]any)
			if !ok {
				return
			}
			items, _ := area["items"].([]any)
			for _, item := range items {
				if m, ok := item.(map[string]any); ok {
					if s, ok := m["content"].(string); ok {
						sink.Add(s)
					}
				}
			}
		},
	})
}

func registerContainers(r *Registry) error {
	// Container conversion recurses into the field's sub-schema through
	// the registry itself.
	convertItems := func(value any, f *schema.Field, format string) ([]any, error) {
		items := toList(value)
		converted := make([]any, 0, len(items))
		for _, item := range items {
			raw, ok := item.(map[string]any)
			if !ok {
				continue
			}
			obj := store.Doc{}
			if err := r.Convert(f.Schema, raw, format, obj); err != nil {
				return nil, err
			}
			converted = append(converted, obj)
		}
		return converted, nil
	}

	if err := r.Register(&Type{
		Name:    "array",
		Default: []any{},
		Converters: map[string]Converter{
			"form": func(value any, f *schema.Field, target store.Doc) error {
				converted, err := convertItems(value, f, "form")
				if err != nil {
					return err
				}
				target[f.Name] = converted
				return nil
			},
		},
		Empty: func(f *schema.Field, value any) bool {
			list, _ := value.([]any)
			return len(list) == 0
		},
	}); err != nil {
		return err
	}
	return r.Register(&Type{
		Name: "object",
		Converters: map[string]Converter{
			"form": func(value any, f *schema.Field, target store.Doc) error {
				raw, ok := value.(map[string]any)
				if !ok {
					return fmt.Errorf("field %s: object value must be a map", f.Name)
				}
				obj := store.Doc{}
				if err := r.Convert(f.Schema, raw, "form", obj); err != nil {
					return err
				}
				target[f.Name] = obj
				return nil
			},
		},
		Empty: func(f *schema.Field, value any) bool {
			m, _ := value.(map[string]any)
			return len(m) == 0
		},
	})
}

func registerJoins(r *Registry) error {
	joins := []*Type{
		{
			Name: "joinByOne",
			Join: &JoinSpec{},
			Converters: map[string]Converter{
				"form": func(value any, f *schema.Field, target store.Doc) error {
					target[IDField(f)] = stringify(value)
					return nil
				},
			},
		},
		{
			Name: "joinByOneReverse",
			Join: &JoinSpec{Reverse: true},
		},
		{
			Name: "joinByArray",
			Join: &JoinSpec{Array: true},
			Converters: map[string]Converter{
				"form": func(value any, f *schema.Field, target store.Doc) error {
					ids := make([]any, 0)
					for _, item := range toList(value) {
						ids = append(ids, stringify(item))
					}
					target[IDsField(f)] = ids
					return nil
				},
			},
		},
		{
			Name: "joinByArrayReverse",
			Join: &JoinSpec{Array: true, Reverse: true},
		},
	}
	for _, t := range joins {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func matchChoice(f *schema.Field, value any) (any, bool) {
	for _, choice := range f.Choices {
		if fmt.Sprintf("%v", choice.Value) == fmt.Sprintf("%v", value) {
			return choice.Value, true
		}
	}
	return nil, false
}

func normalizeTags(items []any) []any {
	seen := make(map[string]bool)
	var tags []any
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		tags = append(tags, s)
	}
	if tags == nil {
		tags = []any{}
	}
	return tags
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func splitCSV(s string) []string {
	var parts []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func toList(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("cannot convert %T to integer", value)
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("cannot convert %T to number", value)
}

func toBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == "true" || s == "1" || s == "on" || s == "yes"
	case int:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}
