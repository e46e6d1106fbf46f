package fieldtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-cms/lodestone/schema"
	"github.com/lodestone-cms/lodestone/store"
)

func TestRegisterExtendInheritsAndOverrides(t *testing.T) {
	r := NewRegistry()
	calls := make(map[string]int)

	require.NoError(t, r.Register(&Type{
		Name:    "base",
		Default: "base-default",
		Converters: map[string]Converter{
			"csv": func(value any, f *schema.Field, target store.Doc) error {
				calls["base-csv"]++
				target[f.Name] = value
				return nil
			},
		},
		Empty: func(f *schema.Field, value any) bool { return value == nil },
	}))

	require.NoError(t, r.Register(&Type{
		Name:   "child",
		Extend: "base",
		Converters: map[string]Converter{
			"form": func(value any, f *schema.Field, target store.Doc) error {
				calls["child-form"]++
				target[f.Name] = value
				return nil
			},
		},
	}))

	child, ok := r.Lookup("child")
	require.True(t, ok)
	assert.Equal(t, "base-default", child.Default, "omitted properties inherit")
	assert.NotNil(t, child.Empty)
	assert.Len(t, child.Converters, 2, "inherited csv plus own form")

	// Extension copied, never aliased: re-registering the parent's state
	// must not change the child.
	base, _ := r.Lookup("base")
	base = base.clone()
	base.Default = "changed"
	require.NoError(t, r.Register(base))
	child, _ = r.Lookup("child")
	assert.Equal(t, "base-default", child.Default)
}

func TestRegisterUnknownParent(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Type{Name: "x", Extend: "missing"})
	assert.Error(t, err)
}

func TestConverterAliasResolution(t *testing.T) {
	r := DefaultRegistry()

	// The string type declares only a csv converter and aliases form to
	// it; both formats must convert.
	fields := []*schema.Field{{Name: "title", Type: "string"}}
	for _, format := range []string{"csv", "form"} {
		target := store.Doc{}
		require.NoError(t, r.Convert(fields, map[string]any{"title": 42}, format, target))
		assert.Equal(t, "42", target["title"], format)
	}
}

func TestOwnConverterShadowsInheritedAlias(t *testing.T) {
	r := NewRegistry()
	calls := make(map[string]int)

	require.NoError(t, r.Register(&Type{
		Name: "base",
		Converters: map[string]Converter{
			"csv": func(value any, f *schema.Field, target store.Doc) error {
				calls["base-csv"]++
				target[f.Name] = value
				return nil
			},
		},
		ConverterAliases: map[string]string{"form": "csv"},
	}))
	require.NoError(t, r.Register(&Type{
		Name:   "child",
		Extend: "base",
		Converters: map[string]Converter{
			"form": func(value any, f *schema.Field, target store.Doc) error {
				calls["child-form"]++
				target[f.Name] = value
				return nil
			},
		},
	}))

	// The child's own form converter wins over the parent's form→csv
	// alias.
	fields := []*schema.Field{{Name: "x", Type: "child"}}
	require.NoError(t, r.Convert(fields, map[string]any{"x": "v"}, "form", store.Doc{}))
	assert.Equal(t, 1, calls["child-form"])
	assert.Zero(t, calls["base-csv"])

	// Same invariant through the built-in catalogue: checkboxes extends
	// select (which aliases form to csv) but declares its own form
	// converter, which must accept a list instead of a CSV string.
	builtins := DefaultRegistry()
	days := []*schema.Field{{Name: "days", Type: "checkboxes", Choices: []schema.Choice{
		{Value: "sat"}, {Value: "sun"},
	}}}
	target := store.Doc{}
	require.NoError(t, builtins.Convert(days, map[string]any{"days": []any{"sun", "never"}}, "form", target))
	assert.Equal(t, []any{"sun"}, target["days"])
}

func TestRegisterAliasToMissingSibling(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Type{
		Name:             "broken",
		ConverterAliases: map[string]string{"form": "csv"},
	})
	assert.Error(t, err)
}

func TestConvertSkipsUnsupportedFormat(t *testing.T) {
	r := DefaultRegistry()

	// area declares no csv converter: the value passes through
	// unconverted, silently.
	fields := []*schema.Field{{Name: "body", Type: "area"}}
	target := store.Doc{}
	require.NoError(t, r.Convert(fields, map[string]any{"body": "ignored"}, "csv", target))
	_, present := target["body"]
	assert.False(t, present)
}

func TestConvertUnknownTypeFails(t *testing.T) {
	r := DefaultRegistry()
	fields := []*schema.Field{{Name: "x", Type: "no-such-type"}}
	err := r.Convert(fields, map[string]any{"x": 1}, "form", store.Doc{})
	assert.Error(t, err)
}

func TestConvertBuiltins(t *testing.T) {
	r := DefaultRegistry()
	fields := []*schema.Field{
		{Name: "title", Type: "string", Sortify: true},
		{Name: "permalink", Type: "slug"},
		{Name: "seats", Type: "integer"},
		{Name: "price", Type: "float"},
		{Name: "open", Type: "boolean"},
		{Name: "kind", Type: "select", Def: "talk", Choices: []schema.Choice{
			{Label: "Talk", Value: "talk"}, {Label: "Workshop", Value: "workshop"},
		}},
		{Name: "days", Type: "checkboxes", Choices: []schema.Choice{
			{Value: "sat"}, {Value: "sun"},
		}},
		{Name: "tags", Type: "tags"},
		{Name: "start", Type: "date"},
		{Name: "doors", Type: "time"},
		{Name: "site", Type: "url"},
	}

	target := store.Doc{}
	err := r.Convert(fields, map[string]any{
		"title":     "Hello, World!",
		"permalink": "Hello, World!",
		"seats":     "40",
		"price":     "9.5",
		"open":      "true",
		"kind":      "bogus",
		"days":      []any{"sun", "never"},
		"tags":      []any{" Jazz ", "jazz", "Blues"},
		"start":     "2026-05-01",
		"doors":     "19:30",
		"site":      "example.com",
	}, "form", target)
	require.NoError(t, err)

	assert.Equal(t, "Hello, World!", target["title"])
	assert.Equal(t, "hello world", target["titleSortified"])
	assert.Equal(t, "hello-world", target["permalink"])
	assert.Equal(t, 40, target["seats"])
	assert.Equal(t, 9.5, target["price"])
	assert.Equal(t, true, target["open"])
	assert.Equal(t, "talk", target["kind"], "invalid choice falls back to the default")
	assert.Equal(t, []any{"sun"}, target["days"])
	assert.Equal(t, []any{"jazz", "blues"}, target["tags"])
	assert.Equal(t, "2026-05-01", target["start"])
	assert.Equal(t, "19:30", target["doors"])
	assert.Equal(t, "http://example.com", target["site"])
}

func TestConvertRejectsBadDate(t *testing.T) {
	r := DefaultRegistry()
	fields := []*schema.Field{{Name: "start", Type: "date"}}
	err := r.Convert(fields, map[string]any{"start": "05/01/2026"}, "form", store.Doc{})
	assert.Error(t, err)
}

func TestConvertNestedArray(t *testing.T) {
	r := DefaultRegistry()
	fields := []*schema.Field{
		{Name: "slots", Type: "array", Schema: []*schema.Field{
			{Name: "label", Type: "string"},
			{Name: "seats", Type: "integer"},
		}},
	}

	target := store.Doc{}
	err := r.Convert(fields, map[string]any{
		"slots": []any{
			map[string]any{"label": "Morning", "seats": "10"},
			map[string]any{"label": "Evening", "seats": "20"},
		},
	}, "form", target)
	require.NoError(t, err)

	slots := target["slots"].([]any)
	require.Len(t, slots, 2)
	assert.Equal(t, store.Doc{"label": "Morning", "seats": 10}, slots[0])
}

func TestJoinConverters(t *testing.T) {
	r := DefaultRegistry()
	fields := []*schema.Field{
		{Name: "_venue", Type: "joinByOne", WithType: "venue"},
		{Name: "_acts", Type: "joinByArray", WithType: "act"},
	}

	target := store.Doc{}
	err := r.Convert(fields, map[string]any{
		"_venue": "v1",
		"_acts":  []any{"a1", "a2"},
	}, "form", target)
	require.NoError(t, err)
	assert.Equal(t, "v1", target["venueId"])
	assert.Equal(t, []any{"a1", "a2"}, target["actsIds"])
}

func TestEmptyDispatch(t *testing.T) {
	r := DefaultRegistry()

	areaField := &schema.Field{Name: "body", Type: "area"}
	assert.True(t, r.Empty(areaField, nil))
	assert.True(t, r.Empty(areaField, map[string]any{"items": []any{}}))
	assert.False(t, r.Empty(areaField, map[string]any{"items": []any{map[string]any{"content": "hi"}}}))

	str := &schema.Field{Name: "title", Type: "string"}
	assert.True(t, r.Empty(str, "   "))
	assert.False(t, r.Empty(str, "x"))

	// Unregistered capability falls back to the generic test.
	custom := &schema.Field{Name: "x", Type: "date"}
	assert.True(t, r.Empty(custom, nil))
	assert.False(t, r.Empty(custom, "2026-01-01"))
}

func TestNewInstanceDefaults(t *testing.T) {
	r := DefaultRegistry()
	fields := []*schema.Field{
		{Name: "title", Type: "string"},
		{Name: "published", Type: "boolean", Def: true},
		{Name: "tags", Type: "tags"},
		{Name: "_venue", Type: "joinByOne", WithType: "venue"},
	}

	doc := r.NewInstance(fields)
	assert.Equal(t, "", doc["title"])
	assert.Equal(t, true, doc["published"])
	assert.Equal(t, []any{}, doc["tags"])
	_, present := doc["_venue"]
	assert.False(t, present, "join fields are computed, never defaulted")
}

func TestIndexText(t *testing.T) {
	r := DefaultRegistry()
	fields := []*schema.Field{
		{Name: "title", Type: "string"},
		{Name: "tags", Type: "tags"},
		{Name: "seats", Type: "integer"},
	}
	doc := store.Doc{"title": "Autumn Fair", "tags": []any{"family"}, "seats": 40}

	var sink TextSink
	r.IndexText(fields, doc, &sink)
	assert.Equal(t, "Autumn Fair family", sink.Text())
}

func TestIDFieldDefaults(t *testing.T) {
	f := &schema.Field{Name: "_venue", Type: "joinByOne"}
	assert.Equal(t, "venueId", IDField(f))
	assert.Equal(t, "venueIds", IDsField(f))

	f.IDField = "customId"
	assert.Equal(t, "customId", IDField(f))
}
