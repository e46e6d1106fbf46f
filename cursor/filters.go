package cursor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lodestone-cms/lodestone/internal/util/text"
	"github.com/lodestone-cms/lodestone/join"
	"github.com/lodestone-cms/lodestone/schema"
	"github.com/lodestone-cms/lodestone/store"
)

// reorderedKey is internal state through which the explicitOrder after
// hook hands the reordered result set back to ToArray.
const reorderedKey = "explicitOrder.reordered"

// explicitOrderSpec is the explicitOrder filter's stored value.
type explicitOrderSpec struct {
	IDs      []any
	Property string
}

// registerBuiltins installs the built-in filters. Registration order is
// execution order for both finalizers and after hooks, so it is part of
// the cursor's contract.
func registerBuiltins(c *Cursor) {
	c.mustRegister(&Filter{
		Name:     "criteria",
		Finalize: finalizeCriteria,
	})
	c.mustRegister(&Filter{
		// and conjoins at set time; finalize work happens under criteria.
		Name: "and",
	})
	c.mustRegister(&Filter{
		Name:     "projection",
		Finalize: finalizeProjection,
	})
	c.mustRegister(&Filter{
		Name:     "search",
		Safe:     SafePublic,
		Launder:  launderString,
		Finalize: finalizeSearch,
	})
	c.mustRegister(&Filter{
		Name:     "regexSearch",
		Safe:     SafeManage,
		Launder:  launderString,
		Finalize: finalizeRegexSearch,
	})
	c.mustRegister(&Filter{
		Name:     "sort",
		Safe:     SafeManage,
		Launder:  launderSort,
		Finalize: finalizeSort,
	})
	c.mustRegister(&Filter{
		Name:     "skip",
		Finalize: finalizeSkip,
	})
	c.mustRegister(&Filter{
		Name:    "page",
		Safe:    SafePublic,
		Launder: launderPage,
	})
	c.mustRegister(&Filter{
		Name:     "perPage",
		Safe:     SafePublic,
		Launder:  launderPage,
		Finalize: finalizePagination,
	})
	c.mustRegister(&Filter{
		Name:     "limit",
		Finalize: finalizeLimit,
	})
	c.mustRegister(&Filter{
		Name:     "trash",
		Def:      ptrBool(false),
		Safe:     SafeManage,
		Launder:  launderTriBool,
		Finalize: finalizeTrash,
	})
	c.mustRegister(&Filter{
		Name:     "published",
		Def:      ptrBool(true),
		Safe:     SafeManage,
		Launder:  launderTriBool,
		Finalize: finalizePublished,
	})
	c.mustRegister(&Filter{
		Name:     "explicitOrder",
		Finalize: finalizeExplicitOrder,
		After:    afterExplicitOrder,
	})
	c.mustRegister(&Filter{
		Name:     "permission",
		Def:      "view",
		Finalize: finalizePermission,
		After:    afterPermission,
	})
	c.mustRegister(&Filter{
		Name:  "joins",
		Def:   join.All(),
		After: afterJoins,
	})
	c.mustRegister(&Filter{
		Name:  "addUrls",
		Def:   true,
		After: afterAddURLs,
	})
}

// Criteria replaces the cursor's base criteria.
func (c *Cursor) Criteria(criteria store.Criteria) *Cursor {
	return c.Set("criteria", criteria)
}

// And conjoins additional criteria with whatever is already set, using an
// $and wrapper so repeated keys never clobber each other.
func (c *Cursor) And(criteria store.Criteria) *Cursor {
	if len(criteria) == 0 {
		return c
	}
	existing, _ := c.Get("criteria").(store.Criteria)
	return c.Set("criteria", store.And(existing, criteria))
}

// Projection restricts which fields the store returns.
func (c *Cursor) Projection(p map[string]int) *Cursor {
	return c.Set("projection", p)
}

// Search performs a text search, injecting relevance projection and sort
// unless an explicit sort overrides them.
func (c *Cursor) Search(q string) *Cursor {
	return c.Set("search", q)
}

// RegexSearch is the fallback search mode for stores without text
// indexes. Unlike Search it never injects an implicit sort.
func (c *Cursor) RegexSearch(q string) *Cursor {
	return c.Set("regexSearch", q)
}

// Sort sets an explicit sort order.
func (c *Cursor) Sort(keys ...store.SortKey) *Cursor {
	return c.Set("sort", keys)
}

// Skip skips the first n results.
func (c *Cursor) Skip(n int) *Cursor {
	return c.Set("skip", n)
}

// Limit caps the number of results.
func (c *Cursor) Limit(n int) *Cursor {
	return c.Set("limit", n)
}

// Page selects a 1-based result page; values below 1 are clamped to 1.
// Takes effect only together with PerPage.
func (c *Cursor) Page(n int) *Cursor {
	if n < 1 {
		n = 1
	}
	return c.Set("page", n)
}

// PerPage sets the page size; values below 1 are clamped to 1.
func (c *Cursor) PerPage(n int) *Cursor {
	if n < 1 {
		n = 1
	}
	return c.Set("perPage", n)
}

// Trash is tri-state: false (the default) excludes trashed documents,
// true returns only trashed documents, nil ignores trash status entirely.
func (c *Cursor) Trash(v *bool) *Cursor {
	return c.Set("trash", v)
}

// Published is tri-state, symmetric to Trash: true (the default) returns
// only published documents, false only unpublished, nil ignores
// published status.
func (c *Cursor) Published(v *bool) *Cursor {
	return c.Set("published", v)
}

// ExplicitOrder restricts results to the given ids and reorders them to
// match the id sequence. property defaults to "_id".
func (c *Cursor) ExplicitOrder(ids []any, property ...string) *Cursor {
	prop := "_id"
	if len(property) > 0 && property[0] != "" {
		prop = property[0]
	}
	return c.Set("explicitOrder", explicitOrderSpec{IDs: ids, Property: prop})
}

// Permission sets the verb the acting identity must hold to view results;
// the empty string disables the view restriction. Edit/publish
// annotations are applied either way.
func (c *Cursor) Permission(verb string) *Cursor {
	return c.Set("permission", verb)
}

// Joins selects which relationship fields load after fetch. The default
// resolves every join plus each join's declared nested defaults one level
// deep.
func (c *Cursor) Joins(sel join.Selector) *Cursor {
	return c.Set("joins", sel)
}

// AddUrls toggles post-fetch URL computation.
func (c *Cursor) AddUrls(enabled bool) *Cursor {
	return c.Set("addUrls", enabled)
}

// --- finalizers ---

func finalizeCriteria(ctx context.Context, c *Cursor) error {
	if criteria, ok := c.Get("criteria").(store.Criteria); ok {
		q := c.Query()
		q.Criteria = store.And(q.Criteria, criteria)
	}
	return nil
}

func finalizeProjection(ctx context.Context, c *Cursor) error {
	if p, ok := c.Get("projection").(map[string]int); ok {
		out := make(map[string]int, len(p))
		for k, v := range p {
			out[k] = v
		}
		c.Query().Projection = out
	}
	return nil
}

func finalizeSearch(ctx context.Context, c *Cursor) error {
	q, ok := c.Get("search").(string)
	if !ok || q == "" {
		return nil
	}
	query := c.Query()
	query.Criteria = store.And(query.Criteria, store.Criteria{
		"$text": map[string]any{"$search": q},
	})
	query.TextScore = true
	return nil
}

func finalizeRegexSearch(ctx context.Context, c *Cursor) error {
	q, ok := c.Get("regexSearch").(string)
	if !ok || q == "" {
		return nil
	}
	query := c.Query()
	query.Criteria = store.And(query.Criteria, store.Criteria{
		"title": map[string]any{
			"$regex":   regexp.QuoteMeta(q),
			"$options": "i",
		},
	})
	return nil
}

func finalizeSort(ctx context.Context, c *Cursor) error {
	query := c.Query()

	if keys, ok := c.Get("sort").([]store.SortKey); ok {
		query.Sort = c.sortified(keys)
		return nil
	}

	// Implicit sort: relevance when a text search is active, nothing at
	// all in regex fallback mode or under explicit ordering, otherwise a
	// case-insensitive title sort.
	if _, regex := c.state["regexSearch"]; regex {
		return nil
	}
	if _, explicit := c.state["explicitOrder"]; explicit {
		return nil
	}
	if _, searching := c.state["search"]; searching {
		query.Sort = []store.SortKey{{Field: store.TextScoreField, Descending: true}}
		return nil
	}
	query.Sort = []store.SortKey{{Field: text.SortifiedName("title")}}
	return nil
}

// sortified substitutes the normalized companion field for any sort key
// whose schema field is marked Sortify.
func (c *Cursor) sortified(keys []store.SortKey) []store.SortKey {
	out := make([]store.SortKey, len(keys))
	copy(out, keys)
	for i, key := range out {
		if f := schema.FieldByName(c.cfg.Fields, key.Field); f != nil && f.Sortify {
			out[i].Field = text.SortifiedName(key.Field)
		}
	}
	return out
}

func finalizeSkip(ctx context.Context, c *Cursor) error {
	if n, ok := c.Get("skip").(int); ok && n > 0 {
		c.Query().Skip = n
	}
	return nil
}

func finalizePagination(ctx context.Context, c *Cursor) error {
	perPage, ok := c.Get("perPage").(int)
	if !ok || perPage < 1 {
		return nil
	}
	query := c.Query()
	query.Limit = perPage
	if page, ok := c.Get("page").(int); ok && page > 1 {
		query.Skip = (page - 1) * perPage
	}
	return nil
}

func finalizeLimit(ctx context.Context, c *Cursor) error {
	if n, ok := c.Get("limit").(int); ok && n > 0 {
		c.Query().Limit = n
	}
	return nil
}

func finalizeTrash(ctx context.Context, c *Cursor) error {
	v, _ := c.Get("trash").(*bool)
	query := c.Query()
	switch {
	case v == nil:
		// Ignore trash status entirely.
	case *v:
		query.Criteria = store.And(query.Criteria, store.Criteria{"trash": true})
	default:
		// Absent flag counts as not trashed; $exists keeps the predicate
		// index-friendly instead of a negated equality.
		query.Criteria = store.And(query.Criteria, store.Criteria{
			"trash": map[string]any{"$exists": false},
		})
	}
	return nil
}

func finalizePublished(ctx context.Context, c *Cursor) error {
	v, _ := c.Get("published").(*bool)
	query := c.Query()
	switch {
	case v == nil:
	case *v:
		query.Criteria = store.And(query.Criteria, store.Criteria{"published": true})
	default:
		query.Criteria = store.And(query.Criteria, store.Criteria{
			"published": map[string]any{"$ne": true},
		})
	}
	return nil
}

func finalizeExplicitOrder(ctx context.Context, c *Cursor) error {
	spec, ok := c.Get("explicitOrder").(explicitOrderSpec)
	if !ok || len(spec.IDs) == 0 {
		return nil
	}
	query := c.Query()
	query.Criteria = store.And(query.Criteria, store.Criteria{
		spec.Property: map[string]any{"$in": spec.IDs},
	})
	return nil
}

func afterExplicitOrder(ctx context.Context, c *Cursor, docs []store.Doc) error {
	spec, ok := c.Get("explicitOrder").(explicitOrderSpec)
	if !ok || len(spec.IDs) == 0 {
		return nil
	}
	byID := make(map[string]store.Doc, len(docs))
	for _, doc := range docs {
		byID[fmt.Sprintf("%v", doc[spec.Property])] = doc
	}
	ordered := make([]store.Doc, 0, len(docs))
	for _, id := range spec.IDs {
		if doc, ok := byID[fmt.Sprintf("%v", id)]; ok {
			ordered = append(ordered, doc)
		}
	}
	c.state[reorderedKey] = ordered
	return nil
}

func finalizePermission(ctx context.Context, c *Cursor) error {
	if c.cfg.Policy == nil {
		return nil
	}
	verb, _ := c.Get("permission").(string)
	if verb == "" {
		return nil
	}
	restriction := c.cfg.Policy.Criteria(c.cfg.Identity, verb)
	if len(restriction) == 0 {
		return nil
	}
	query := c.Query()
	query.Criteria = store.And(query.Criteria, restriction)
	return nil
}

// afterPermission annotates each document with edit/publish capability
// flags. This happens regardless of the view restriction: listing for
// viewing still needs to know which entries the identity may manage.
func afterPermission(ctx context.Context, c *Cursor, docs []store.Doc) error {
	if c.cfg.Policy == nil {
		return nil
	}
	for _, doc := range docs {
		doc["_edit"] = c.cfg.Policy.Can(c.cfg.Identity, "edit", doc)
		doc["_publish"] = c.cfg.Policy.Can(c.cfg.Identity, "publish", doc)
	}
	return nil
}

func afterJoins(ctx context.Context, c *Cursor, docs []store.Doc) error {
	if c.cfg.Joins == nil || len(docs) == 0 {
		return nil
	}
	sel, ok := c.Get("joins").(join.Selector)
	if !ok || sel.IsNone() {
		return nil
	}
	return c.cfg.Joins.Resolve(ctx, c.cfg.Fields, docs, sel)
}

func afterAddURLs(ctx context.Context, c *Cursor, docs []store.Doc) error {
	if c.cfg.URLs == nil || len(docs) == 0 {
		return nil
	}
	if enabled, ok := c.Get("addUrls").(bool); !ok || !enabled {
		return nil
	}
	return c.cfg.URLs.AddURLs(ctx, docs)
}

// --- launder helpers ---

func ptrBool(v bool) *bool { return &v }

func launderString(v any) (any, bool) {
	switch s := v.(type) {
	case string:
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, false
		}
		return s, true
	default:
		return nil, false
	}
}

// launderPage coerces page-number input to an int of at least 1.
func launderPage(v any) (any, bool) {
	switch n := v.(type) {
	case int:
		if n < 1 {
			n = 1
		}
		return n, true
	case float64:
		i := int(n)
		if i < 1 {
			i = 1
		}
		return i, true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return nil, false
		}
		if i < 1 {
			i = 1
		}
		return i, true
	default:
		return nil, false
	}
}

// launderTriBool maps untrusted input onto the tri-state filters: "any"
// (or nil) clears the restriction, truthy/falsy strings and bools select
// a branch.
func launderTriBool(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return (*bool)(nil), true
	case bool:
		return ptrBool(val), true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "any", "null", "":
			return (*bool)(nil), true
		case "1", "true", "yes":
			return ptrBool(true), true
		case "0", "false", "no":
			return ptrBool(false), true
		}
		return nil, false
	default:
		return nil, false
	}
}

// launderSort accepts a field→direction mapping (1 ascending, -1
// descending) and produces sort keys in field-name order, so the same
// mapping always yields the same ordering. Unknown shapes are dropped.
func launderSort(v any) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	fields := make([]string, 0, len(m))
	for field := range m {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	keys := make([]store.SortKey, 0, len(m))
	for _, field := range fields {
		key := store.SortKey{Field: field}
		switch d := m[field].(type) {
		case int:
			key.Descending = d < 0
		case float64:
			key.Descending = d < 0
		case string:
			key.Descending = d == "-1" || strings.EqualFold(d, "desc")
		default:
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, false
	}
	return keys, true
}
