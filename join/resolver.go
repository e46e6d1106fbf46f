// Package join resolves relationship fields: it walks a composed schema
// (including array sub-schemas) to discover join fields, identifies each
// by a dot-path, and drives batched fetch-and-merge of related documents
// with bounded recursion into nested joins.
package join

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lodestone-cms/lodestone/fieldtype"
	"github.com/lodestone-cms/lodestone/schema"
	"github.com/lodestone-cms/lodestone/store"
)

// Target describes a join's destination: where its documents live and
// what schema they carry (needed for nested join resolution).
type Target struct {
	Collection string
	Fields     []*schema.Field
	Store      store.Store
}

// TypeSource resolves a document type name to its join target. The
// doctype registry implements it; tests supply fakes.
type TypeSource interface {
	JoinTarget(name string) (*Target, bool)
}

// Resolver discovers and loads joins.
type Resolver struct {
	types    *fieldtype.Registry
	docTypes TypeSource
	logger   *zap.Logger
}

// NewResolver creates a resolver over the given type registry and
// document type source.
func NewResolver(types *fieldtype.Registry, docTypes TypeSource, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{types: types, docTypes: docTypes, logger: logger}
}

// descriptor identifies one discovered join. DotPath joins the array
// nesting path with the field name; Arrays is that nesting path, the
// array fields to descend through to reach the objects bearing the join.
type descriptor struct {
	field   *schema.Field
	dotPath string
	arrays  []string
}

// Resolve loads the selected joins for the given documents, one at a
// time, in discovery order (depth-first through array sub-schemas).
func (r *Resolver) Resolve(ctx context.Context, fields []*schema.Field, docs []store.Doc, sel Selector) error {
	if sel.IsNone() || len(docs) == 0 {
		return nil
	}

	for _, d := range r.discover(fields, nil) {
		nested, ok := sel.Match(d.dotPath, d.field.WithJoins)
		if !ok {
			continue
		}
		if err := r.resolveOne(ctx, d, docs, nested); err != nil {
			return fmt.Errorf("join %s: %w", d.dotPath, err)
		}
	}
	return nil
}

func (r *Resolver) discover(fields []*schema.Field, arrays []string) []descriptor {
	var found []descriptor
	for _, f := range fields {
		if _, isJoin := r.types.IsJoin(f.Type); isJoin {
			found = append(found, descriptor{
				field:   f,
				dotPath: strings.Join(append(append([]string{}, arrays...), f.Name), "."),
				arrays:  append([]string(nil), arrays...),
			})
			continue
		}
		if f.Type == "array" && len(f.Schema) > 0 {
			found = append(found, r.discover(f.Schema, append(arrays, f.Name))...)
		}
	}
	return found
}

func (r *Resolver) resolveOne(ctx context.Context, d descriptor, docs []store.Doc, nested Selector) error {
	if !strings.HasPrefix(d.field.Name, "_") {
		return fmt.Errorf("%w: %s", ErrBadJoinName, d.field.Name)
	}

	spec, _ := r.types.IsJoin(d.field.Type)

	target, ok := r.docTypes.JoinTarget(d.field.WithType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDocType, d.field.WithType)
	}

	objects := leafObjects(docs, d.arrays)
	if len(objects) == 0 {
		return nil
	}

	return r.fetchAndAttach(ctx, d.field, spec, objects, target, nested)
}

// leafObjects descends through the listed array fields, flattening one
// level per array name, to reach the objects that carry the join's ids.
func leafObjects(docs []store.Doc, arrays []string) []store.Doc {
	objects := docs
	for _, name := range arrays {
		var next []store.Doc
		for _, obj := range objects {
			items, _ := obj[name].([]any)
			for _, item := range items {
				if m, ok := item.(map[string]any); ok {
					next = append(next, m)
				}
			}
		}
		objects = next
	}
	return objects
}

// fetchAndAttach is the single generic join driver. Direction and arity
// come from the type's JoinSpec; everything else is parameterized by the
// field's id/relationship/output property names and declared filters.
func (r *Resolver) fetchAndAttach(
	ctx context.Context,
	f *schema.Field,
	spec *fieldtype.JoinSpec,
	objects []store.Doc,
	target *Target,
	nested Selector,
) error {
	idProp := fieldtype.IDField(f)
	if spec.Array {
		idProp = fieldtype.IDsField(f)
	}

	// Compute the distinct id set to fetch. Forward joins read ids off
	// the objects being enriched; reverse joins match the objects' own
	// ids against the target's id property.
	var ids []any
	seen := make(map[string]bool)
	add := func(v any) {
		if v == nil {
			return
		}
		key := fmt.Sprintf("%v", v)
		if !seen[key] {
			seen[key] = true
			ids = append(ids, v)
		}
	}
	for _, obj := range objects {
		switch {
		case spec.Reverse:
			add(obj["_id"])
		case spec.Array:
			items, _ := obj[idProp].([]any)
			for _, id := range items {
				add(id)
			}
		default:
			add(obj[idProp])
		}
	}
	if len(ids) == 0 {
		return nil
	}

	matchProp := idProp
	if !spec.Reverse {
		matchProp = "_id"
	}

	q := store.Query{
		Criteria: store.And(
			filterCriteria(f.Filters),
			store.Criteria{matchProp: map[string]any{"$in": ids}},
		),
	}
	applyFilterHints(&q, f.Filters)

	related, err := target.Store.Find(ctx, target.Collection, q)
	if err != nil {
		return err
	}

	// Nested joins resolve on the fetched set before distribution, with
	// the restricted selector: default recursion never extends past one
	// level.
	if !nested.IsNone() && len(related) > 0 {
		if err := r.Resolve(ctx, target.Fields, related, nested); err != nil {
			return err
		}
	}

	if spec.Reverse {
		distributeReverse(f, spec, objects, related, idProp)
	} else {
		distributeForward(f, spec, objects, related, idProp)
	}
	return nil
}

// distributeForward attaches fetched documents back onto the objects
// whose id fields referenced them.
func distributeForward(f *schema.Field, spec *fieldtype.JoinSpec, objects []store.Doc, related []store.Doc, idProp string) {
	byID := make(map[string]store.Doc, len(related))
	for _, doc := range related {
		byID[fmt.Sprintf("%v", doc["_id"])] = doc
	}

	for _, obj := range objects {
		if !spec.Array {
			if doc, ok := byID[fmt.Sprintf("%v", obj[idProp])]; ok {
				obj[f.Name] = store.CloneDoc(doc)
			}
			continue
		}

		ids, _ := obj[idProp].([]any)
		attached := make([]any, 0, len(ids))
		var rels map[string]any
		if f.RelationshipsField != "" {
			rels, _ = obj[f.RelationshipsField].(map[string]any)
		}
		for _, id := range ids {
			key := fmt.Sprintf("%v", id)
			doc, ok := byID[key]
			if !ok {
				continue
			}
			cp := store.CloneDoc(doc)
			if meta, ok := rels[key]; ok {
				cp["_relationship"] = store.CloneValue(meta)
			}
			attached = append(attached, cp)
		}
		obj[f.Name] = attached
	}
}

// distributeReverse groups fetched documents by the ids their own id
// property points back at, then attaches each group.
func distributeReverse(f *schema.Field, spec *fieldtype.JoinSpec, objects []store.Doc, related []store.Doc, idProp string) {
	grouped := make(map[string][]any)
	for _, doc := range related {
		if spec.Array {
			ids, _ := doc[idProp].([]any)
			for _, id := range ids {
				key := fmt.Sprintf("%v", id)
				grouped[key] = append(grouped[key], store.CloneDoc(doc))
			}
			continue
		}
		key := fmt.Sprintf("%v", doc[idProp])
		grouped[key] = append(grouped[key], store.CloneDoc(doc))
	}

	for _, obj := range objects {
		group := grouped[fmt.Sprintf("%v", obj["_id"])]
		if group == nil {
			group = []any{}
		}
		if f.IfOnlyOne {
			if len(group) > 0 {
				obj[f.Name] = group[0]
			}
			continue
		}
		obj[f.Name] = group
	}
}

// filterCriteria extracts the join's declared criteria hint, if any.
func filterCriteria(filters map[string]any) store.Criteria {
	if filters == nil {
		return nil
	}
	if c, ok := filters["criteria"].(map[string]any); ok {
		return c
	}
	return nil
}

// applyFilterHints applies the join's declared projection and limit.
func applyFilterHints(q *store.Query, filters map[string]any) {
	if filters == nil {
		return
	}
	if proj, ok := filters["projection"].(map[string]any); ok {
		q.Projection = make(map[string]int, len(proj))
		for k, v := range proj {
			switch n := v.(type) {
			case int:
				q.Projection[k] = n
			case float64:
				q.Projection[k] = int(n)
			case bool:
				if n {
					q.Projection[k] = 1
				}
			}
		}
	}
	if limit, ok := filters["limit"].(int); ok {
		q.Limit = limit
	}
}
