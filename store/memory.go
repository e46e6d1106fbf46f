package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store implementation. It evaluates the
// criteria tree directly against the stored documents and is the default
// backend for tests and single-process use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Doc
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]Doc),
	}
}

// Insert appends documents to a collection.
func (m *MemoryStore) Insert(collection string, docs ...Doc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range docs {
		m.collections[collection] = append(m.collections[collection], CloneDoc(doc))
	}
}

// Find evaluates the query against the collection. Returned documents are
// deep copies, so callers may mutate them freely.
func (m *MemoryStore) Find(ctx context.Context, collection string, q Query) ([]Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	source := m.collections[collection]
	matched := make([]Doc, 0)
	for _, doc := range source {
		ok, err := Matches(doc, q.Criteria)
		if err != nil {
			m.mu.RUnlock()
			return nil, err
		}
		if ok {
			matched = append(matched, CloneDoc(doc))
		}
	}
	m.mu.RUnlock()

	if q.TextScore {
		terms := searchTerms(q.Criteria)
		for _, doc := range matched {
			doc[TextScoreField] = textScore(doc, terms)
		}
	}

	if len(q.Sort) > 0 {
		sortDocs(matched, q.Sort)
	}

	if q.Skip > 0 {
		if q.Skip >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[q.Skip:]
		}
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}

	if len(q.Projection) > 0 {
		for i, doc := range matched {
			matched[i] = Project(doc, q.Projection)
		}
	}

	return matched, nil
}

// Count returns the number of documents matching the criteria.
func (m *MemoryStore) Count(ctx context.Context, collection string, c Criteria) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, doc := range m.collections[collection] {
		ok, err := Matches(doc, c)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Distinct returns the distinct values of a property among matching
// documents. Array values contribute each element.
func (m *MemoryStore) Distinct(ctx context.Context, collection string, property string, c Criteria) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var values []any
	for _, doc := range m.collections[collection] {
		ok, err := Matches(doc, c)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		v, present := Lookup(doc, property)
		if !present || v == nil {
			continue
		}
		items, isList := v.([]any)
		if !isList {
			items = []any{v}
		}
		for _, item := range items {
			key := fmt.Sprintf("%T:%v", item, item)
			if !seen[key] {
				seen[key] = true
				values = append(values, item)
			}
		}
	}
	return values, nil
}

// Lookup resolves a possibly dotted path against a document. It descends
// through nested maps only; array traversal is the join resolver's job.
func Lookup(doc Doc, path string) (any, bool) {
	cur := any(doc)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Matches reports whether a document satisfies a criteria tree.
func Matches(doc Doc, c Criteria) (bool, error) {
	for key, cond := range c {
		switch key {
		case "$and":
			subs, err := subCriteria(key, cond)
			if err != nil {
				return false, err
			}
			for _, sub := range subs {
				ok, err := Matches(doc, sub)
				if err != nil || !ok {
					return false, err
				}
			}
		case "$or":
			subs, err := subCriteria(key, cond)
			if err != nil {
				return false, err
			}
			matchedOne := false
			for _, sub := range subs {
				ok, err := Matches(doc, sub)
				if err != nil {
					return false, err
				}
				if ok {
					matchedOne = true
					break
				}
			}
			if !matchedOne {
				return false, nil
			}
		case "$text":
			spec, ok := cond.(map[string]any)
			if !ok {
				return false, fmt.Errorf("malformed $text criteria: %T", cond)
			}
			search, _ := spec["$search"].(string)
			if textScore(doc, strings.Fields(strings.ToLower(search))) == 0 {
				return false, nil
			}
		default:
			ok, err := matchField(doc, key, cond)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

func subCriteria(op string, cond any) ([]Criteria, error) {
	list, ok := cond.([]any)
	if !ok {
		if typed, ok := cond.([]Criteria); ok {
			return typed, nil
		}
		return nil, fmt.Errorf("%s requires a list of criteria, got %T", op, cond)
	}
	subs := make([]Criteria, 0, len(list))
	for _, item := range list {
		sub, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s contains a non-criteria entry: %T", op, item)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func matchField(doc Doc, field string, cond any) (bool, error) {
	value, present := Lookup(doc, field)

	ops, isOps := cond.(map[string]any)
	if !isOps || !hasOperator(ops) {
		// Literal equality. An array field matches if it contains the value.
		return valueMatches(value, cond), nil
	}

	for op, arg := range ops {
		switch op {
		case "$in":
			list, err := argList(op, arg)
			if err != nil {
				return false, err
			}
			found := false
			for _, candidate := range list {
				if valueMatches(value, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case "$nin":
			list, err := argList(op, arg)
			if err != nil {
				return false, err
			}
			for _, candidate := range list {
				if valueMatches(value, candidate) {
					return false, nil
				}
			}
		case "$ne":
			if valueMatches(value, arg) {
				return false, nil
			}
		case "$exists":
			want, _ := arg.(bool)
			if present != want {
				return false, nil
			}
		case "$lt", "$lte", "$gt", "$gte":
			cmp, comparable := compareValues(value, arg)
			if !comparable {
				return false, nil
			}
			switch op {
			case "$lt":
				if cmp >= 0 {
					return false, nil
				}
			case "$lte":
				if cmp > 0 {
					return false, nil
				}
			case "$gt":
				if cmp <= 0 {
					return false, nil
				}
			case "$gte":
				if cmp < 0 {
					return false, nil
				}
			}
		case "$regex":
			pattern, _ := arg.(string)
			if opts, _ := ops["$options"].(string); strings.Contains(opts, "i") {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return false, fmt.Errorf("invalid $regex for %s: %w", field, err)
			}
			s, isStr := value.(string)
			if !isStr || !re.MatchString(s) {
				return false, nil
			}
		case "$options":
			// Consumed together with $regex.
		default:
			return false, fmt.Errorf("unsupported operator %s for field %s", op, field)
		}
	}
	return true, nil
}

func hasOperator(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func argList(op string, arg any) ([]any, error) {
	if list, ok := arg.([]any); ok {
		return list, nil
	}
	if list, ok := arg.([]string); ok {
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s requires a list, got %T", op, arg)
}

// valueMatches implements mongo-style equality: scalars compare loosely
// across numeric widths, and an array value matches if any element does.
func valueMatches(value, candidate any) bool {
	if list, ok := value.([]any); ok {
		for _, item := range list {
			if scalarEqual(item, candidate) {
				return true
			}
		}
		return false
	}
	return scalarEqual(value, candidate)
}

func scalarEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func compareValues(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// searchTerms extracts the lowercased $text search terms from a criteria
// tree, descending through $and/$or.
func searchTerms(c Criteria) []string {
	for key, cond := range c {
		switch key {
		case "$text":
			if spec, ok := cond.(map[string]any); ok {
				if s, ok := spec["$search"].(string); ok {
					return strings.Fields(strings.ToLower(s))
				}
			}
		case "$and", "$or":
			if subs, err := subCriteria(key, cond); err == nil {
				for _, sub := range subs {
					if terms := searchTerms(sub); len(terms) > 0 {
						return terms
					}
				}
			}
		}
	}
	return nil
}

// textScore counts term hits across all string values of the document.
func textScore(doc Doc, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	var corpus strings.Builder
	for _, v := range doc {
		if s, ok := v.(string); ok {
			corpus.WriteString(strings.ToLower(s))
			corpus.WriteByte(' ')
		}
	}
	text := corpus.String()
	score := 0.0
	for _, term := range terms {
		score += float64(strings.Count(text, term))
	}
	return score
}

func sortDocs(docs []Doc, keys []SortKey) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, key := range keys {
			a, _ := Lookup(docs[i], key.Field)
			b, _ := Lookup(docs[j], key.Field)
			cmp, ok := compareValues(a, b)
			if !ok {
				// Missing or mixed-type values sort first ascending.
				aNil := a == nil
				bNil := b == nil
				if aNil == bNil {
					continue
				}
				if key.Descending {
					return bNil
				}
				return aNil
			}
			if cmp == 0 {
				continue
			}
			if key.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// Project applies a field-inclusion (or exclusion) map to a document.
// Inclusion projections keep _id unless it is excluded explicitly,
// matching the usual document store convention.
func Project(doc Doc, projection map[string]int) Doc {
	inclusion := false
	for field, mode := range projection {
		if field != "_id" && mode != 0 {
			inclusion = true
			break
		}
	}

	if !inclusion {
		out := CloneDoc(doc)
		for field, mode := range projection {
			if mode == 0 {
				delete(out, field)
			}
		}
		return out
	}

	out := make(Doc, len(projection)+1)
	// _id rides along unless excluded outright.
	if mode, ok := projection["_id"]; !ok || mode != 0 {
		if v, ok := doc["_id"]; ok {
			out["_id"] = v
		}
	}
	for field, mode := range projection {
		if mode == 0 {
			continue
		}
		if v, ok := Lookup(doc, field); ok {
			out[field] = v
		}
	}
	return out
}
