// Package store defines the document store abstraction used by the schema
// and cursor engines: documents are flat JSON-like maps, queries carry a
// criteria tree plus projection, sort and pagination, and implementations
// only need to support find, count and distinct.
package store

import "context"

// Doc is a single document. Values are JSON-compatible: strings, numbers,
// booleans, nil, []any and nested map[string]any.
type Doc = map[string]any

// Criteria is a boolean predicate tree in a mongo-like shape. Keys are
// either field names (possibly dotted paths) mapped to a literal or an
// operator map, or one of the combining operators "$and" / "$or" mapped
// to a slice of sub-criteria.
//
// Supported operators: $in, $nin, $ne, $exists, $lt, $lte, $gt, $gte,
// $regex (with optional $options: "i") and $text ({"$search": terms}).
type Criteria = map[string]any

// SortKey is one component of a sort order.
type SortKey struct {
	Field      string
	Descending bool
}

// TextScoreField is the synthetic property carrying search relevance.
// Stores attach it to results when Query.TextScore is set, and it may be
// used as a sort field.
const TextScoreField = "_textScore"

// Query is the finalized, store-ready shape produced by the cursor engine.
type Query struct {
	Criteria   Criteria
	Projection map[string]int // field -> 1 to include; empty means all fields
	Sort       []SortKey
	Skip       int
	Limit      int // 0 means no limit

	// TextScore requests that the store compute a relevance score for
	// the active $text criteria and attach it as TextScoreField.
	TextScore bool
}

// Store is the minimal document store contract.
type Store interface {
	Find(ctx context.Context, collection string, q Query) ([]Doc, error)
	Count(ctx context.Context, collection string, c Criteria) (int, error)
	Distinct(ctx context.Context, collection string, property string, c Criteria) ([]any, error)
}

// And conjoins criteria without merging keys, so repeated keys in the
// inputs cannot clobber each other. Empty inputs are dropped; a single
// surviving input is returned as-is.
func And(parts ...Criteria) Criteria {
	var live []Criteria
	for _, p := range parts {
		if len(p) > 0 {
			live = append(live, p)
		}
	}
	switch len(live) {
	case 0:
		return Criteria{}
	case 1:
		return live[0]
	}
	sub := make([]any, len(live))
	for i, p := range live {
		sub[i] = p
	}
	return Criteria{"$and": sub}
}
