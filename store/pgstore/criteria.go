package pgstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/lodestone-cms/lodestone/store"
)

// builder compiles a criteria tree into one SQL boolean expression plus
// its positional arguments. $1 is always the collection name.
type builder struct {
	args []any
}

func newBuilder(collection string) *builder {
	return &builder{args: []any{collection}}
}

// arg appends a query argument and returns its placeholder.
func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// path appends a dotted field path as a text[] argument for the #> and
// #>> jsonb operators.
func (b *builder) path(field string) string {
	return b.arg(pq.Array(strings.Split(field, ".")))
}

func (b *builder) compile(c store.Criteria) (string, error) {
	if len(c) == 0 {
		return "", nil
	}
	var parts []string
	for key, cond := range c {
		switch key {
		case "$and", "$or":
			subs, err := criteriaList(key, cond)
			if err != nil {
				return "", err
			}
			var clauses []string
			for _, sub := range subs {
				clause, err := b.compile(sub)
				if err != nil {
					return "", err
				}
				if clause != "" {
					clauses = append(clauses, clause)
				}
			}
			if len(clauses) == 0 {
				continue
			}
			joiner := " AND "
			if key == "$or" {
				joiner = " OR "
			}
			parts = append(parts, "("+strings.Join(clauses, joiner)+")")
		case "$text":
			clause, err := b.textSearch(cond)
			if err != nil {
				return "", err
			}
			parts = append(parts, clause)
		default:
			clause, err := b.field(key, cond)
			if err != nil {
				return "", err
			}
			parts = append(parts, clause)
		}
	}
	return strings.Join(parts, " AND "), nil
}

func (b *builder) field(field string, cond any) (string, error) {
	ops, isOps := cond.(map[string]any)
	if !isOps || !hasOperator(ops) {
		return b.equality(field, cond)
	}

	var parts []string
	for op, arg := range ops {
		switch op {
		case "$in":
			clause, err := b.inClause(field, arg)
			if err != nil {
				return "", err
			}
			parts = append(parts, clause)
		case "$nin":
			clause, err := b.inClause(field, arg)
			if err != nil {
				return "", err
			}
			parts = append(parts, "NOT "+clause)
		case "$ne":
			parts = append(parts, fmt.Sprintf(
				"data #>> %s IS DISTINCT FROM %s",
				b.path(field), b.arg(textOf(arg))))
		case "$exists":
			want, _ := arg.(bool)
			test := "IS NOT NULL"
			if !want {
				test = "IS NULL"
			}
			parts = append(parts, fmt.Sprintf("data #> %s %s", b.path(field), test))
		case "$lt", "$lte", "$gt", "$gte":
			parts = append(parts, b.comparison(field, op, arg))
		case "$regex":
			operator := "~"
			if opts, _ := ops["$options"].(string); strings.Contains(opts, "i") {
				operator = "~*"
			}
			pattern, _ := arg.(string)
			parts = append(parts, fmt.Sprintf(
				"data #>> %s %s %s", b.path(field), operator, b.arg(pattern)))
		case "$options":
			// consumed alongside $regex
		default:
			return "", fmt.Errorf("pgstore: unsupported operator %s", op)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("pgstore: empty operator map for %s", field)
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

// equality uses jsonb containment so an array-valued field matches when
// it contains the value, mirroring the memory store's semantics.
func (b *builder) equality(field string, value any) (string, error) {
	direct, err := containmentDoc(field, value)
	if err != nil {
		return "", err
	}
	element, err := containmentDoc(field, []any{value})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(data @> %s::jsonb OR data @> %s::jsonb)",
		b.arg(direct), b.arg(element)), nil
}

// inClause matches scalar fields against the candidate list and
// array-valued fields when any element is a candidate.
func (b *builder) inClause(field string, arg any) (string, error) {
	list, ok := arg.([]any)
	if !ok {
		return "", fmt.Errorf("pgstore: $in requires a list, got %T", arg)
	}
	candidates := make([]string, len(list))
	for i, v := range list {
		candidates[i] = textOf(v)
	}
	p := b.path(field)
	vals := b.arg(pq.Array(candidates))
	return fmt.Sprintf(
		`(data #>> %s = ANY(%s) OR EXISTS (
			SELECT 1 FROM jsonb_array_elements_text(
				CASE WHEN jsonb_typeof(data #> %s) = 'array'
				     THEN data #> %s ELSE '[]'::jsonb END
			) AS elem WHERE elem = ANY(%s)))`,
		p, vals, p, p, vals), nil
}

func (b *builder) comparison(field string, op string, arg any) string {
	operator := map[string]string{"$lt": "<", "$lte": "<=", "$gt": ">", "$gte": ">="}[op]
	switch arg.(type) {
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("(data #>> %s)::numeric %s %s",
			b.path(field), operator, b.arg(arg))
	default:
		return fmt.Sprintf("data #>> %s %s %s",
			b.path(field), operator, b.arg(textOf(arg)))
	}
}

// textSearch degrades $text to case-insensitive substring matches over
// the whole document; this backend has no relevance scoring.
func (b *builder) textSearch(cond any) (string, error) {
	spec, ok := cond.(map[string]any)
	if !ok {
		return "", fmt.Errorf("pgstore: malformed $text criteria: %T", cond)
	}
	search, _ := spec["$search"].(string)
	terms := strings.Fields(search)
	if len(terms) == 0 {
		return "", fmt.Errorf("pgstore: $text requires a $search string")
	}
	parts := make([]string, len(terms))
	for i, term := range terms {
		parts[i] = fmt.Sprintf("data::text ILIKE %s", b.arg("%"+term+"%"))
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func criteriaList(op string, cond any) ([]store.Criteria, error) {
	switch list := cond.(type) {
	case []any:
		subs := make([]store.Criteria, 0, len(list))
		for _, item := range list {
			sub, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("pgstore: %s contains a non-criteria entry: %T", op, item)
			}
			subs = append(subs, sub)
		}
		return subs, nil
	case []store.Criteria:
		return list, nil
	default:
		return nil, fmt.Errorf("pgstore: %s requires a list of criteria, got %T", op, cond)
	}
}

func hasOperator(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// containmentDoc builds the nested jsonb document that @> tests against,
// expanding dotted paths into nested objects.
func containmentDoc(field string, value any) (string, error) {
	segments := strings.Split(field, ".")
	doc := value
	for i := len(segments) - 1; i >= 0; i-- {
		doc = map[string]any{segments[i]: doc}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("pgstore: encode criteria for %s: %w", field, err)
	}
	return string(raw), nil
}

// textOf renders a criteria value the way #>> renders the stored one.
func textOf(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		raw, _ := json.Marshal(val)
		return string(raw)
	}
}
