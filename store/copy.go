package store

// CloneDoc creates a deep copy of a document so callers can mutate the
// copy without affecting the original.
func CloneDoc(doc Doc) Doc {
	if doc == nil {
		return nil
	}
	out := make(Doc, len(doc))
	for k, v := range doc {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue recursively copies a JSON-compatible value.
func CloneValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case Doc:
		return CloneDoc(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	case []Doc:
		out := make([]Doc, len(val))
		for i, item := range val {
			out[i] = CloneDoc(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case []int:
		out := make([]int, len(val))
		copy(out, val)
		return out
	case []float64:
		out := make([]float64, len(val))
		copy(out, val)
		return out
	default:
		// Scalars are copied by value.
		return v
	}
}
