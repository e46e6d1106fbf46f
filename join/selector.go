package join

import "strings"

// Selector controls which joins a resolution pass loads. The zero value
// resolves every join found plus each join's own declared defaults one
// level deep; None resolves nothing; Paths resolves exactly the named
// dot-paths, descending into a join when a path extends past it.
type Selector struct {
	none     bool
	explicit bool
	paths    []string
}

// All resolves every join discovered, and each join's declared default
// nested joins one level deep.
func All() Selector { return Selector{} }

// None resolves nothing.
func None() Selector { return Selector{none: true} }

// Paths resolves only the joins named by the given dot-paths.
func Paths(paths ...string) Selector {
	return Selector{explicit: true, paths: paths}
}

// IsNone reports whether the selector suppresses all resolution.
func (s Selector) IsNone() bool { return s.none }

// Match decides whether a discovered join at dotPath should be resolved
// and, if so, which selector governs the join's own nested resolution.
// defaults is the join's declared default nested path set, consulted only
// in All mode; nested selectors never default-recurse further, which is
// what bounds mutual-join recursion.
func (s Selector) Match(dotPath string, defaults []string) (Selector, bool) {
	if s.none {
		return None(), false
	}
	if !s.explicit {
		if len(defaults) == 0 {
			return None(), true
		}
		return Paths(defaults...), true
	}

	var remainders []string
	matched := false
	for _, path := range s.paths {
		if path == dotPath {
			matched = true
			continue
		}
		if strings.HasPrefix(path, dotPath+".") {
			matched = true
			remainders = append(remainders, strings.TrimPrefix(path, dotPath+"."))
		}
	}
	if !matched {
		return None(), false
	}
	if len(remainders) == 0 {
		return None(), true
	}
	return Paths(remainders...), true
}
