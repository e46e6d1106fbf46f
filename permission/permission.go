// Package permission defines the query-contribution contract of the
// permission layer. The actual policy implementation lives outside this
// system; the cursor engine only needs criteria to restrict queries with
// and a per-document verb check for annotation.
package permission

import "github.com/lodestone-cms/lodestone/store"

// Policy contributes visibility criteria to queries and answers
// per-document capability checks.
type Policy interface {
	// Criteria returns the restriction conjoined into a query's criteria
	// for the given identity and verb ("view", "edit", "publish").
	// An empty result means no restriction.
	Criteria(identity any, verb string) store.Criteria

	// Can reports whether the identity may perform the verb on the
	// document.
	Can(identity any, verb string, doc store.Doc) bool
}

// Permissive allows everything. It is the default policy for trusted,
// in-process use and for tests.
type Permissive struct{}

func (Permissive) Criteria(identity any, verb string) store.Criteria { return nil }

func (Permissive) Can(identity any, verb string, doc store.Doc) bool { return true }
