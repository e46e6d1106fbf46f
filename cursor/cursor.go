// Package cursor implements a chainable, lazily-finalized query builder
// over a document store. Filters register dynamically; each contributes a
// set phase (chained calls record state), a finalize phase (state becomes
// store-ready criteria, projection and sort, run strictly in registration
// order) and an after phase (post-fetch enrichment such as join loading,
// permission annotation and URL computation).
package cursor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lodestone-cms/lodestone/join"
	"github.com/lodestone-cms/lodestone/permission"
	"github.com/lodestone-cms/lodestone/schema"
	"github.com/lodestone-cms/lodestone/store"
)

// ErrRefinalize signals from inside a finalizer that the whole finalize
// pass must restart from the first filter. It is consumed by the cursor
// and never surfaced to callers.
var ErrRefinalize = errors.New("cursor: restart finalize pass")

// maxFinalizePasses bounds refinalize loops.
const maxFinalizePasses = 8

// Safety marks a filter as acceptable for a given untrusted-input
// context. ApplyUnsafe honors only filters at or below the requested
// level.
type Safety int

const (
	SafeNever Safety = iota
	SafeManage
	SafePublic
)

// Filter is one registered query capability. Set stores a value (the
// default Set records into the state map verbatim), Finalize folds the
// current value into the store query, After transforms fetched results.
// Launder sanitizes one untrusted input value; a false return drops it.
type Filter struct {
	Name     string
	Def      any
	Safe     Safety
	Launder  func(v any) (any, bool)
	Finalize func(ctx context.Context, c *Cursor) error
	After    func(ctx context.Context, c *Cursor, docs []store.Doc) error
}

// JoinLoader resolves relationship fields on fetched documents. The join
// resolver satisfies it.
type JoinLoader interface {
	Resolve(ctx context.Context, fields []*schema.Field, docs []store.Doc, sel join.Selector) error
}

// URLComputer attaches computed URLs to fetched documents, grouping by
// document type. The doctype registry satisfies it.
type URLComputer interface {
	AddURLs(ctx context.Context, docs []store.Doc) error
}

type status int

const (
	statusOpen status = iota
	statusFinalizing
	statusFinalized
	statusAfter // finalized, with mutation temporarily re-permitted
)

// Config carries a cursor's collaborators. Store and Collection are
// required; everything else degrades gracefully when absent.
type Config struct {
	Store      store.Store
	Collection string
	Fields     []*schema.Field
	Identity   any
	Policy     permission.Policy
	Joins      JoinLoader
	URLs       URLComputer
	Logger     *zap.Logger
}

// Cursor accumulates filter state and executes it against the store on a
// terminal call. Not safe for concurrent use; concurrent flows must each
// hold a Clone.
type Cursor struct {
	cfg     Config
	filters []*Filter
	index   map[string]*Filter
	state   map[string]any
	query   store.Query
	status  status
	err     error
	pages   int
}

// New builds a cursor with the built-in filters pre-registered in their
// canonical order.
func New(cfg Config) *Cursor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	c := &Cursor{
		cfg:   cfg,
		index: make(map[string]*Filter),
		state: make(map[string]any),
	}
	registerBuiltins(c)
	return c
}

// Register adds a filter. Finalizers and after hooks run in registration
// order; registering a name twice is a programming error.
func (c *Cursor) Register(f *Filter) error {
	if f.Name == "" {
		return errors.New("cursor: filter needs a name")
	}
	if _, dup := c.index[f.Name]; dup {
		return fmt.Errorf("cursor: filter %q already registered", f.Name)
	}
	c.filters = append(c.filters, f)
	c.index[f.Name] = f
	return nil
}

func (c *Cursor) mustRegister(f *Filter) {
	if err := c.Register(f); err != nil {
		panic(err)
	}
}

// Set records a filter value. Calling a filter a second time replaces the
// first value. Mutation after finalize is rejected (after hooks excepted)
// and reported by the next terminal call.
func (c *Cursor) Set(name string, value any) *Cursor {
	if c.err != nil {
		return c
	}
	if _, ok := c.index[name]; !ok {
		c.err = fmt.Errorf("cursor: unknown filter %q", name)
		return c
	}
	if c.status == statusFinalized || c.status == statusFinalizing {
		c.err = fmt.Errorf("cursor: filter %q set after finalize", name)
		return c
	}
	c.state[name] = value
	return c
}

// Get returns the filter's current value, falling back to its declared
// default.
func (c *Cursor) Get(name string) any {
	if v, ok := c.state[name]; ok {
		return v
	}
	if f, ok := c.index[name]; ok {
		return f.Def
	}
	return nil
}

// IsSet reports whether a filter was explicitly invoked.
func (c *Cursor) IsSet(name string) bool {
	_, ok := c.state[name]
	return ok
}

// Identity is the acting identity shared by reference across clones.
func (c *Cursor) Identity() any { return c.cfg.Identity }

// Fields is the composed schema the cursor queries over.
func (c *Cursor) Fields() []*schema.Field { return c.cfg.Fields }

// Query exposes the store query under construction. Finalizers mutate it.
func (c *Cursor) Query() *store.Query { return &c.query }

// Clone deep-copies filter state into an independent cursor. The
// identity, policy and store collaborators are shared by reference; they
// are read-only for a query's lifetime.
func (c *Cursor) Clone() *Cursor {
	cp := &Cursor{
		cfg:   c.cfg,
		index: make(map[string]*Filter, len(c.index)),
		state: make(map[string]any, len(c.state)),
		err:   c.err,
	}
	cp.filters = append(cp.filters, c.filters...)
	for name, f := range c.index {
		cp.index[name] = f
	}
	for name, v := range c.state {
		cp.state[name] = cloneStateValue(v)
	}
	return cp
}

func cloneStateValue(v any) any {
	switch val := v.(type) {
	case store.Criteria:
		return store.CloneDoc(val)
	case []store.SortKey:
		out := make([]store.SortKey, len(val))
		copy(out, val)
		return out
	case map[string]int:
		out := make(map[string]int, len(val))
		for k, n := range val {
			out[k] = n
		}
		return out
	case explicitOrderSpec:
		ids := make([]any, len(val.IDs))
		copy(ids, val.IDs)
		return explicitOrderSpec{IDs: ids, Property: val.Property}
	default:
		return store.CloneValue(v)
	}
}

// ApplyUnsafe bulk-applies untrusted key-value input (query-string
// parameters and the like). Only filters declared safe at the given trust
// level are honored, and every accepted value passes through the filter's
// launder function first. This is the sole supported path for exposing
// query capability to end users.
func (c *Cursor) ApplyUnsafe(level Safety, values map[string]any) *Cursor {
	for _, f := range c.filters {
		raw, present := values[f.Name]
		if !present {
			continue
		}
		if f.Safe == SafeNever || f.Safe < level {
			continue
		}
		if f.Launder == nil {
			continue
		}
		clean, ok := f.Launder(raw)
		if !ok {
			continue
		}
		c.Set(f.Name, clean)
	}
	return c
}

// Finalize runs every filter's finalizer in registration order, producing
// the store query. A finalizer returning ErrRefinalize restarts the pass
// from the first filter against a fresh query. Idempotent once finalized.
func (c *Cursor) Finalize(ctx context.Context) error {
	if c.err != nil {
		return c.err
	}
	if c.status == statusFinalized || c.status == statusAfter {
		return nil
	}
	c.status = statusFinalizing

	for pass := 0; pass < maxFinalizePasses; pass++ {
		c.query = store.Query{}
		restart := false
		for _, f := range c.filters {
			if f.Finalize == nil {
				continue
			}
			err := f.Finalize(ctx, c)
			if errors.Is(err, ErrRefinalize) {
				restart = true
				break
			}
			if err != nil {
				c.status = statusOpen
				c.err = fmt.Errorf("cursor: finalize %s: %w", f.Name, err)
				return c.err
			}
		}
		if !restart {
			c.status = statusFinalized
			return nil
		}
	}

	c.status = statusOpen
	c.err = errors.New("cursor: finalize did not converge")
	return c.err
}

// after runs every filter's after hook in registration order. Filter
// mutation is re-permitted for the duration: after hooks may invoke
// setters to prepare recursive sub-queries.
func (c *Cursor) after(ctx context.Context, docs []store.Doc) error {
	c.status = statusAfter
	defer func() { c.status = statusFinalized }()
	for _, f := range c.filters {
		if f.After == nil {
			continue
		}
		if err := f.After(ctx, c, docs); err != nil {
			return fmt.Errorf("cursor: after %s: %w", f.Name, err)
		}
	}
	return nil
}

// ToArray finalizes, fetches all matching documents and runs the after
// pipeline over them.
func (c *Cursor) ToArray(ctx context.Context) ([]store.Doc, error) {
	if err := c.Finalize(ctx); err != nil {
		return nil, err
	}
	docs, err := c.cfg.Store.Find(ctx, c.cfg.Collection, c.query)
	if err != nil {
		return nil, err
	}
	if err := c.after(ctx, docs); err != nil {
		return nil, err
	}
	// explicitOrder reorders in its after hook by swapping the slice
	// contents; re-read the possibly shortened view.
	if reordered, ok := c.state[reorderedKey].([]store.Doc); ok {
		delete(c.state, reorderedKey)
		return reordered, nil
	}
	return docs, nil
}

// ToObject fetches a single document: it forces limit 1 for the duration
// of the call and restores the prior limit afterward.
func (c *Cursor) ToObject(ctx context.Context) (store.Doc, error) {
	prev, had := c.state["limit"]
	c.state["limit"] = 1
	prevQueryLimit := c.query.Limit
	if c.status == statusFinalized {
		c.query.Limit = 1
	}
	defer func() {
		if had {
			c.state["limit"] = prev
		} else {
			delete(c.state, "limit")
		}
		if c.status == statusFinalized {
			c.query.Limit = prevQueryLimit
		}
	}()

	docs, err := c.ToArray(ctx)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// Count counts matching documents ignoring pagination: it clones the
// cursor, clears the pagination filters on the clone and counts with the
// clone's finalized criteria. When perPage is configured, TotalPages is
// computed as ceil(count / perPage).
func (c *Cursor) Count(ctx context.Context) (int, error) {
	cp := c.Clone()
	for _, name := range []string{"page", "perPage", "skip", "limit"} {
		delete(cp.state, name)
	}
	if err := cp.Finalize(ctx); err != nil {
		return 0, err
	}
	n, err := c.cfg.Store.Count(ctx, c.cfg.Collection, cp.query.Criteria)
	if err != nil {
		return 0, err
	}
	c.pages = 0
	if perPage, ok := c.state["perPage"].(int); ok && perPage > 0 {
		c.pages = (n + perPage - 1) / perPage
	}
	return n, nil
}

// TotalPages is the page count computed by the most recent Count; zero
// when pagination is not configured.
func (c *Cursor) TotalPages() int { return c.pages }

// Distinct returns the distinct values of a property among matching
// documents. Only criteria applies: projection, sort and pagination are
// bypassed.
func (c *Cursor) Distinct(ctx context.Context, property string) ([]any, error) {
	cp := c.Clone()
	for _, name := range []string{"page", "perPage", "skip", "limit"} {
		delete(cp.state, name)
	}
	if err := cp.Finalize(ctx); err != nil {
		return nil, err
	}
	return c.cfg.Store.Distinct(ctx, c.cfg.Collection, property, cp.query.Criteria)
}
