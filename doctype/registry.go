package doctype

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lodestone-cms/lodestone/fieldtype"
	"github.com/lodestone-cms/lodestone/join"
	"github.com/lodestone-cms/lodestone/permission"
	"github.com/lodestone-cms/lodestone/schema"
	"github.com/lodestone-cms/lodestone/store"
)

// Registry holds the process-wide set of document type managers.
// Read-mostly after startup; safe for concurrent lookup.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]*Manager
	store  store.Store
	ftypes *fieldtype.Registry
	logger *zap.Logger
}

// NewRegistry creates an empty registry whose managers share the given
// store and field type registry.
func NewRegistry(st store.Store, ftypes *fieldtype.Registry, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		types:  make(map[string]*Manager),
		store:  st,
		ftypes: ftypes,
		logger: logger,
	}
}

// Definition declares one document type for registration.
type Definition struct {
	Name       string
	Label      string
	Collection string
	Fields     []*schema.Field
	Policy     permission.Policy
	URLFunc    URLFunc
}

// Add registers a document type. Collection defaults to the type name,
// Policy to allow-all. Registering a name twice replaces the earlier
// manager.
func (r *Registry) Add(def Definition) (*Manager, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("doctype: definition needs a name")
	}
	if def.Collection == "" {
		def.Collection = def.Name
	}
	if def.Policy == nil {
		def.Policy = permission.Permissive{}
	}
	m := &Manager{
		Name:       def.Name,
		Label:      def.Label,
		Collection: def.Collection,
		Fields:     def.Fields,
		Policy:     def.Policy,
		URLFunc:    def.URLFunc,
		store:      r.store,
		types:      r.ftypes,
		registry:   r,
		logger:     r.logger,
	}
	r.mu.Lock()
	r.types[def.Name] = m
	r.mu.Unlock()
	return m, nil
}

// Get returns the named type's manager, or nil.
func (r *Registry) Get(name string) *Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[name]
}

// boundTo returns a join target source scoped to one acting identity, so
// related documents are fetched under the same restrictions the identity
// would face querying the target type directly.
func (r *Registry) boundTo(identity any) join.TypeSource {
	return boundSource{registry: r, identity: identity}
}

type boundSource struct {
	registry *Registry
	identity any
}

func (b boundSource) JoinTarget(name string) (*join.Target, bool) {
	m := b.registry.Get(name)
	if m == nil {
		return nil, false
	}
	return &join.Target{
		Collection: m.Collection,
		Fields:     m.Fields,
		Store:      boundStore{manager: m, identity: b.identity},
	}, true
}

// boundStore restricts every read with the target type's safe defaults
// (not trashed, published) and the identity's view permission.
type boundStore struct {
	manager  *Manager
	identity any
}

func (b boundStore) restriction() store.Criteria {
	var view store.Criteria
	if b.manager.Policy != nil {
		view = b.manager.Policy.Criteria(b.identity, "view")
	}
	return store.And(
		store.Criteria{"trash": map[string]any{"$exists": false}},
		store.Criteria{"published": true},
		view,
	)
}

func (b boundStore) Find(ctx context.Context, collection string, q store.Query) ([]store.Doc, error) {
	q.Criteria = store.And(q.Criteria, b.restriction())
	docs, err := b.manager.store.Find(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	// Related documents get the same URL treatment a direct query over
	// the target type would apply.
	if b.manager.URLFunc != nil {
		for _, doc := range docs {
			doc["_url"] = b.manager.URLFunc(doc)
		}
	}
	return docs, nil
}

func (b boundStore) Count(ctx context.Context, collection string, c store.Criteria) (int, error) {
	return b.manager.store.Count(ctx, collection, store.And(c, b.restriction()))
}

func (b boundStore) Distinct(ctx context.Context, collection string, property string, c store.Criteria) ([]any, error) {
	return b.manager.store.Distinct(ctx, collection, property, store.And(c, b.restriction()))
}

// AddURLs computes URLs for fetched documents, grouping by document type
// and invoking each type's own URL hook when it declares one.
func (r *Registry) AddURLs(ctx context.Context, docs []store.Doc) error {
	for _, doc := range docs {
		name, _ := doc["type"].(string)
		if name == "" {
			continue
		}
		m := r.Get(name)
		if m == nil || m.URLFunc == nil {
			continue
		}
		doc["_url"] = m.URLFunc(doc)
	}
	return nil
}
