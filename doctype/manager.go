// Package doctype ties the engines together: a Manager pairs a named
// document type with its composed schema, collection, permission policy
// and URL hook, and hands out cursors wired for joins, permissions and
// URL computation. A Registry holds the process-wide set of managers and
// serves as the join target source.
package doctype

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lodestone-cms/lodestone/cursor"
	"github.com/lodestone-cms/lodestone/fieldtype"
	"github.com/lodestone-cms/lodestone/join"
	"github.com/lodestone-cms/lodestone/permission"
	"github.com/lodestone-cms/lodestone/schema"
	"github.com/lodestone-cms/lodestone/store"
)

// URLFunc computes a document's canonical URL.
type URLFunc func(doc store.Doc) string

// Manager is one document type: its composed schema plus the
// collaborators every query over the type needs.
type Manager struct {
	Name       string
	Label      string
	Collection string
	Fields     []*schema.Field
	Policy     permission.Policy
	URLFunc    URLFunc

	store    store.Store
	types    *fieldtype.Registry
	registry *Registry
	logger   *zap.Logger
}

// Find returns a cursor over the type's collection for the acting
// identity, with trash/published defaults, permission restriction, join
// loading and URL computation already wired.
func (m *Manager) Find(identity any) *cursor.Cursor {
	resolver := join.NewResolver(m.types, m.registry.boundTo(identity), m.logger)
	return cursor.New(cursor.Config{
		Store:      m.store,
		Collection: m.Collection,
		Fields:     m.Fields,
		Identity:   identity,
		Policy:     m.Policy,
		Joins:      resolver,
		URLs:       m.registry,
		Logger:     m.logger,
	})
}

// NewInstance builds a fresh document of this type: generated id, type
// name, and every schema field at its declared or type default. Join
// fields receive nothing.
func (m *Manager) NewInstance() store.Doc {
	doc := m.types.NewInstance(m.Fields)
	doc["_id"] = uuid.NewString()
	doc["type"] = m.Name
	return doc
}
