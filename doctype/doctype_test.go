package doctype

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-cms/lodestone/fieldtype"
	"github.com/lodestone-cms/lodestone/schema"
	"github.com/lodestone-cms/lodestone/store"
)

func testRegistry(t *testing.T) (*Registry, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	return NewRegistry(mem, fieldtype.DefaultRegistry(), nil), mem
}

func TestManagerFindWiresJoinsAndURLs(t *testing.T) {
	reg, mem := testRegistry(t)

	_, err := reg.Add(Definition{
		Name:       "venue",
		Collection: "venues",
		Fields: []*schema.Field{
			{Name: "title", Type: "string"},
		},
		URLFunc: func(doc store.Doc) string {
			return "/venues/" + doc["_id"].(string)
		},
	})
	require.NoError(t, err)

	events, err := reg.Add(Definition{
		Name:       "event",
		Collection: "events",
		Fields: []*schema.Field{
			{Name: "title", Type: "string"},
			{Name: "_venue", Type: "joinByOne", WithType: "venue"},
		},
	})
	require.NoError(t, err)

	mem.Insert("venues",
		store.Doc{"_id": "v1", "type": "venue", "title": "Grand Hall", "published": true},
		store.Doc{"_id": "v2", "type": "venue", "title": "Condemned", "published": true, "trash": true},
	)
	mem.Insert("events",
		store.Doc{"_id": "e1", "type": "event", "title": "Recital", "venueId": "v1", "published": true},
		store.Doc{"_id": "e2", "type": "event", "title": "Séance", "venueId": "v2", "published": true},
	)

	docs, err := events.Find(nil).Sort(store.SortKey{Field: "_id"}).ToArray(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)

	venue, ok := docs[0]["_venue"].(store.Doc)
	require.True(t, ok)
	assert.Equal(t, "Grand Hall", venue["title"])
	assert.Equal(t, "/venues/v1", venue["_url"], "joined docs get their own type's URL")

	// The trashed venue is invisible through the join: target-type
	// defaults apply to related fetches too.
	_, joined := docs[1]["_venue"]
	assert.False(t, joined)
}

type ownerPolicy struct{}

func (ownerPolicy) Criteria(identity any, verb string) store.Criteria {
	return store.Criteria{"ownerId": identity}
}

func (ownerPolicy) Can(identity any, verb string, doc store.Doc) bool {
	return doc["ownerId"] == identity
}

func TestJoinFetchRespectsTargetPolicy(t *testing.T) {
	reg, mem := testRegistry(t)

	_, err := reg.Add(Definition{
		Name:       "note",
		Collection: "notes",
		Policy:     ownerPolicy{},
		Fields:     []*schema.Field{{Name: "body", Type: "string"}},
	})
	require.NoError(t, err)

	tasks, err := reg.Add(Definition{
		Name:       "task",
		Collection: "tasks",
		Fields: []*schema.Field{
			{Name: "_note", Type: "joinByOne", WithType: "note"},
		},
	})
	require.NoError(t, err)

	mem.Insert("notes",
		store.Doc{"_id": "n1", "type": "note", "ownerId": "u1", "published": true},
		store.Doc{"_id": "n2", "type": "note", "ownerId": "u2", "published": true},
	)
	mem.Insert("tasks",
		store.Doc{"_id": "t1", "type": "task", "noteId": "n1", "published": true},
		store.Doc{"_id": "t2", "type": "task", "noteId": "n2", "published": true},
	)

	docs, err := tasks.Find("u1").Permission("").Sort(store.SortKey{Field: "_id"}).ToArray(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)

	_, ok := docs[0]["_note"].(store.Doc)
	assert.True(t, ok, "own note joins")
	_, ok = docs[1]["_note"].(store.Doc)
	assert.False(t, ok, "someone else's note stays hidden")
}

func TestNewInstance(t *testing.T) {
	reg, _ := testRegistry(t)
	m, err := reg.Add(Definition{
		Name: "event",
		Fields: []*schema.Field{
			{Name: "title", Type: "string", Def: "Untitled"},
			{Name: "seats", Type: "integer"},
			{Name: "_venue", Type: "joinByOne", WithType: "venue"},
		},
	})
	require.NoError(t, err)

	doc := m.NewInstance()
	assert.NotEmpty(t, doc["_id"])
	assert.Equal(t, "event", doc["type"])
	assert.Equal(t, "Untitled", doc["title"])
	_, hasJoin := doc["_venue"]
	assert.False(t, hasJoin, "join fields are computed, never instantiated")
}

const definitionsYAML = `
types:
  - name: event
    label: Event
    collection: events
    urlPrefix: /events
    fields:
      - name: title
        type: string
        required: true
        sortify: true
      - name: seats
        type: integer
        def: 0
      - name: kind
        type: select
        choices:
          - label: Talk
            value: talk
          - label: Workshop
            value: workshop
    requireFields: [seats]
    arrange:
      - name: basics
        label: Basics
        fields: [title, kind]
  - name: venue
    fields:
      - name: title
        type: string
`

func TestLoadDefinitions(t *testing.T) {
	reg, _ := testRegistry(t)

	managers, err := reg.Load(strings.NewReader(definitionsYAML), nil)
	require.NoError(t, err)
	require.Len(t, managers, 2)

	event := reg.Get("event")
	require.NotNil(t, event)
	assert.Equal(t, "events", event.Collection)
	assert.Equal(t, "Event", event.Label)

	names := make([]string, 0, len(event.Fields))
	for _, f := range event.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"title", "kind", "seats"}, names, "arranged group precedes default leftovers")

	seats := schema.FieldByName(event.Fields, "seats")
	require.NotNil(t, seats)
	assert.True(t, seats.Required)
	assert.Equal(t, "default", seats.Group.Name)

	title := schema.FieldByName(event.Fields, "title")
	require.NotNil(t, title)
	assert.Equal(t, "basics", title.Group.Name)
	assert.True(t, title.Sortify)

	venue := reg.Get("venue")
	require.NotNil(t, venue)
	assert.Equal(t, "venue", venue.Collection, "collection defaults to the type name")
	assert.Nil(t, venue.URLFunc)

	doc := event.NewInstance()
	doc["slug"] = "autumn-fair"
	require.NoError(t, reg.AddURLs(context.Background(), []store.Doc{doc}))
	assert.Equal(t, "/events/autumn-fair", doc["_url"])
}
