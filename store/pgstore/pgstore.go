// Package pgstore backs the document store with PostgreSQL: one
// `documents` table holding every collection as rows of JSONB, criteria
// trees compiled to parameterized SQL over jsonb operators.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lodestone-cms/lodestone/store"
)

// Store implements store.Store over a PostgreSQL connection.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New wraps an open connection. The caller owns the connection's
// lifecycle.
func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	collection text NOT NULL,
	id text NOT NULL,
	data jsonb NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection);
`

// EnsureSchema creates the backing table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("pgstore: ensure schema: %w", err)
	}
	return nil
}

// Insert upserts documents into a collection, keyed by their _id.
func (s *Store) Insert(ctx context.Context, collection string, docs ...store.Doc) error {
	for _, doc := range docs {
		id, _ := doc["_id"].(string)
		if id == "" {
			return fmt.Errorf("pgstore: document needs a string _id")
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("pgstore: encode document %s: %w", id, err)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
			 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data`,
			collection, id, data)
		if err != nil {
			return fmt.Errorf("pgstore: insert document %s: %w", id, err)
		}
	}
	return nil
}

// Find compiles the query to SQL and decodes matching rows. Projection is
// applied after decoding; text relevance scoring is not supported by this
// backend, so TextScore requests sort by nothing here.
func (s *Store) Find(ctx context.Context, collection string, q store.Query) ([]store.Doc, error) {
	b := newBuilder(collection)
	where, err := b.compile(q.Criteria)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT data FROM documents WHERE collection = $1")
	if where != "" {
		sb.WriteString(" AND ")
		sb.WriteString(where)
	}
	if clause := orderBy(q.Sort); clause != "" {
		sb.WriteString(" ")
		sb.WriteString(clause)
	}
	if q.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}
	if q.Skip > 0 {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", q.Skip))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), b.args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: find: %w", err)
	}
	defer rows.Close()

	var docs []store.Doc
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("pgstore: scan row: %w", err)
		}
		var doc store.Doc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("pgstore: decode document: %w", err)
		}
		if len(q.Projection) > 0 {
			doc = store.Project(doc, q.Projection)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count counts matching rows.
func (s *Store) Count(ctx context.Context, collection string, c store.Criteria) (int, error) {
	b := newBuilder(collection)
	where, err := b.compile(c)
	if err != nil {
		return 0, err
	}
	query := "SELECT COUNT(*) FROM documents WHERE collection = $1"
	if where != "" {
		query += " AND " + where
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, b.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgstore: count: %w", err)
	}
	return n, nil
}

// Distinct returns the distinct values of a property among matching
// documents. Array-valued properties contribute their elements.
func (s *Store) Distinct(ctx context.Context, collection string, property string, c store.Criteria) ([]any, error) {
	b := newBuilder(collection)
	where, err := b.compile(c)
	if err != nil {
		return nil, err
	}
	prop := b.arg(property)
	query := fmt.Sprintf(
		`SELECT DISTINCT value FROM documents,
		 LATERAL jsonb_array_elements(
			CASE WHEN jsonb_typeof(data->%s) = 'array'
			     THEN data->%s
			     ELSE jsonb_build_array(data->%s) END
		 ) AS value
		 WHERE collection = $1 AND data ? %s`,
		prop, prop, prop, prop)
	if where != "" {
		query += " AND " + where
	}

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: distinct: %w", err)
	}
	defer rows.Close()

	var values []any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("pgstore: scan value: %w", err)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("pgstore: decode value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// orderBy compiles sort keys. jsonb ordering compares numbers numerically
// and strings lexically, which matches the memory store's behavior.
func orderBy(keys []store.SortKey) string {
	var parts []string
	for _, key := range keys {
		if key.Field == store.TextScoreField {
			continue
		}
		dir := "ASC"
		if key.Descending {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("data->%s %s", quoteLiteral(key.Field), dir))
	}
	if len(parts) == 0 {
		return ""
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

// quoteLiteral single-quotes a jsonb key. Field names come from schema
// definitions, not user input, but quoting keeps them inert regardless.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
