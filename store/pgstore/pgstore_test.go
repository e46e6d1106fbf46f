package pgstore

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodestone-cms/lodestone/store"
)

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, nil), mock
}

func TestFindCompilesEqualityToContainment(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT data FROM documents WHERE collection = $1 AND (data @> $2::jsonb OR data @> $3::jsonb)")).
		WithArgs("events", `{"title":"Autumn Fair"}`, `{"title":["Autumn Fair"]}`).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"_id":"e1","title":"Autumn Fair","seats":120}`)))

	docs, err := s.Find(context.Background(), "events", store.Query{
		Criteria: store.Criteria{"title": "Autumn Fair"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "e1", docs[0]["_id"])
	assert.Equal(t, float64(120), docs[0]["seats"], "jsonb numbers decode as float64")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAppliesSortSkipLimitAndProjection(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT data FROM documents WHERE collection = $1 ORDER BY data->'seats' DESC LIMIT 10 OFFSET 10")).
		WithArgs("events").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"_id":"e1","title":"Autumn Fair","seats":120}`)))

	docs, err := s.Find(context.Background(), "events", store.Query{
		Sort:       []store.SortKey{{Field: "seats", Descending: true}},
		Skip:       10,
		Limit:      10,
		Projection: map[string]int{"title": 1},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, store.Doc{"_id": "e1", "title": "Autumn Fair"}, docs[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCompilesOperators(t *testing.T) {
	s, mock := mockStore(t)

	// $gte compiles to a numeric cast comparison; exact argument order is
	// part of the builder's contract.
	mock.ExpectQuery(regexp.QuoteMeta("(data #>> $2)::numeric >= $3")).
		WithArgs("events", sqlmock.AnyArg(), 100).
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	_, err := s.Find(context.Background(), "events", store.Query{
		Criteria: store.Criteria{"seats": map[string]any{"$gte": 100}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCompilesInToAnyWithArrayFallback(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery("data #>> \\$2 = ANY\\(\\$3\\) OR EXISTS").
		WithArgs("events", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	_, err := s.Find(context.Background(), "events", store.Query{
		Criteria: store.Criteria{"_id": map[string]any{"$in": []any{"e1", "e2"}}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCompilesAndOrTrees(t *testing.T) {
	s, mock := mockStore(t)

	criteria := store.And(
		store.Criteria{"published": true},
		store.Criteria{"trash": map[string]any{"$exists": false}},
	)

	mock.ExpectQuery(regexp.QuoteMeta(
		"((data @> $2::jsonb OR data @> $3::jsonb) AND (data #> $4 IS NULL))")).
		WithArgs("events", `{"published":true}`, `{"published":[true]}`, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	_, err := s.Find(context.Background(), "events", store.Query{Criteria: criteria})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCompilesRegexAndText(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("data #>> $2 ~* $3")).
		WithArgs("events", sqlmock.AnyArg(), "craft").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))
	_, err := s.Find(context.Background(), "events", store.Query{
		Criteria: store.Criteria{"title": map[string]any{"$regex": "craft", "$options": "i"}},
	})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("data::text ILIKE $2")).
		WithArgs("events", "%fair%").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))
	_, err = s.Find(context.Background(), "events", store.Query{
		Criteria: store.Criteria{"$text": map[string]any{"$search": "fair"}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM documents WHERE collection = $1")).
		WithArgs("events", `{"published":true}`, `{"published":[true]}`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.Count(context.Background(), "events", store.Criteria{"published": true})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDistinctFlattensArrays(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery("SELECT DISTINCT value FROM documents").
		WithArgs("events", "tags").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).
			AddRow([]byte(`"jazz"`)).
			AddRow([]byte(`"blues"`)))

	values, err := s.Distinct(context.Background(), "events", "tags", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"jazz", "blues"}, values)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertUpserts(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).
		WithArgs("events", "e1", []byte(`{"_id":"e1","title":"Autumn Fair"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Insert(context.Background(), "events",
		store.Doc{"_id": "e1", "title": "Autumn Fair"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	err = s.Insert(context.Background(), "events", store.Doc{"title": "no id"})
	assert.ErrorContains(t, err, "_id")
}
