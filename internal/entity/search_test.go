package entity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeElasticsearch serves canned search responses. The v8 client checks
// the product header on every response, so the fake must send it.
func fakeElasticsearch(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*elasticsearch.Client, func()) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)
	return client, server.Close
}

func TestSearcher_Search(t *testing.T) {
	var capturedBody map[string]interface{}

	client, cleanup := fakeElasticsearch(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/entities/_search", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&capturedBody)

		w.Write([]byte(`{
			"hits": {
				"total": {"value": 1},
				"hits": [
					{"_id": "rec-1", "_source": {
						"id": "rec-1",
						"class": "Contact",
						"collection": "contacts",
						"userId": "user-1",
						"fields": {"name": "Maria Gomez", "email": "maria@example.com"}
					}}
				]
			}
		}`))
	})
	defer cleanup()

	searcher := NewSearcher(client, "entities")
	records, err := searcher.Search(context.Background(), "Contact", "user-1", "maria", 5)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-1", records[0].ID)
	assert.Equal(t, "Maria Gomez", records[0].Fields["name"])

	// The query must stay scoped to the class and the requesting user.
	boolQuery := capturedBody["query"].(map[string]interface{})["bool"].(map[string]interface{})
	filters := boolQuery["filter"].([]interface{})
	require.Len(t, filters, 2)
	classTerm := filters[0].(map[string]interface{})["term"].(map[string]interface{})
	userTerm := filters[1].(map[string]interface{})["term"].(map[string]interface{})
	assert.Equal(t, "Contact", classTerm["class"])
	assert.Equal(t, "user-1", userTerm["userId"])
}

func TestSearcher_Search_NoHits(t *testing.T) {
	client, cleanup := fakeElasticsearch(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hits": {"total": {"value": 0}, "hits": []}}`))
	})
	defer cleanup()

	searcher := NewSearcher(client, "entities")
	records, err := searcher.Search(context.Background(), "Contact", "user-1", "nobody", 5)

	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSearcher_Search_ServerError(t *testing.T) {
	client, cleanup := fakeElasticsearch(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"type": "search_phase_execution_exception"}}`))
	})
	defer cleanup()

	searcher := NewSearcher(client, "entities")
	records, err := searcher.Search(context.Background(), "Contact", "user-1", "maria", 5)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSearchFailed)
	assert.Nil(t, records)
}

func TestSearcher_Index(t *testing.T) {
	var indexedPath string
	var indexedDoc map[string]interface{}

	client, cleanup := fakeElasticsearch(t, func(w http.ResponseWriter, r *http.Request) {
		indexedPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&indexedDoc)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"result": "created"}`))
	})
	defer cleanup()

	store, mock, storeCleanup := newMockStore(t)
	defer storeCleanup()
	mock.ExpectExec(`INSERT INTO entities`).WillReturnResult(sqlmock.NewResult(0, 1))

	searcher := NewSearcher(client, "entities")
	provider := NewStoreProvider(contactDescriptor(), store, searcher, testLogger(t))

	record, err := provider.Create(context.Background(), "user-1", map[string]interface{}{"name": "Maria Gomez"})
	require.NoError(t, err)

	assert.Equal(t, "/entities/_doc/"+record.ID, indexedPath)
	assert.Equal(t, "Contact", indexedDoc["class"])
	assert.Equal(t, "user-1", indexedDoc["userId"])
}
