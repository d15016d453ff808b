package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"actionhub/internal/models"
)

var (
	ErrSearchFailed = errors.New("SEARCH_QUERY_FAILED")
)

// Searcher runs phrase lookups over the entity index. Documents mirror
// the EntityRecord JSON shape, so declared fields are queried under the
// fields.* prefix.
type Searcher struct {
	client *elasticsearch.Client
	index  string
}

func NewSearcher(client *elasticsearch.Client, index string) *Searcher {
	return &Searcher{client: client, index: index}
}

func (s *Searcher) Search(ctx context.Context, class, userID, query string, size int) ([]models.EntityRecord, error) {
	if size <= 0 {
		size = defaultFindLimit
	}

	queryBody := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []interface{}{
					map[string]interface{}{
						"multi_match": map[string]interface{}{
							"query":  query,
							"fields": []string{"fields.*"},
							"type":   "best_fields",
						},
					},
				},
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"class": class}},
					map[string]interface{}{"term": map[string]interface{}{"userId": userID}},
				},
			},
		},
	}

	body, _ := json.Marshal(queryBody)
	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
		Size:  &size,
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("%w: %s", ErrSearchFailed, res.String())
	}

	var r map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	return recordsFromHits(r), nil
}

// Index writes a record into the entity index under its ID.
func (s *Searcher) Index(ctx context.Context, record *models.EntityRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: record.ID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("index record: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index record: %s", res.String())
	}
	return nil
}

func recordsFromHits(r map[string]interface{}) []models.EntityRecord {
	hits, ok := r["hits"].(map[string]interface{})
	if !ok {
		return nil
	}
	entries, ok := hits["hits"].([]interface{})
	if !ok {
		return nil
	}

	var records []models.EntityRecord
	for _, entry := range entries {
		hit, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		source, ok := hit["_source"].(map[string]interface{})
		if !ok {
			continue
		}

		// Round-trip through JSON keeps the document and struct shapes in
		// one place instead of hand-mapping every key.
		raw, err := json.Marshal(source)
		if err != nil {
			continue
		}
		var record models.EntityRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		if record.ID == "" {
			if id, ok := hit["_id"].(string); ok {
				record.ID = id
			}
		}
		records = append(records, record)
	}
	return records
}
