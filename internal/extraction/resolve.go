package extraction

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"actionhub/internal/common/logger"
	"actionhub/internal/entity"
	"actionhub/internal/models"
)

// Resolver turns relationship-field name values into entity IDs. Names
// whose collection lives on a peer node are not guessed locally; they
// are tagged for the owning node to resolve.
type Resolver struct {
	registry  *entity.Registry
	ownership map[string]string
	localNode string
	logger    logger.Logger
}

func NewResolver(registry *entity.Registry, localNode string, ownership map[string]string, log logger.Logger) *Resolver {
	return &Resolver{
		registry:  registry,
		ownership: ownership,
		localNode: localNode,
		logger:    log.WithFields(map[string]interface{}{"component": "resolution"}),
	}
}

// Resolve walks the relationship fields and substitutes IDs in place:
// search first, substring second, autonomous creation third, defer for
// remote collections. Values that already look like IDs pass through.
func (r *Resolver) Resolve(ctx context.Context, userID string, fields []models.FieldSpec, params map[string]interface{}) map[string]interface{} {
	for _, field := range fields {
		if !field.Relationship {
			continue
		}
		raw, ok := params[field.Name].(string)
		if !ok || raw == "" || looksLikeID(raw) {
			continue
		}

		collection := field.RelatedCollection
		if collection == "" {
			continue
		}

		if owner, known := r.ownership[collection]; known && owner != r.localNode {
			// Keep the raw name so readiness is unaffected; the marker
			// tells the owning node to resolve it on arrival.
			params[field.Name+DeferSuffix] = true
			r.logger.Info("deferred relationship to owning node", map[string]interface{}{
				"field":      field.Name,
				"collection": collection,
				"node":       owner,
			})
			continue
		}

		provider, ok := r.registry.ByCollection(collection)
		if !ok {
			continue
		}

		if id, found := r.lookup(ctx, provider, userID, raw); found {
			params[field.Name] = id
			continue
		}

		if record := r.autoCreate(ctx, provider, userID, raw); record != nil {
			params[field.Name] = record.ID
		}
	}
	return params
}

func (r *Resolver) lookup(ctx context.Context, provider entity.Provider, userID, raw string) (string, bool) {
	hits, err := provider.Find(ctx, userID, raw)
	if err != nil {
		r.logger.Warn("relationship search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if len(hits) == 0 {
		hits, err = provider.FindSubstring(ctx, userID, raw)
		if err != nil {
			r.logger.Warn("relationship substring lookup failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	if len(hits) == 0 {
		return "", false
	}
	return hits[0].ID, true
}

func (r *Resolver) autoCreate(ctx context.Context, provider entity.Provider, userID, raw string) *models.EntityRecord {
	desc := provider.Descriptor()
	if !supportsCreate(desc) {
		return nil
	}

	record, err := provider.Create(ctx, userID, map[string]interface{}{nameField(desc): raw})
	if err != nil {
		r.logger.Warn("autonomous relationship creation failed", map[string]interface{}{
			"collection": desc.Collection,
			"error":      err.Error(),
		})
		return nil
	}
	r.logger.Info("created entity for unresolved relationship", map[string]interface{}{
		"collection": desc.Collection,
		"recordId":   record.ID,
	})
	return record
}

// looksLikeID filters values that are already resolved: numeric keys and
// UUIDs pass through untouched, which also keeps Resolve idempotent
// across merge re-runs.
func looksLikeID(s string) bool {
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	if _, err := uuid.Parse(s); err == nil {
		return true
	}
	return false
}

func supportsCreate(desc models.CollectionDescriptor) bool {
	if len(desc.Methods) == 0 {
		return true
	}
	for _, m := range desc.Methods {
		if m == "create" {
			return true
		}
	}
	return false
}

func nameField(desc models.CollectionDescriptor) string {
	for _, f := range desc.Fields {
		if f.Required {
			return f.Name
		}
	}
	return "name"
}
