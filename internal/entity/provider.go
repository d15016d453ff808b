package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"actionhub/internal/common/logger"
	"actionhub/internal/models"
)

var (
	ErrUnknownClass   = errors.New("UNKNOWN_ENTITY_CLASS")
	ErrDuplicateClass = errors.New("DUPLICATE_ENTITY_CLASS")
)

// Provider serves one entity class on this node. The catalog reads the
// descriptor to synthesize a creation action, the resolver uses Find and
// Create to turn user phrases into entity IDs.
type Provider interface {
	Descriptor() models.CollectionDescriptor
	Create(ctx context.Context, userID string, fields map[string]interface{}) (*models.EntityRecord, error)
	Find(ctx context.Context, userID, query string) ([]models.EntityRecord, error)
	FindSubstring(ctx context.Context, userID, text string) ([]models.EntityRecord, error)
}

// Registry holds the node's local providers keyed by class, preserving
// registration order for deterministic catalog synthesis.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

func (r *Registry) Register(p Provider) error {
	class := p.Descriptor().Class
	if class == "" {
		return fmt.Errorf("%w: empty class", ErrUnknownClass)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[class]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClass, class)
	}
	r.providers[class] = p
	r.order = append(r.order, class)
	return nil
}

func (r *Registry) Get(class string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[class]
	return p, ok
}

// ByCollection looks a provider up by its collection name instead of its
// class. Peer descriptors and ownership maps refer to collections.
func (r *Registry) ByCollection(collection string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, class := range r.order {
		p := r.providers[class]
		if p.Descriptor().Collection == collection {
			return p, true
		}
	}
	return nil, false
}

// All returns the providers in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, class := range r.order {
		out = append(out, r.providers[class])
	}
	return out
}

// Descriptors returns the collection descriptors for every registered
// provider, stamped with the given node slug.
func (r *Registry) Descriptors(node string) []models.CollectionDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.CollectionDescriptor, 0, len(r.order))
	for _, class := range r.order {
		desc := r.providers[class].Descriptor()
		desc.Node = node
		out = append(out, desc)
	}
	return out
}

// StoreProvider is the standard Provider: records live in Postgres, with
// an optional Elasticsearch searcher in front for phrase lookups.
type StoreProvider struct {
	desc   models.CollectionDescriptor
	store  *Store
	search *Searcher
	logger logger.Logger
}

func NewStoreProvider(desc models.CollectionDescriptor, store *Store, search *Searcher, log logger.Logger) *StoreProvider {
	return &StoreProvider{
		desc:   desc,
		store:  store,
		search: search,
		logger: log.WithFields(map[string]interface{}{"entityClass": desc.Class}),
	}
}

func (p *StoreProvider) Descriptor() models.CollectionDescriptor {
	return p.desc
}

func (p *StoreProvider) Create(ctx context.Context, userID string, fields map[string]interface{}) (*models.EntityRecord, error) {
	record := &models.EntityRecord{
		Class:      p.desc.Class,
		Collection: p.desc.Collection,
		UserID:     userID,
		Fields:     fields,
	}
	if err := p.store.Create(ctx, record); err != nil {
		return nil, err
	}

	if p.search != nil {
		// Indexing is best-effort: the record is durable either way and
		// the substring fallback still finds it.
		if err := p.search.Index(ctx, record); err != nil {
			p.logger.Warn("failed to index new record", map[string]interface{}{
				"recordId": record.ID,
				"error":    err.Error(),
			})
		}
	}

	p.logger.Info("entity created", map[string]interface{}{
		"recordId": record.ID,
		"userId":   userID,
	})
	return record, nil
}

func (p *StoreProvider) Find(ctx context.Context, userID, query string) ([]models.EntityRecord, error) {
	if p.search == nil {
		return p.store.FindBySubstring(ctx, p.desc.Class, userID, query, defaultFindLimit)
	}
	return p.search.Search(ctx, p.desc.Class, userID, query, defaultFindLimit)
}

func (p *StoreProvider) FindSubstring(ctx context.Context, userID, text string) ([]models.EntityRecord, error) {
	return p.store.FindBySubstring(ctx, p.desc.Class, userID, text, defaultFindLimit)
}

const defaultFindLimit = 10
