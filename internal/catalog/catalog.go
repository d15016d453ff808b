package catalog

import (
	"context"
	"sync"
	"time"

	"actionhub/internal/common/database"
	"actionhub/internal/common/logger"
	"actionhub/internal/entity"
	"actionhub/internal/models"
)

const (
	DefaultMinDynamicConfidence = 0.8
	DefaultDiscoveryCacheTTL    = 5 * time.Minute
)

// PeerDirectory lists the entity collections peer nodes publish. A nil
// directory means federation is off and discovery stays local.
type PeerDirectory interface {
	PeerCollections(ctx context.Context) map[string][]models.CollectionDescriptor
}

type Config struct {
	LocalNode            string
	MinDynamicConfidence float64
	DiscoveryCacheTTL    time.Duration
	RegistryPath         string
}

// Catalog holds the current action templates: a fixed built-in set,
// optionally overlaid from a registry file, plus dynamic create-entity
// templates re-derived on every refresh.
type Catalog struct {
	cfg      Config
	entities *entity.Registry
	peers    PeerDirectory
	redis    *database.RedisClient
	logger   logger.Logger

	mu          sync.RWMutex
	builtins    []models.ActionDefinition
	dynamic     []models.ActionDefinition
	lastRefresh time.Time
}

func NewCatalog(cfg Config, entities *entity.Registry, peers PeerDirectory, redisClient *database.RedisClient, log logger.Logger) (*Catalog, error) {
	if cfg.MinDynamicConfidence <= 0 {
		cfg.MinDynamicConfidence = DefaultMinDynamicConfidence
	}
	if cfg.DiscoveryCacheTTL <= 0 {
		cfg.DiscoveryCacheTTL = DefaultDiscoveryCacheTTL
	}

	c := &Catalog{
		cfg:      cfg,
		entities: entities,
		peers:    peers,
		redis:    redisClient,
		logger:   log.WithFields(map[string]interface{}{"component": "catalog"}),
	}

	builtins, err := seedBuiltins(cfg.RegistryPath, c.logger)
	if err != nil {
		return nil, err
	}
	c.builtins = builtins
	return c, nil
}

// Discover returns the current template set, refreshing the dynamic
// part when it has gone stale. The returned slice is a copy.
func (c *Catalog) Discover(ctx context.Context) []models.ActionDefinition {
	c.mu.RLock()
	stale := time.Since(c.lastRefresh) > c.cfg.DiscoveryCacheTTL
	c.mu.RUnlock()

	if stale {
		c.Refresh(ctx)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.ActionDefinition, 0, len(c.builtins)+len(c.dynamic))
	out = append(out, c.builtins...)
	out = append(out, c.dynamic...)
	return out
}

// Refresh rebuilds the dynamic template set from scratch. Re-running it
// yields the same result for the same provider and peer state; nothing
// accumulates.
func (c *Catalog) Refresh(ctx context.Context) {
	dynamic := c.buildDynamic(ctx)

	c.mu.Lock()
	c.dynamic = dynamic
	c.lastRefresh = time.Now()
	c.mu.Unlock()

	c.logger.Info("catalog refreshed", map[string]interface{}{
		"builtins": len(c.builtins),
		"dynamic":  len(dynamic),
	})
}

// ByID looks a template up across both sets.
func (c *Catalog) ByID(id string) (*models.ActionDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.builtins {
		if c.builtins[i].ID == id {
			def := c.builtins[i]
			return &def, true
		}
	}
	for i := range c.dynamic {
		if c.dynamic[i].ID == id {
			def := c.dynamic[i]
			return &def, true
		}
	}
	return nil, false
}
