package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"actionhub/internal/models"
)

const peerCacheKey = "actionhub:discovery:peers"

// buildDynamic derives one create action per known collection: local
// providers first, then peer collections grouped by node slug. Slugs are
// sorted so repeated refreshes keep a stable order.
func (c *Catalog) buildDynamic(ctx context.Context) []models.ActionDefinition {
	var defs []models.ActionDefinition
	if c.entities != nil {
		for _, desc := range c.entities.Descriptors(c.cfg.LocalNode) {
			defs = append(defs, createDefinition(desc, c.cfg.LocalNode))
		}
	}

	peers := c.peerDescriptors(ctx)
	slugs := make([]string, 0, len(peers))
	for slug := range peers {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	for _, slug := range slugs {
		for _, desc := range peers[slug] {
			desc.Node = slug
			defs = append(defs, createDefinition(desc, c.cfg.LocalNode))
		}
	}
	return defs
}

// peerDescriptors fetches the peer collection map, going through the
// shared Redis cache first so a burst of turns does not hammer every
// peer with /collections calls.
func (c *Catalog) peerDescriptors(ctx context.Context) map[string][]models.CollectionDescriptor {
	if c.peers == nil {
		return nil
	}

	if c.redis != nil {
		cached, err := c.redis.Get(ctx, peerCacheKey)
		switch {
		case err == nil:
			var out map[string][]models.CollectionDescriptor
			if jsonErr := json.Unmarshal([]byte(cached), &out); jsonErr == nil {
				return out
			}
			c.logger.Warn("discarding unreadable discovery cache entry", map[string]interface{}{
				"key": peerCacheKey,
			})
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("discovery cache read failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	out := c.peers.PeerCollections(ctx)

	if c.redis != nil && len(out) > 0 {
		data, err := json.Marshal(out)
		if err == nil {
			if err := c.redis.Set(ctx, peerCacheKey, string(data), c.cfg.DiscoveryCacheTTL); err != nil {
				c.logger.Warn("failed to cache peer collections", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
	return out
}

// createDefinition turns a collection descriptor into a creation action.
// Remote collections get a node-qualified id and the composite
// "nodeSlug:Class" entity class the router splits later.
func createDefinition(desc models.CollectionDescriptor, localNode string) models.ActionDefinition {
	class := strings.ToLower(desc.Class)
	remote := desc.Node != "" && desc.Node != localNode

	def := models.ActionDefinition{
		Label:       fmt.Sprintf("Create %s", desc.Class),
		Description: fmt.Sprintf("Create a new %s record", desc.Class),
		Executor:    models.ExecutorEntityCreate,
		EntityClass: desc.Class,
		Fields:      desc.Fields,
		Triggers:    entityTriggers(desc),
	}

	if remote {
		def.ID = fmt.Sprintf("create_%s_%s", strings.ToLower(desc.Node), class)
		def.Label = fmt.Sprintf("Create %s on %s", desc.Class, desc.Node)
		def.Description = fmt.Sprintf("Create a new %s record on node %s", desc.Class, desc.Node)
		def.EntityClass = fmt.Sprintf("%s:%s", desc.Node, desc.Class)
		def.SourceNode = desc.Node
		def.Remote = true
	} else {
		def.ID = fmt.Sprintf("create_%s", class)
	}
	return def
}

func entityTriggers(desc models.CollectionDescriptor) []string {
	triggers := []string{strings.ToLower(desc.Class)}
	if coll := strings.ToLower(desc.Collection); coll != "" && coll != triggers[0] {
		triggers = append(triggers, coll)
	}
	return triggers
}
