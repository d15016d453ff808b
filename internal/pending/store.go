package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"actionhub/internal/common/database"
	"actionhub/internal/common/logger"
	"actionhub/internal/common/metrics"
	"actionhub/internal/extraction"
	"actionhub/internal/models"
)

var (
	ErrNoPending = errors.New("PENDING_ACTION_NOT_FOUND")
)

const DefaultTTL = 24 * time.Hour

func sessionKey(sessionID string) string {
	return fmt.Sprintf("actionhub:pending:%s", sessionID)
}

// Store persists at most one partially-filled action per session.
// Writing a different action for the same session replaces the old one.
type Store struct {
	redis  *database.RedisClient
	ttl    time.Duration
	logger logger.Logger
}

func NewStore(redisClient *database.RedisClient, ttl time.Duration, log logger.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		redis:  redisClient,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "pending"}),
	}
}

// Get returns the session's active action, or nil when none is stored.
// An entry that no longer unmarshals is discarded rather than surfaced.
func (s *Store) Get(ctx context.Context, sessionID string) (*models.PendingAction, error) {
	raw, err := s.redis.Get(ctx, sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load pending action: %w", err)
	}

	var action models.PendingAction
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		s.logger.Warn("discarding unreadable pending action", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		_ = s.Delete(ctx, sessionID)
		return nil, nil
	}
	return &action, nil
}

// Store writes the action as the session's single active entry.
func (s *Store) Store(ctx context.Context, sessionID string, action *models.PendingAction, userID string) error {
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	if userID != "" {
		action.UserID = userID
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	syncStatus(action)

	prior, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if prior != nil && prior.ActionID != action.ActionID {
		s.logger.Info("superseding pending action", map[string]interface{}{
			"sessionId": sessionID,
			"previous":  prior.ActionID,
			"next":      action.ActionID,
		})
	}

	if err := s.write(ctx, sessionID, action); err != nil {
		return err
	}
	if prior == nil {
		metrics.PendingActive.Inc()
	}
	return nil
}

// UpdateParams merges the partial into the stored params and rederives
// the missing set from the template fields. The missing list is never
// patched in place; it is recomputed from scratch on every merge.
func (s *Store) UpdateParams(ctx context.Context, sessionID string, partial map[string]interface{}, fields []models.FieldSpec) (*models.PendingAction, error) {
	action, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, ErrNoPending
	}

	keyed := applyPrefixes(scrubEmpty(partial), action.MissingFields, fields)
	action.Data.Params = deepMerge(action.EnsureParams(), keyed)

	action.MissingFields = extraction.MissingFields(fields, action.Data.Params)
	syncStatus(action)

	if err := s.write(ctx, sessionID, action); err != nil {
		return nil, err
	}

	s.logger.Info("pending action updated", map[string]interface{}{
		"sessionId":     sessionID,
		"actionId":      action.ActionID,
		"missingFields": action.MissingFields,
		"ready":         action.ReadyToExecute,
	})
	return action, nil
}

// Delete drops the session's entry. Deleting a session without one is
// not an error. The active gauge only tracks explicit removals; entries
// that decay by TTL are not observed.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	removed, err := s.redis.Client.Del(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("delete pending action: %w", err)
	}
	if removed > 0 {
		metrics.PendingActive.Sub(float64(removed))
	}
	return nil
}

// MarkExecuted finalizes the entry and removes it, returning the final
// state for the caller's records.
func (s *Store) MarkExecuted(ctx context.Context, sessionID string) (*models.PendingAction, error) {
	action, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, ErrNoPending
	}

	action.Status = models.PendingExecuted
	if err := s.Delete(ctx, sessionID); err != nil {
		return nil, err
	}
	return action, nil
}

func (s *Store) write(ctx context.Context, sessionID string, action *models.PendingAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode pending action: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(sessionID), string(data), s.ttl); err != nil {
		return fmt.Errorf("store pending action: %w", err)
	}
	return nil
}

// syncStatus keeps the readiness flag and status consistent with the
// missing set. Executed and canceled entries are terminal and never
// flip back.
func syncStatus(action *models.PendingAction) {
	action.ReadyToExecute = len(action.MissingFields) == 0
	if action.Status == models.PendingExecuted || action.Status == models.PendingCanceled {
		return
	}
	if action.ReadyToExecute {
		action.Status = models.PendingReady
	} else {
		action.Status = models.PendingIncomplete
	}
}
