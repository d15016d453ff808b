package federation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"actionhub/internal/common/database"
	cerrors "actionhub/internal/common/errors"
	commonhttp "actionhub/internal/common/http"
	"actionhub/internal/common/logger"
	"actionhub/internal/common/metrics"
	"actionhub/internal/models"
)

// DefaultPinTTL bounds how long a session stays pinned to a peer node.
const DefaultPinTTL = time.Hour

// UsageLedger receives the token spend a peer reports back for the
// initiating user.
type UsageLedger interface {
	AddUsage(ctx context.Context, userID string, tokens int) error
}

// Router decides which node owns an action and carries remote execution
// out through the peer client. It implements the executor's Remote
// contract; forwarding depth is capped at one hop by the dispatcher,
// which never consults the Router for an already-forwarded request.
type Router struct {
	localNode string
	ownership map[string]string
	pinTTL    time.Duration
	client    *Client
	redis     *database.RedisClient
	ledger    UsageLedger
	logger    logger.Logger
}

type RouterOptions struct {
	LocalNode string
	Ownership map[string]string
	PinTTL    time.Duration
	Client    *Client
	Redis     *database.RedisClient
	Ledger    UsageLedger
	Logger    logger.Logger
}

func NewRouter(opts RouterOptions) *Router {
	pinTTL := opts.PinTTL
	if pinTTL <= 0 {
		pinTTL = DefaultPinTTL
	}

	ownership := make(map[string]string, len(opts.Ownership))
	for collection, node := range opts.Ownership {
		ownership[strings.ToLower(collection)] = node
	}

	return &Router{
		localNode: opts.LocalNode,
		ownership: ownership,
		pinTTL:    pinTTL,
		client:    opts.Client,
		redis:     opts.Redis,
		ledger:    opts.Ledger,
		logger:    opts.Logger.WithFields(map[string]interface{}{"component": "router"}),
	}
}

// RouteFor resolves the owning node for a definition. Signals are checked
// in priority order: an explicit target, the definition's source node, a
// composite node:Class entity reference, and finally the collection
// ownership table. The second return is false when execution stays local.
func (r *Router) RouteFor(def *models.ActionDefinition, explicitNode string) (string, bool) {
	if explicitNode != "" {
		return explicitNode, explicitNode != r.localNode
	}
	if def == nil {
		return "", false
	}
	if def.SourceNode != "" && def.SourceNode != r.localNode {
		return def.SourceNode, true
	}
	if node, _, ok := splitEntityClass(def.EntityClass); ok && node != r.localNode {
		return node, true
	}
	if node := r.ownerOf(def.EntityClass); node != "" && node != r.localNode {
		return node, true
	}
	return "", false
}

// ExecuteOn forwards the action to the named peer and reconciles the
// outcome: reported token spend lands on the user's local ledger, and the
// session pin follows the workflow (kept while the remote side still
// wants input, cleared once the action completes).
func (r *Router) ExecuteOn(ctx context.Context, node string, action *models.PendingAction, def *models.ActionDefinition, sessionID string) *models.ExecutionResult {
	req := &executeRequest{
		ActionID:  action.ActionID,
		Executor:  action.Executor,
		Params:    action.Data.Params,
		UserID:    action.UserID,
		SessionID: sessionID,
		Origin:    r.localNode,
	}
	if def != nil {
		req.Executor = def.Executor
		req.EntityClass = strippedClass(def.EntityClass)
	}

	result, err := r.client.Execute(ctx, node, req)
	if err != nil {
		metrics.RemoteForwards.WithLabelValues(node, "error").Inc()
		return r.failRemote(node, err)
	}
	metrics.RemoteForwards.WithLabelValues(node, "success").Inc()

	if result.Node == "" {
		result.Node = node
	}
	if sessionID != "" {
		if result.Success {
			r.Unpin(ctx, sessionID)
		} else {
			r.Pin(ctx, sessionID, node)
		}
	}
	if r.ledger != nil && result.TokensUsed > 0 {
		if err := r.ledger.AddUsage(ctx, action.UserID, result.TokensUsed); err != nil {
			r.logger.Warn("usage reconciliation failed", map[string]interface{}{
				"node":   node,
				"userId": action.UserID,
				"error":  err.Error(),
			})
		}
	}
	return result
}

// ExecuteOnAll runs one executor against every known peer (or the given
// subset) and collects per-node results. A failing node contributes a
// failed result; it never blocks the join.
func (r *Router) ExecuteOnAll(ctx context.Context, executorID string, params map[string]interface{}, parallel bool, nodes ...string) map[string]*models.ExecutionResult {
	targets := nodes
	if len(targets) == 0 {
		targets = r.client.Nodes()
	}
	results := make(map[string]*models.ExecutionResult, len(targets))

	if !parallel {
		for _, node := range targets {
			results[node] = r.executeOne(ctx, node, executorID, params)
		}
		return results
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, node := range targets {
		wg.Add(1)
		go func(node string) {
			defer wg.Done()
			res := r.executeOne(ctx, node, executorID, params)
			mu.Lock()
			results[node] = res
			mu.Unlock()
		}(node)
	}
	wg.Wait()
	return results
}

func (r *Router) executeOne(ctx context.Context, node, executorID string, params map[string]interface{}) *models.ExecutionResult {
	result, err := r.client.Execute(ctx, node, &executeRequest{
		ActionID: executorID,
		Params:   params,
		Origin:   r.localNode,
	})
	if err != nil {
		metrics.RemoteForwards.WithLabelValues(node, "error").Inc()
		return r.failRemote(node, err)
	}
	metrics.RemoteForwards.WithLabelValues(node, "success").Inc()
	if result.Node == "" {
		result.Node = node
	}
	return result
}

func (r *Router) failRemote(node string, err error) *models.ExecutionResult {
	var stdErr *cerrors.StandardError
	if errors.Is(err, ErrUnknownNode) {
		stdErr = cerrors.NewRemoteNodeUnknownError(node)
	} else {
		var statusErr *commonhttp.StatusError
		statusCode := 0
		if errors.As(err, &statusErr) {
			statusCode = statusErr.StatusCode
		}
		stdErr = cerrors.NewRemoteExecutionError(node, statusCode, err)
	}
	r.logger.Warn("remote execution failed", map[string]interface{}{
		"node":  node,
		"code":  string(stdErr.Code),
		"error": stdErr.Details,
	})
	return &models.ExecutionResult{
		Success: false,
		Error:   stdErr.Message,
		Data:    map[string]interface{}{"error_code": string(stdErr.Code)},
		Node:    node,
	}
}

// Pin binds the session to a node for the pin TTL so follow-up turns of
// the same workflow keep landing there.
func (r *Router) Pin(ctx context.Context, sessionID, node string) {
	if r.redis == nil {
		return
	}
	if err := r.redis.Set(ctx, pinKey(sessionID), node, r.pinTTL); err != nil {
		r.logger.Warn("failed to pin session", map[string]interface{}{
			"sessionId": sessionID,
			"node":      node,
			"error":     err.Error(),
		})
	}
}

// PinnedNode returns the node a session is currently pinned to, if any.
func (r *Router) PinnedNode(ctx context.Context, sessionID string) (string, bool) {
	if r.redis == nil {
		return "", false
	}
	node, err := r.redis.Get(ctx, pinKey(sessionID))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("failed to read session pin", map[string]interface{}{
				"sessionId": sessionID,
				"error":     err.Error(),
			})
		}
		return "", false
	}
	return node, node != ""
}

// Unpin releases the session's node binding.
func (r *Router) Unpin(ctx context.Context, sessionID string) {
	if r.redis == nil {
		return
	}
	if err := r.redis.Del(ctx, pinKey(sessionID)); err != nil {
		r.logger.Warn("failed to unpin session", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
	}
}

func (r *Router) ownerOf(class string) string {
	if class == "" || len(r.ownership) == 0 {
		return ""
	}
	if _, bare, ok := splitEntityClass(class); ok {
		class = bare
	}
	key := strings.ToLower(class)
	if node, ok := r.ownership[key]; ok {
		return node
	}
	// Ownership is keyed by collection name; a bare class matches its
	// naive plural.
	return r.ownership[key+"s"]
}

func pinKey(sessionID string) string {
	return fmt.Sprintf("actionhub:nodepin:%s", sessionID)
}

// splitEntityClass splits a composite node:Class reference. The bare form
// returns ok=false.
func splitEntityClass(class string) (node, bare string, ok bool) {
	i := strings.IndexByte(class, ':')
	if i <= 0 || i == len(class)-1 {
		return "", class, false
	}
	return class[:i], class[i+1:], true
}

func strippedClass(class string) string {
	_, bare, _ := splitEntityClass(class)
	return bare
}
