package federation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"actionhub/internal/common/auth"
	"actionhub/internal/common/config"
	commonhttp "actionhub/internal/common/http"
	"actionhub/internal/common/logger"
	"actionhub/internal/models"
)

// DefaultRequestTimeout bounds one peer call. Peer calls are synchronous
// and never retried; a timeout is terminal for the turn.
const DefaultRequestTimeout = 30 * time.Second

// ErrUnknownNode marks a route to a slug no peer is configured for.
var ErrUnknownNode = errors.New("unknown federation node")

// executeRequest is the wire form of a forwarded action. EntityClass is
// already stripped of any node prefix; the receiving node resolves its own
// definition from it (or from ActionID for built-ins, whose ids are shared
// across nodes).
type executeRequest struct {
	ActionID    string                 `json:"action_id"`
	Executor    string                 `json:"executor,omitempty"`
	EntityClass string                 `json:"entity_class,omitempty"`
	Params      map[string]interface{} `json:"params"`
	UserID      string                 `json:"user_id,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	Origin      string                 `json:"origin,omitempty"`
}

// envelope is the peer API response frame, shared by both endpoints.
type envelope struct {
	Node       string       `json:"node"`
	StatusCode int          `json:"status_code"`
	Data       envelopeData `json:"data"`
}

type envelopeData struct {
	Result      *models.ExecutionResult       `json:"result,omitempty"`
	Collections []models.CollectionDescriptor `json:"collections,omitempty"`
	Error       string                        `json:"error,omitempty"`
}

type peer struct {
	slug    string
	baseURL string
	tokens  auth.TokenSource
}

// Client talks to the configured peer nodes. Each peer carries either its
// own pre-shared token or the shared token source (Keycloak
// client-credentials); a nil source sends no Authorization header.
type Client struct {
	localNode string
	peers     []peer
	index     map[string]int
	http      *commonhttp.Client
	logger    logger.Logger
}

type ClientOptions struct {
	LocalNode string
	Peers     []config.PeerConfig
	Timeout   time.Duration
	Tokens    auth.TokenSource
	Logger    logger.Logger
}

func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	c := &Client{
		localNode: opts.LocalNode,
		index:     make(map[string]int, len(opts.Peers)),
		http:      commonhttp.NewClient(timeout),
		logger:    opts.Logger.WithFields(map[string]interface{}{"component": "federation"}),
	}
	for _, p := range opts.Peers {
		if p.Slug == "" || p.Slug == opts.LocalNode {
			continue
		}
		tokens := opts.Tokens
		if p.AuthToken != "" {
			tokens = auth.NewStaticTokenSource(p.AuthToken)
		}
		c.index[p.Slug] = len(c.peers)
		c.peers = append(c.peers, peer{
			slug:    p.Slug,
			baseURL: strings.TrimSuffix(p.BaseURL, "/"),
			tokens:  tokens,
		})
	}
	return c
}

// Nodes returns the peer slugs in configuration order.
func (c *Client) Nodes() []string {
	out := make([]string, len(c.peers))
	for i, p := range c.peers {
		out[i] = p.slug
	}
	return out
}

// Has reports whether a peer is configured for the slug.
func (c *Client) Has(node string) bool {
	_, ok := c.index[node]
	return ok
}

// Execute POSTs the forwarded action to the peer's execution endpoint and
// unwraps the result from the response envelope.
func (c *Client) Execute(ctx context.Context, node string, req *executeRequest) (*models.ExecutionResult, error) {
	i, ok := c.index[node]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	p := c.peers[i]

	headers, err := c.authHeaders(ctx, p)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := c.http.PostJSON(ctx, p.baseURL+"/execute", headers, req, &env); err != nil {
		return nil, err
	}
	if env.Data.Result == nil {
		return nil, fmt.Errorf("peer %s returned an empty execution envelope", node)
	}
	return env.Data.Result, nil
}

// PeerCollections polls every peer's schema-discovery endpoint concurrently
// and returns the descriptors keyed by slug. Unreachable peers are skipped;
// their entity classes simply stay undiscovered until the next refresh.
func (c *Client) PeerCollections(ctx context.Context) map[string][]models.CollectionDescriptor {
	out := make(map[string][]models.CollectionDescriptor, len(c.peers))
	if len(c.peers) == 0 {
		return out
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, p := range c.peers {
		wg.Add(1)
		go func(p peer) {
			defer wg.Done()
			descs, err := c.collections(ctx, p)
			if err != nil {
				c.logger.Warn("peer discovery failed", map[string]interface{}{
					"node":  p.slug,
					"error": err.Error(),
				})
				return
			}
			mu.Lock()
			out[p.slug] = descs
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return out
}

func (c *Client) collections(ctx context.Context, p peer) ([]models.CollectionDescriptor, error) {
	headers, err := c.authHeaders(ctx, p)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := c.http.GetJSON(ctx, p.baseURL+"/collections", headers, &env); err != nil {
		return nil, err
	}
	return env.Data.Collections, nil
}

func (c *Client) authHeaders(ctx context.Context, p peer) (map[string]string, error) {
	if p.tokens == nil {
		return nil, nil
	}
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtain token for peer %s: %w", p.slug, err)
	}
	return commonhttp.BearerHeaders(token), nil
}
