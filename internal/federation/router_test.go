package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"actionhub/internal/common/config"
	"actionhub/internal/common/database"
	"actionhub/internal/common/logger"
	"actionhub/internal/models"
)

// ==========================
// Test fixtures
// ==========================

type ledgerMock struct {
	userID string
	tokens int
	err    error
}

func (l *ledgerMock) AddUsage(_ context.Context, userID string, tokens int) error {
	l.userID = userID
	l.tokens = tokens
	return l.err
}

func setupRedis(t *testing.T) (*database.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return database.NewRedisFromClient(client), mr
}

func peerServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func testClient(t *testing.T, peers ...config.PeerConfig) *Client {
	t.Helper()
	return NewClient(ClientOptions{
		LocalNode: "hub-vienna",
		Peers:     peers,
		Timeout:   2 * time.Second,
		Logger:    logger.NewZapAdapter(zaptest.NewLogger(t)),
	})
}

func testRouter(t *testing.T, opts RouterOptions) *Router {
	t.Helper()
	if opts.LocalNode == "" {
		opts.LocalNode = "hub-vienna"
	}
	if opts.Client == nil {
		opts.Client = testClient(t)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewZapAdapter(zaptest.NewLogger(t))
	}
	return NewRouter(opts)
}

func invoiceAction() *models.PendingAction {
	return &models.PendingAction{
		ID:       "pa-1",
		ActionID: "create_berlin_invoice",
		Data: models.ActionData{Params: map[string]interface{}{
			"customer": "Acme GmbH",
			"amount":   1200,
		}},
		ReadyToExecute: true,
		Executor:       models.ExecutorEntityCreate,
		UserID:         "user-1",
		Status:         models.PendingReady,
	}
}

func remoteInvoiceDefinition() *models.ActionDefinition {
	return &models.ActionDefinition{
		ID:          "create_berlin_invoice",
		Label:       "Create Invoice on berlin",
		Executor:    models.ExecutorEntityCreate,
		EntityClass: "berlin:Invoice",
		SourceNode:  "berlin",
		Remote:      true,
	}
}

func resultEnvelope(t *testing.T, w http.ResponseWriter, node string, result *models.ExecutionResult) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(envelope{
		Node:       node,
		StatusCode: http.StatusOK,
		Data:       envelopeData{Result: result},
	}))
}

// ==========================
// Routing decision
// ==========================

func TestRouteFor_PriorityOrder(t *testing.T) {
	router := testRouter(t, RouterOptions{
		Ownership: map[string]string{"invoices": "berlin"},
	})

	tests := []struct {
		name     string
		def      *models.ActionDefinition
		explicit string
		wantNode string
		wantOK   bool
	}{
		{
			name:     "explicit target wins over every other signal",
			def:      &models.ActionDefinition{SourceNode: "berlin", EntityClass: "berlin:Invoice"},
			explicit: "oslo",
			wantNode: "oslo",
			wantOK:   true,
		},
		{
			name:     "explicit local target stays local",
			def:      &models.ActionDefinition{SourceNode: "berlin"},
			explicit: "hub-vienna",
			wantNode: "hub-vienna",
			wantOK:   false,
		},
		{
			name:     "source node annotation",
			def:      &models.ActionDefinition{SourceNode: "berlin"},
			wantNode: "berlin",
			wantOK:   true,
		},
		{
			name:     "composite entity class",
			def:      &models.ActionDefinition{EntityClass: "berlin:Invoice"},
			wantNode: "berlin",
			wantOK:   true,
		},
		{
			name:     "ownership lookup by collection",
			def:      &models.ActionDefinition{EntityClass: "Invoice"},
			wantNode: "berlin",
			wantOK:   true,
		},
		{
			name: "no signal stays local",
			def:  &models.ActionDefinition{EntityClass: "Contact"},
		},
		{
			name: "nil definition stays local",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, ok := router.RouteFor(tt.def, tt.explicit)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantNode, node)
			}
		})
	}
}

func TestRouteFor_LocallyOwnedCollectionStaysLocal(t *testing.T) {
	router := testRouter(t, RouterOptions{
		Ownership: map[string]string{"contacts": "hub-vienna"},
	})

	_, ok := router.RouteFor(&models.ActionDefinition{EntityClass: "Contact"}, "")
	assert.False(t, ok)
}

// ==========================
// Remote execution
// ==========================

func TestExecuteOn_RoundTrip(t *testing.T) {
	var got executeRequest
	var gotAuth string
	srv := peerServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		resultEnvelope(t, w, "berlin", &models.ExecutionResult{
			Success:    true,
			Message:    `Created Invoice "Acme GmbH"`,
			Node:       "berlin",
			TokensUsed: 3,
		})
	})

	ledger := &ledgerMock{}
	redisClient, mr := setupRedis(t)
	router := testRouter(t, RouterOptions{
		Client: testClient(t, config.PeerConfig{Slug: "berlin", BaseURL: srv.URL, AuthToken: "peer-token"}),
		Redis:  redisClient,
		Ledger: ledger,
	})

	result := router.ExecuteOn(context.Background(), "berlin", invoiceAction(), remoteInvoiceDefinition(), "sess-1")

	require.True(t, result.Success)
	assert.Equal(t, "berlin", result.Node)

	assert.Equal(t, "Bearer peer-token", gotAuth)
	assert.Equal(t, "create_berlin_invoice", got.ActionID)
	assert.Equal(t, "Invoice", got.EntityClass, "the node prefix never crosses the wire")
	assert.Equal(t, "hub-vienna", got.Origin)
	assert.Equal(t, "Acme GmbH", got.Params["customer"])

	assert.Equal(t, "user-1", ledger.userID)
	assert.Equal(t, 3, ledger.tokens)

	assert.False(t, mr.Exists("actionhub:nodepin:sess-1"), "a completed workflow leaves no pin behind")
}

func TestExecuteOn_IncompleteResultPinsSession(t *testing.T) {
	srv := peerServer(t, func(w http.ResponseWriter, r *http.Request) {
		resultEnvelope(t, w, "berlin", &models.ExecutionResult{
			Success: false,
			Error:   "I still need: due_date",
			Node:    "berlin",
		})
	})

	redisClient, mr := setupRedis(t)
	router := testRouter(t, RouterOptions{
		Client: testClient(t, config.PeerConfig{Slug: "berlin", BaseURL: srv.URL}),
		Redis:  redisClient,
	})

	router.ExecuteOn(context.Background(), "berlin", invoiceAction(), remoteInvoiceDefinition(), "sess-1")

	require.True(t, mr.Exists("actionhub:nodepin:sess-1"))
	assert.Equal(t, time.Hour, mr.TTL("actionhub:nodepin:sess-1"))

	node, ok := router.PinnedNode(context.Background(), "sess-1")
	require.True(t, ok)
	assert.Equal(t, "berlin", node)

	mr.FastForward(2 * time.Hour)
	_, ok = router.PinnedNode(context.Background(), "sess-1")
	assert.False(t, ok, "an expired pin releases the session")
}

func TestExecuteOn_TransportFailureSurfacesNode(t *testing.T) {
	srv := peerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	redisClient, mr := setupRedis(t)
	router := testRouter(t, RouterOptions{
		Client: testClient(t, config.PeerConfig{Slug: "berlin", BaseURL: srv.URL}),
		Redis:  redisClient,
	})

	result := router.ExecuteOn(context.Background(), "berlin", invoiceAction(), remoteInvoiceDefinition(), "sess-1")

	assert.False(t, result.Success)
	assert.Equal(t, "berlin", result.Node)
	assert.Equal(t, "REMOTE_EXECUTION_FAILED", result.Data["error_code"])
	assert.False(t, mr.Exists("actionhub:nodepin:sess-1"), "an unreachable node never captures the session")
}

func TestExecuteOn_UnknownNode(t *testing.T) {
	router := testRouter(t, RouterOptions{})

	result := router.ExecuteOn(context.Background(), "oslo", invoiceAction(), remoteInvoiceDefinition(), "")

	assert.False(t, result.Success)
	assert.Equal(t, "REMOTE_NODE_UNKNOWN", result.Data["error_code"])
}

// ==========================
// Fan-out
// ==========================

func TestExecuteOnAll_PartialFailureNeverBlocksTheJoin(t *testing.T) {
	healthy := peerServer(t, func(w http.ResponseWriter, r *http.Request) {
		resultEnvelope(t, w, "berlin", &models.ExecutionResult{Success: true, Message: "ok", Node: "berlin"})
	})
	broken := peerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	router := testRouter(t, RouterOptions{
		Client: testClient(t,
			config.PeerConfig{Slug: "berlin", BaseURL: healthy.URL},
			config.PeerConfig{Slug: "oslo", BaseURL: broken.URL},
		),
	})

	results := router.ExecuteOnAll(context.Background(), "summarize", map[string]interface{}{"text": "hello"}, true)

	require.Len(t, results, 2)
	assert.True(t, results["berlin"].Success)
	assert.False(t, results["oslo"].Success)
	assert.Equal(t, "oslo", results["oslo"].Node)
}

func TestExecuteOnAll_SubsetTargetsOnlyNamedNodes(t *testing.T) {
	var calls int
	srv := peerServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		resultEnvelope(t, w, "berlin", &models.ExecutionResult{Success: true, Node: "berlin"})
	})

	router := testRouter(t, RouterOptions{
		Client: testClient(t,
			config.PeerConfig{Slug: "berlin", BaseURL: srv.URL},
			config.PeerConfig{Slug: "oslo", BaseURL: srv.URL},
		),
	})

	results := router.ExecuteOnAll(context.Background(), "summarize", nil, false, "berlin")

	require.Len(t, results, 1)
	assert.Contains(t, results, "berlin")
	assert.Equal(t, 1, calls)
}

// ==========================
// Peer discovery
// ==========================

func TestPeerCollections_SkipsUnreachablePeers(t *testing.T) {
	healthy := peerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(envelope{
			Node:       "berlin",
			StatusCode: http.StatusOK,
			Data: envelopeData{Collections: []models.CollectionDescriptor{
				{Class: "Invoice", Collection: "invoices", Node: "berlin"},
			}},
		}))
	})
	broken := peerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	client := testClient(t,
		config.PeerConfig{Slug: "berlin", BaseURL: healthy.URL},
		config.PeerConfig{Slug: "oslo", BaseURL: broken.URL},
	)

	collections := client.PeerCollections(context.Background())

	require.Len(t, collections, 1)
	require.Len(t, collections["berlin"], 1)
	assert.Equal(t, "Invoice", collections["berlin"][0].Class)
}

func TestClient_SkipsSelfAndBlankPeers(t *testing.T) {
	client := testClient(t,
		config.PeerConfig{Slug: "hub-vienna", BaseURL: "http://localhost:0"},
		config.PeerConfig{Slug: "", BaseURL: "http://localhost:0"},
		config.PeerConfig{Slug: "berlin", BaseURL: "http://localhost:0"},
	)

	assert.Equal(t, []string{"berlin"}, client.Nodes())
}
