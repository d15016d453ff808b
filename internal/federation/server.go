package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"actionhub/internal/common/auth"
	"actionhub/internal/common/logger"
	"actionhub/internal/entity"
	"actionhub/internal/executor"
	"actionhub/internal/extraction"
	"actionhub/internal/models"
)

// Runner executes an inbound action locally. *executor.Executor satisfies
// it; the server always sets the forwarded marker, so an inbound request
// can never leave this node again.
type Runner interface {
	Execute(ctx context.Context, req *executor.Request) *models.ExecutionResult
}

// CatalogSource resolves the local definition an inbound request refers to.
type CatalogSource interface {
	Discover(ctx context.Context) []models.ActionDefinition
	ByID(id string) (*models.ActionDefinition, bool)
}

// TokenValidator checks inbound bearer tokens against an identity
// provider. auth.KeycloakClient satisfies it.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.TokenInfo, error)
}

// Server is the peer-facing API of this node: schema discovery on
// GET /collections and forwarded execution on POST /execute. Requests are
// authenticated with either the pre-shared federation token or, when a
// validator is configured, token introspection. With neither set the
// endpoints are open, which is only sensible for local development.
type Server struct {
	localNode string
	authToken string
	validator TokenValidator
	entities  *entity.Registry
	catalog   CatalogSource
	runner    Runner
	logger    logger.Logger
}

type ServerOptions struct {
	LocalNode string
	AuthToken string
	Validator TokenValidator
	Entities  *entity.Registry
	Catalog   CatalogSource
	Runner    Runner
	Logger    logger.Logger
}

func NewServer(opts ServerOptions) *Server {
	return &Server{
		localNode: opts.LocalNode,
		authToken: opts.AuthToken,
		validator: opts.Validator,
		entities:  opts.Entities,
		catalog:   opts.Catalog,
		runner:    opts.Runner,
		logger:    opts.Logger.WithFields(map[string]interface{}{"component": "federation-server"}),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.authenticate)
	r.Get("/collections", s.handleCollections)
	r.Post("/execute", s.handleExecute)
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		switch {
		case s.authToken != "":
			if token != s.authToken {
				s.writeError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
		case s.validator != nil:
			if _, err := s.validator.ValidateToken(r.Context(), token); err != nil {
				s.logger.Warn("inbound token rejected", map[string]interface{}{"error": err.Error()})
				s.writeError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	s.writeEnvelope(w, http.StatusOK, envelopeData{
		Collections: s.entities.Descriptors(s.localNode),
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed execution request")
		return
	}

	def := s.resolveDefinition(r.Context(), &req)
	action := s.buildAction(&req, def)

	s.logger.Info("inbound remote execution", map[string]interface{}{
		"origin":   req.Origin,
		"actionId": action.ActionID,
		"executor": action.Executor,
	})

	result := s.runner.Execute(r.Context(), &executor.Request{
		Action:     action,
		Definition: def,
		SessionID:  req.SessionID,
		Forwarded:  true,
	})
	s.writeEnvelope(w, http.StatusOK, envelopeData{Result: result})
}

// resolveDefinition finds this node's own definition for the request: by
// entity class for forwarded create templates (the sender's ids carry its
// node prefix and never match ours), by id for everything else. A nil
// return lets the runner answer with its unknown-action result.
func (s *Server) resolveDefinition(ctx context.Context, req *executeRequest) *models.ActionDefinition {
	if req.EntityClass != "" {
		for _, def := range s.catalog.Discover(ctx) {
			if def.Remote || def.Executor != models.ExecutorEntityCreate {
				continue
			}
			if strings.EqualFold(def.EntityClass, req.EntityClass) {
				d := def
				return &d
			}
		}
		return nil
	}
	if def, ok := s.catalog.ByID(req.ActionID); ok {
		return def
	}
	return nil
}

// buildAction reconstructs a pending action from the wire form. Readiness
// is recomputed against this node's schema, not trusted from the sender.
func (s *Server) buildAction(req *executeRequest, def *models.ActionDefinition) *models.PendingAction {
	params := req.Params
	if params == nil {
		params = make(map[string]interface{})
	}

	action := &models.PendingAction{
		ID:        uuid.New().String(),
		ActionID:  req.ActionID,
		Executor:  req.Executor,
		Data:      models.ActionData{Params: params},
		UserID:    req.UserID,
		CreatedAt: time.Now().UTC(),
		Status:    models.PendingIncomplete,
	}
	if def != nil {
		action.ActionID = def.ID
		action.Label = def.Label
		action.Description = def.Description
		action.Executor = def.Executor
		action.MissingFields = extraction.MissingFields(def.Fields, params)
		action.ReadyToExecute = len(action.MissingFields) == 0
		if action.ReadyToExecute {
			action.Status = models.PendingReady
		}
	}
	return action
}

func (s *Server) writeEnvelope(w http.ResponseWriter, status int, data envelopeData) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{
		Node:       s.localNode,
		StatusCode: status,
		Data:       data,
	}); err != nil {
		s.logger.Error("failed to encode response envelope", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeEnvelope(w, status, envelopeData{Error: msg})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}
