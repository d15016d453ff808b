// internal/conversation/service.go
package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"actionhub/internal/catalog"
	cerrors "actionhub/internal/common/errors"
	"actionhub/internal/common/genai"
	"actionhub/internal/common/logger"
	"actionhub/internal/common/metrics"
	"actionhub/internal/entity"
	"actionhub/internal/executor"
	"actionhub/internal/extraction"
	"actionhub/internal/federation"
	"actionhub/internal/intent"
	"actionhub/internal/models"
	"actionhub/internal/pending"
)

// Request is one conversational turn. RecentTurns is the caller-kept
// short transcript; only the pending action and the node pin persist
// between turns on this side.
type Request struct {
	Message     string        `json:"message"`
	SessionID   string        `json:"session_id"`
	UserID      string        `json:"user_id"`
	RecentTurns []models.Turn `json:"recent_turns,omitempty"`
	TargetNode  string        `json:"target_node,omitempty"`
}

// Metadata carries the structured byproducts of a turn alongside the
// chat answer.
type Metadata struct {
	IntentAnalysis       *models.IntentAnalysis  `json:"intent_analysis,omitempty"`
	ActiveWorkflow       *models.PendingAction   `json:"active_workflow,omitempty"`
	ExecutedActionResult *models.ExecutionResult `json:"executed_action_result,omitempty"`
	TokensUsed           int                     `json:"tokens_used,omitempty"`
}

// Response is the chat-style answer for one turn. Content is always set;
// Success reports whether the operation the user asked for went through.
type Response struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Success  bool     `json:"success"`
}

// Service drives the turn state machine: classify, then dispatch on the
// intent against the session's pending action. Every failure inside a
// turn degrades to a chat-style answer; the only error Process returns
// is the caller's own context ending.
type Service struct {
	catalog   *catalog.Catalog
	intents   *intent.Classifier
	extractor *extraction.Extractor
	resolver  *extraction.Resolver
	pendings  *pending.Store
	runner    *executor.Executor
	router    *federation.Router
	workflow  executor.WorkflowStarter
	entities  *entity.Registry
	ai        *genai.Client
	ledger    federation.UsageLedger
	localNode string
	processID string
	logger    logger.Logger
	boundary  *cerrors.Boundary
}

type Options struct {
	Catalog   *catalog.Catalog
	Intents   *intent.Classifier
	Extractor *extraction.Extractor
	Resolver  *extraction.Resolver
	Pendings  *pending.Store
	Executor  *executor.Executor
	Router    *federation.Router
	Workflow  executor.WorkflowStarter
	Entities  *entity.Registry
	AI        *genai.Client
	Ledger    federation.UsageLedger
	LocalNode string
	ProcessID string
	Logger    logger.Logger
}

func NewService(opts Options) *Service {
	return &Service{
		catalog:   opts.Catalog,
		intents:   opts.Intents,
		extractor: opts.Extractor,
		resolver:  opts.Resolver,
		pendings:  opts.Pendings,
		runner:    opts.Executor,
		router:    opts.Router,
		workflow:  opts.Workflow,
		entities:  opts.Entities,
		ai:        opts.AI,
		ledger:    opts.Ledger,
		localNode: opts.LocalNode,
		processID: opts.ProcessID,
		logger:    opts.Logger.WithFields(map[string]interface{}{"component": "conversation"}),
		boundary:  cerrors.NewBoundary(opts.Logger),
	}
}

// Process answers one turn. The pending action is loaded first because
// it dominates classification context; the intent then selects the
// handler.
func (s *Service) Process(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	active, err := s.pendings.Get(ctx, req.SessionID)
	if err != nil {
		s.logger.Warn("pending lookup failed, treating session as fresh", map[string]interface{}{
			"sessionId": req.SessionID,
			"error":     err.Error(),
		})
		active = nil
	}

	analysis, err := s.intents.Classify(ctx, &intent.Request{
		Message:     req.Message,
		Pending:     active,
		Candidates:  s.catalog.Discover(ctx),
		RecentTurns: req.RecentTurns,
	})
	if err != nil {
		return nil, err
	}

	metrics.TurnsProcessed.WithLabelValues(string(analysis.Intent)).Inc()
	defer func() {
		metrics.TurnDuration.WithLabelValues(string(analysis.Intent)).Observe(time.Since(start).Seconds())
	}()

	var resp *Response
	switch analysis.Intent {
	case models.IntentConfirm:
		resp = s.handleConfirm(ctx, req, active)
	case models.IntentReject:
		resp = s.handleReject(ctx, req, active)
	case models.IntentProvideData, models.IntentModify, models.IntentUseSuggestions:
		resp = s.handleProvideData(ctx, req, active, analysis)
	case models.IntentNewRequest, models.IntentNewWorkflow:
		resp = s.handleNewRequest(ctx, req, analysis)
	case models.IntentComplexTask:
		resp = s.handleComplexTask(ctx, req, analysis)
	case models.IntentGreeting:
		resp = s.handleGreeting(ctx, req)
	default:
		resp = s.handleChat(ctx, req, active, analysis)
	}

	resp.Metadata.IntentAnalysis = analysis
	s.reportUsage(ctx, req.UserID, resp)

	s.logger.Info("turn processed", map[string]interface{}{
		"sessionId": req.SessionID,
		"intent":    string(analysis.Intent),
		"success":   resp.Success,
	})
	return resp, nil
}

// handleConfirm executes a ready action. An incomplete one is never
// executed; the answer asks for the outstanding fields instead.
func (s *Service) handleConfirm(ctx context.Context, req *Request, active *models.PendingAction) *Response {
	if active == nil {
		return &Response{Content: msgNothingToConfirm, Success: true}
	}
	if !active.ReadyToExecute {
		return &Response{
			Content:  missingPrompt(active),
			Success:  true,
			Metadata: Metadata{ActiveWorkflow: active},
		}
	}

	def, _ := s.catalog.ByID(active.ActionID)
	result := s.runner.Execute(ctx, &executor.Request{
		Action:      active,
		Definition:  def,
		SessionID:   req.SessionID,
		TargetNode:  s.targetNode(ctx, req),
		RecentTurns: req.RecentTurns,
	})

	resp := &Response{
		Success:  result.Success,
		Metadata: Metadata{ExecutedActionResult: result},
	}
	if result.Node == "" || result.Node == s.localNode {
		resp.Metadata.TokensUsed += result.TokensUsed
	}

	if result.Success {
		if _, err := s.pendings.MarkExecuted(ctx, req.SessionID); err != nil {
			s.logger.Warn("failed to finalize executed action", map[string]interface{}{
				"sessionId": req.SessionID,
				"error":     err.Error(),
			})
		}
		resp.Content = result.Message
		return resp
	}

	resp.Content = result.Error
	resp.Metadata.ActiveWorkflow = active
	return resp
}

func (s *Service) handleReject(ctx context.Context, req *Request, active *models.PendingAction) *Response {
	if active == nil {
		return &Response{Content: msgNothingToCancel, Success: true}
	}

	if err := s.pendings.Delete(ctx, req.SessionID); err != nil {
		s.logger.Warn("failed to clear rejected action", map[string]interface{}{
			"sessionId": req.SessionID,
			"error":     err.Error(),
		})
	}
	if s.router != nil {
		s.router.Unpin(ctx, req.SessionID)
	}
	return &Response{Content: canceledMessage(active), Success: true}
}

// handleProvideData merges new field values into the pending action.
// When classification already extracted data it is used directly;
// otherwise the extractor takes a full pass over the message.
func (s *Service) handleProvideData(ctx context.Context, req *Request, active *models.PendingAction, analysis *models.IntentAnalysis) *Response {
	if active == nil {
		return s.handleChat(ctx, req, nil, analysis)
	}
	def, ok := s.catalog.ByID(active.ActionID)
	if !ok {
		s.logger.Warn("pending action references a vanished template", map[string]interface{}{
			"actionId": active.ActionID,
		})
		return s.handleChat(ctx, req, active, analysis)
	}

	tokens := 0
	partial := analysis.ExtractedData
	if len(partial) == 0 {
		result, err := s.extractor.Extract(ctx, req.Message, req.RecentTurns, def.Fields)
		if err != nil {
			return s.degraded("extraction", cerrors.NewAIServiceError(0, err), active)
		}
		partial = result.Params
		tokens += result.TokensUsed
	}
	partial = s.resolver.Resolve(ctx, req.UserID, def.Fields, partial)

	updated, err := s.pendings.UpdateParams(ctx, req.SessionID, partial, def.Fields)
	if err != nil {
		s.logger.Warn("merge into pending action failed", map[string]interface{}{
			"sessionId": req.SessionID,
			"error":     err.Error(),
		})
		return s.handleChat(ctx, req, active, analysis)
	}

	resp := &Response{
		Success:  true,
		Metadata: Metadata{ActiveWorkflow: updated, TokensUsed: tokens},
	}
	if updated.ReadyToExecute {
		resp.Content = readyPrompt(updated)
	} else {
		resp.Content = progressPrompt(updated)
	}
	return resp
}

// handleNewRequest matches the message against the catalog, extracts a
// first parameter fill, and installs the result as the session's single
// pending action, superseding whatever was there.
func (s *Service) handleNewRequest(ctx context.Context, req *Request, analysis *models.IntentAnalysis) *Response {
	ranked := s.catalog.Match(ctx, req.Message, analysis)
	if len(ranked) == 0 {
		return s.handleChat(ctx, req, nil, analysis)
	}
	def := ranked[0].Definition

	tokens := 0
	params := map[string]interface{}{}
	if result, err := s.extractor.Extract(ctx, req.Message, req.RecentTurns, def.Fields); err == nil {
		params = result.Params
		tokens += result.TokensUsed
	} else {
		s.logger.Warn("initial extraction failed, starting with an empty fill", map[string]interface{}{
			"actionId": def.ID,
			"error":    err.Error(),
		})
	}
	for key, value := range analysis.ExtractedData {
		if _, present := params[key]; !present {
			params[key] = value
		}
	}
	params = s.resolver.Resolve(ctx, req.UserID, def.Fields, params)

	missing := extraction.MissingFields(def.Fields, params)
	action := &models.PendingAction{
		ID:             uuid.New().String(),
		ActionID:       def.ID,
		Label:          def.Label,
		Description:    def.Description,
		Data:           models.ActionData{Params: params},
		MissingFields:  missing,
		ReadyToExecute: len(missing) == 0,
		Executor:       def.Executor,
		UserID:         req.UserID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.pendings.Store(ctx, req.SessionID, action, req.UserID); err != nil {
		return s.degraded("pending", cerrors.NewSessionStoreFailedError("store", err), nil)
	}

	resp := &Response{
		Success:  true,
		Metadata: Metadata{ActiveWorkflow: action, TokensUsed: tokens},
	}
	if action.ReadyToExecute {
		resp.Content = readyPrompt(action)
	} else {
		resp.Content = startPrompt(action)
	}
	return resp
}

// handleComplexTask hands the request to the BPMN engine. Without one
// the turn degrades to a plain chat answer.
func (s *Service) handleComplexTask(ctx context.Context, req *Request, analysis *models.IntentAnalysis) *Response {
	if s.workflow == nil {
		return s.handleChat(ctx, req, nil, analysis)
	}

	variables := map[string]interface{}{
		"message":    req.Message,
		"user_id":    req.UserID,
		"session_id": req.SessionID,
	}
	for key, value := range analysis.ExtractedData {
		variables[key] = value
	}

	key, err := s.workflow.StartProcess(ctx, s.processID, variables)
	if err != nil {
		return s.degraded("workflow", cerrors.NewWorkflowDispatchFailedError(s.processID, err), nil)
	}
	return &Response{Content: workflowStartedMessage(key), Success: true}
}

func (s *Service) handleGreeting(ctx context.Context, req *Request) *Response {
	if s.ai == nil {
		return &Response{Content: msgGreetingFallback, Success: true}
	}
	resp, err := s.ai.GenerateFast(ctx, &genai.Request{
		Prompt:       req.Message,
		SystemPrompt: greetingSystemPrompt,
	})
	if err != nil {
		return &Response{Content: msgGreetingFallback, Success: true}
	}
	return &Response{
		Content:  strings.TrimSpace(resp.Content),
		Success:  true,
		Metadata: Metadata{TokensUsed: resp.TokensUsed},
	}
}

// handleChat answers question and retrieval turns. A session pinned to a
// peer asks that node first, so answers mid-workflow come from the node
// that holds the workflow's records; its failure falls back to local
// generation.
func (s *Service) handleChat(ctx context.Context, req *Request, active *models.PendingAction, analysis *models.IntentAnalysis) *Response {
	if s.router != nil {
		if node, pinned := s.router.PinnedNode(ctx, req.SessionID); pinned {
			// The empty session id keeps the forward from touching the
			// pin: answering a question is not a terminal result.
			remote := federation.Result{Value: s.router.ExecuteOn(ctx, node, chatForward(req), nil, "")}
			result := remote.OrElse(func() *models.ExecutionResult {
				return s.localAnswer(ctx, req, active, analysis)
			})
			resp := &Response{Content: result.Message, Success: result.Success}
			if !result.Success {
				resp.Content = result.Error
			}
			if result.Node == "" || result.Node == s.localNode {
				resp.Metadata.TokensUsed = result.TokensUsed
			}
			if active != nil {
				resp.Metadata.ActiveWorkflow = active
			}
			return resp
		}
	}

	result := s.localAnswer(ctx, req, active, analysis)
	resp := &Response{Content: result.Message, Success: result.Success, Metadata: Metadata{TokensUsed: result.TokensUsed}}
	if !result.Success {
		resp.Content = result.Error
	}
	if active != nil {
		resp.Metadata.ActiveWorkflow = active
	}
	return resp
}

// localAnswer generates the chat answer here. Retrieval turns are
// enriched with matching local records before prompting.
func (s *Service) localAnswer(ctx context.Context, req *Request, active *models.PendingAction, analysis *models.IntentAnalysis) *models.ExecutionResult {
	if s.ai == nil {
		return &models.ExecutionResult{
			Success: false,
			Error:   cerrors.NewAIServiceError(0, errNoGenerator).Message,
			Node:    s.localNode,
		}
	}

	var records []string
	if analysis.Intent == models.IntentRetrieval {
		records = s.retrievalContext(ctx, req.UserID, analysis)
	}

	resp, err := s.ai.Generate(ctx, &genai.Request{
		Prompt:       chatPrompt(req, active, analysis, records),
		SystemPrompt: chatSystemPrompt,
	})
	if err != nil {
		stdErr := cerrors.NewAIServiceError(0, err)
		s.logger.Warn("chat generation failed", map[string]interface{}{
			"code":  string(stdErr.Code),
			"error": stdErr.Details,
		})
		return &models.ExecutionResult{Success: false, Error: stdErr.Message, Node: s.localNode}
	}
	return &models.ExecutionResult{
		Success:    true,
		Message:    strings.TrimSpace(resp.Content),
		Node:       s.localNode,
		TokensUsed: resp.TokensUsed,
	}
}

// retrievalContext looks classifier-extracted terms up across the local
// providers and renders the hits as context lines for the prompt.
func (s *Service) retrievalContext(ctx context.Context, userID string, analysis *models.IntentAnalysis) []string {
	if s.entities == nil || len(analysis.ExtractedData) == 0 {
		return nil
	}

	var lines []string
	for _, value := range analysis.ExtractedData {
		term, ok := value.(string)
		if !ok || strings.TrimSpace(term) == "" {
			continue
		}
		for _, provider := range s.entities.All() {
			records, err := provider.FindSubstring(ctx, userID, term)
			if err != nil {
				continue
			}
			for _, record := range records {
				lines = append(lines, recordLine(&record))
				if len(lines) >= maxRetrievalLines {
					return lines
				}
			}
		}
	}
	return lines
}

// targetNode resolves where execution should go before ownership is even
// consulted: an explicit designation from the caller, else the session's
// pin.
func (s *Service) targetNode(ctx context.Context, req *Request) string {
	if req.TargetNode != "" {
		return req.TargetNode
	}
	if s.router != nil {
		if node, pinned := s.router.PinnedNode(ctx, req.SessionID); pinned {
			return node
		}
	}
	return ""
}

func (s *Service) degraded(scope string, err error, active *models.PendingAction) *Response {
	resp := &Response{Content: s.boundary.Resolve(scope, err), Success: false}
	if active != nil {
		resp.Metadata.ActiveWorkflow = active
	}
	return resp
}

func (s *Service) reportUsage(ctx context.Context, userID string, resp *Response) {
	if s.ledger == nil || resp.Metadata.TokensUsed <= 0 {
		return
	}
	if err := s.ledger.AddUsage(ctx, userID, resp.Metadata.TokensUsed); err != nil {
		s.logger.Warn("usage ledger write failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}
