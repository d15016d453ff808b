package executor

import (
	"context"
	"time"

	"actionhub/internal/common/config"
	"actionhub/internal/common/errors"
	"actionhub/internal/common/genai"
	"actionhub/internal/common/logger"
	"actionhub/internal/common/metrics"
	"actionhub/internal/common/validation"
	"actionhub/internal/entity"
	"actionhub/internal/models"
)

// Interfaces for the outbound collaborators, kept small so tests can
// substitute mocks.

type EmailSender interface {
	SendEmailMessage(ctx context.Context, msg *models.EmailMessage) (string, error)
}

type SMSSender interface {
	PublishSMS(ctx context.Context, phoneNumber, message, senderID string) (string, error)
}

type CRMMirror interface {
	UpsertFromFields(ctx context.Context, fields map[string]interface{}) (string, error)
}

// Remote decides whether a definition belongs to a peer node and carries
// the execution out there. A nil Remote keeps everything local.
type Remote interface {
	RouteFor(def *models.ActionDefinition, explicitNode string) (string, bool)
	ExecuteOn(ctx context.Context, node string, action *models.PendingAction, def *models.ActionDefinition, sessionID string) *models.ExecutionResult
}

// WorkflowStarter launches a long-running process for complex tasks.
type WorkflowStarter interface {
	StartProcess(ctx context.Context, processID string, variables map[string]interface{}) (int64, error)
}

type Config struct {
	LocalNode     string
	FromEmail     string
	SMSSenderID   string
	MirrorClasses []string
	ProcessID     string
	Executors     map[string]config.ExecutorConfig
}

// Executor runs ready actions. Every failure is carried inside the
// returned ExecutionResult; Execute never returns a Go error, a turn is
// answered either way.
type Executor struct {
	cfg      Config
	entities *entity.Registry
	email    EmailSender
	sms      SMSSender
	crm      CRMMirror
	ai       *genai.Client
	remote   Remote
	workflow WorkflowStarter
	logger   logger.Logger
}

type Options struct {
	Config   Config
	Entities *entity.Registry
	Email    EmailSender
	SMS      SMSSender
	CRM      CRMMirror
	AI       *genai.Client
	Remote   Remote
	Workflow WorkflowStarter
	Logger   logger.Logger
}

func New(opts Options) *Executor {
	return &Executor{
		cfg:      opts.Config,
		entities: opts.Entities,
		email:    opts.Email,
		sms:      opts.SMS,
		crm:      opts.CRM,
		ai:       opts.AI,
		remote:   opts.Remote,
		workflow: opts.Workflow,
		logger:   opts.Logger.WithFields(map[string]interface{}{"component": "executor"}),
	}
}

// Request carries one execution attempt. Forwarded marks a request that
// already crossed a node boundary; it is never forwarded again.
type Request struct {
	Action      *models.PendingAction
	Definition  *models.ActionDefinition
	SessionID   string
	TargetNode  string
	Forwarded   bool
	RecentTurns []models.Turn
}

// statelessExecutors operate on conversation context rather than a
// captured parameter set and skip the readiness gate.
var statelessExecutors = map[string]bool{
	models.ExecutorSummarize: true,
}

func (e *Executor) Execute(ctx context.Context, req *Request) *models.ExecutionResult {
	result := e.dispatch(ctx, req)

	status := "success"
	if !result.Success {
		status = "failure"
	}
	metrics.ActionsExecuted.WithLabelValues(req.Action.Executor, status).Inc()

	if result.Success {
		e.logger.Info("action executed", map[string]interface{}{
			"actionId": req.Action.ActionID,
			"executor": req.Action.Executor,
			"node":     result.Node,
		})
	}
	return result
}

func (e *Executor) dispatch(ctx context.Context, req *Request) *models.ExecutionResult {
	action := req.Action
	def := req.Definition
	if def == nil {
		return e.fail(action, errors.NewActionNotFoundError(action.ActionID))
	}

	if !action.ReadyToExecute && !statelessExecutors[action.Executor] {
		return e.fail(action, errors.NewMissingRequiredFieldsError(action.ActionID, action.MissingFields))
	}

	// Remote routing comes before local validation: the owning node
	// validates against its own schema.
	if !req.Forwarded && e.remote != nil {
		if node, remote := e.remote.RouteFor(def, req.TargetNode); remote {
			return e.remote.ExecuteOn(ctx, node, action, def, req.SessionID)
		}
	}

	if ec, ok := e.cfg.Executors[action.Executor]; ok {
		if !ec.Enabled {
			return e.fail(action, errors.NewExecutorDisabledError(action.Executor))
		}
		if ec.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(ec.Timeout)*time.Millisecond)
			defer cancel()
		}
	}

	vr, err := validation.ValidateParams(action.EnsureParams(), def.Fields)
	if err != nil {
		return e.fail(action, errors.NewLocalExecutionError(action.Executor, err))
	}
	if !vr.Valid {
		details := "schema violations: " + joinMessages(vr.GetErrorMessages())
		return e.fail(action, errors.NewParamValidationFailedError(action.ActionID, details))
	}

	switch action.Executor {
	case models.ExecutorEntityCreate:
		return e.entityCreate(ctx, action, def)
	case models.ExecutorEmailSend:
		return e.emailSend(ctx, action)
	case models.ExecutorEventSchedule:
		return e.storeRecord(ctx, action, "Event", "Scheduled")
	case models.ExecutorTaskCreate:
		return e.storeRecord(ctx, action, "Task", "Created task")
	case models.ExecutorNotify:
		return e.sendSMS(ctx, action)
	case models.ExecutorSummarize:
		return e.summarize(ctx, action, req.RecentTurns)
	case models.ExecutorTranslate:
		return e.translate(ctx, action, req.RecentTurns)
	case models.ExecutorComplexTask:
		return e.startWorkflow(ctx, action, req)
	default:
		return e.fail(action, errors.NewUnknownExecutorError(action.Executor))
	}
}

func (e *Executor) fail(action *models.PendingAction, stdErr *errors.StandardError) *models.ExecutionResult {
	e.logger.Warn("action execution failed", map[string]interface{}{
		"actionId": action.ActionID,
		"executor": action.Executor,
		"code":     string(stdErr.Code),
		"details":  stdErr.Details,
	})
	return &models.ExecutionResult{
		Success: false,
		Error:   stdErr.Message,
		Data:    map[string]interface{}{"error_code": string(stdErr.Code)},
		Node:    e.cfg.LocalNode,
	}
}
