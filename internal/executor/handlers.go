package executor

import (
	"context"
	"fmt"
	"strings"

	"actionhub/internal/common/errors"
	"actionhub/internal/common/genai"
	"actionhub/internal/entity"
	"actionhub/internal/models"

	"github.com/mitchellh/mapstructure"
)

type emailInput struct {
	To      []string `mapstructure:"to"`
	Cc      []string `mapstructure:"cc"`
	Subject string   `mapstructure:"subject"`
	Body    string   `mapstructure:"body"`
	Note    string   `mapstructure:"note"`
}

func (e *Executor) emailSend(ctx context.Context, action *models.PendingAction) *models.ExecutionResult {
	if e.email == nil {
		return e.fail(action, errors.NewNotificationSendFailedError("email", fmt.Errorf("email delivery not configured")))
	}

	var in emailInput
	if err := decodeParams(action.Data.Params, &in); err != nil {
		return e.fail(action, errors.NewParamValidationFailedError(action.ActionID, err.Error()))
	}
	if in.Body == "" {
		// Forwards carry an optional note instead of a body.
		in.Body = in.Note
	}
	if in.Subject == "" {
		in.Subject = "(no subject)"
	}

	id, err := e.email.SendEmailMessage(ctx, &models.EmailMessage{
		To:      in.To,
		Cc:      in.Cc,
		Subject: in.Subject,
		Body:    in.Body,
		From:    e.cfg.FromEmail,
	})
	if err != nil {
		return e.fail(action, errors.NewNotificationSendFailedError("email", err))
	}

	return &models.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("Email sent to %s", strings.Join(in.To, ", ")),
		Data: map[string]interface{}{
			"message_id": id,
			"subject":    in.Subject,
		},
		Node: e.cfg.LocalNode,
	}
}

// storeRecord persists the captured params as an entity of a well-known
// class. Scheduling and task creation are entity writes under the hood.
func (e *Executor) storeRecord(ctx context.Context, action *models.PendingAction, class, verb string) *models.ExecutionResult {
	provider, ok := e.provider(class)
	if !ok {
		return e.fail(action, errors.NewLocalExecutionError(action.Executor,
			fmt.Errorf("no %s provider registered on this node", class)))
	}

	record, err := provider.Create(ctx, action.UserID, scrubInternal(action.Data.Params))
	if err != nil {
		return e.fail(action, errors.NewLocalExecutionError(action.Executor, err))
	}

	return &models.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("%s %q", verb, record.DisplayName()),
		Data: map[string]interface{}{
			"record_id": record.ID,
			"class":     record.Class,
		},
		Node: e.cfg.LocalNode,
	}
}

type notifyInput struct {
	Message string `mapstructure:"message"`
	Phone   string `mapstructure:"phone"`
}

func (e *Executor) sendSMS(ctx context.Context, action *models.PendingAction) *models.ExecutionResult {
	if e.sms == nil {
		return e.fail(action, errors.NewNotificationSendFailedError("sms", fmt.Errorf("sms delivery not configured")))
	}

	var in notifyInput
	if err := decodeParams(action.Data.Params, &in); err != nil {
		return e.fail(action, errors.NewParamValidationFailedError(action.ActionID, err.Error()))
	}
	if in.Phone == "" {
		return e.fail(action, errors.NewNotificationSendFailedError("sms", fmt.Errorf("no target phone number")))
	}

	id, err := e.sms.PublishSMS(ctx, in.Phone, in.Message, e.cfg.SMSSenderID)
	if err != nil {
		return e.fail(action, errors.NewNotificationSendFailedError("sms", err))
	}

	return &models.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("Notification sent to %s", in.Phone),
		Data:    map[string]interface{}{"message_id": id},
		Node:    e.cfg.LocalNode,
	}
}

func (e *Executor) summarize(ctx context.Context, action *models.PendingAction, turns []models.Turn) *models.ExecutionResult {
	text := stringParam(action.Data.Params, "text")
	if text == "" {
		text = transcript(turns)
	}
	if text == "" {
		return e.fail(action, errors.NewLocalExecutionError(action.Executor, fmt.Errorf("nothing to summarize")))
	}

	return e.generateResult(ctx, action, "Summarize the following in a few sentences:\n\n"+text)
}

func (e *Executor) translate(ctx context.Context, action *models.PendingAction, turns []models.Turn) *models.ExecutionResult {
	target := stringParam(action.Data.Params, "target_language")
	text := stringParam(action.Data.Params, "text")
	if text == "" {
		text = lastTurnText(turns)
	}
	if text == "" {
		return e.fail(action, errors.NewLocalExecutionError(action.Executor, fmt.Errorf("nothing to translate")))
	}

	prompt := fmt.Sprintf("Translate the following into %s. Answer with the translation only.\n\n%s", target, text)
	return e.generateResult(ctx, action, prompt)
}

func (e *Executor) generateResult(ctx context.Context, action *models.PendingAction, prompt string) *models.ExecutionResult {
	if e.ai == nil {
		return e.fail(action, errors.NewAIServiceError(0, fmt.Errorf("text generation not configured")))
	}

	resp, err := e.ai.Generate(ctx, &genai.Request{Prompt: prompt})
	if err != nil {
		return e.fail(action, errors.NewAIServiceError(0, err))
	}

	return &models.ExecutionResult{
		Success:    true,
		Message:    strings.TrimSpace(resp.Content),
		Node:       e.cfg.LocalNode,
		TokensUsed: resp.TokensUsed,
	}
}

func (e *Executor) startWorkflow(ctx context.Context, action *models.PendingAction, req *Request) *models.ExecutionResult {
	processID := e.cfg.ProcessID
	if processID == "" {
		processID = action.ActionID
	}
	if e.workflow == nil {
		return e.fail(action, errors.NewWorkflowDispatchFailedError(processID, fmt.Errorf("workflow engine not configured")))
	}

	variables := scrubInternal(action.Data.Params)
	variables["user_id"] = action.UserID
	variables["session_id"] = req.SessionID
	variables["action_id"] = action.ActionID

	key, err := e.workflow.StartProcess(ctx, processID, variables)
	if err != nil {
		return e.fail(action, errors.NewWorkflowDispatchFailedError(processID, err))
	}

	return &models.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("Started workflow %q", action.Label),
		Data: map[string]interface{}{
			"process_id":   processID,
			"instance_key": key,
		},
		Node: e.cfg.LocalNode,
	}
}

func (e *Executor) provider(class string) (entity.Provider, bool) {
	if e.entities == nil {
		return nil, false
	}
	return e.entities.Get(class)
}

func decodeParams(params map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(scrubInternal(params))
}
