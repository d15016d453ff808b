package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"actionhub/internal/common/config"
	"actionhub/internal/common/genai"
	"actionhub/internal/common/logger"
	"actionhub/internal/entity"
	"actionhub/internal/models"
)

// ==========================
// Test fixtures
// ==========================

type mockEmail struct {
	msg *models.EmailMessage
	id  string
	err error
}

func (m *mockEmail) SendEmailMessage(_ context.Context, msg *models.EmailMessage) (string, error) {
	m.msg = msg
	return m.id, m.err
}

type mockSMS struct {
	phone   string
	message string
	sender  string
	id      string
	err     error
}

func (m *mockSMS) PublishSMS(_ context.Context, phone, message, sender string) (string, error) {
	m.phone, m.message, m.sender = phone, message, sender
	return m.id, m.err
}

type mockCRM struct {
	fields map[string]interface{}
	id     string
	err    error
}

func (m *mockCRM) UpsertFromFields(_ context.Context, fields map[string]interface{}) (string, error) {
	m.fields = fields
	return m.id, m.err
}

type mockRemote struct {
	node    string
	remote  bool
	result  *models.ExecutionResult
	routed  int
	gotNode string
}

func (m *mockRemote) RouteFor(_ *models.ActionDefinition, _ string) (string, bool) {
	return m.node, m.remote
}

func (m *mockRemote) ExecuteOn(_ context.Context, node string, _ *models.PendingAction, _ *models.ActionDefinition, _ string) *models.ExecutionResult {
	m.routed++
	m.gotNode = node
	return m.result
}

type mockWorkflow struct {
	processID string
	variables map[string]interface{}
	key       int64
	err       error
}

func (m *mockWorkflow) StartProcess(_ context.Context, processID string, variables map[string]interface{}) (int64, error) {
	m.processID = processID
	m.variables = variables
	return m.key, m.err
}

type recordingProvider struct {
	desc      models.CollectionDescriptor
	createErr error
	gotFields map[string]interface{}
}

func (p *recordingProvider) Descriptor() models.CollectionDescriptor { return p.desc }

func (p *recordingProvider) Create(_ context.Context, userID string, fields map[string]interface{}) (*models.EntityRecord, error) {
	p.gotFields = fields
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &models.EntityRecord{ID: "rec-1", Class: p.desc.Class, UserID: userID, Fields: fields}, nil
}

func (p *recordingProvider) Find(context.Context, string, string) ([]models.EntityRecord, error) {
	return nil, nil
}

func (p *recordingProvider) FindSubstring(context.Context, string, string) ([]models.EntityRecord, error) {
	return nil, nil
}

func providerFor(class string) *recordingProvider {
	return &recordingProvider{desc: models.CollectionDescriptor{
		Class:      class,
		Collection: class + "s",
		Fields:     []models.FieldSpec{{Name: "name", Type: models.FieldString, Required: true}},
	}}
}

func registryWith(t *testing.T, providers ...entity.Provider) *entity.Registry {
	t.Helper()
	reg := entity.NewRegistry()
	for _, p := range providers {
		require.NoError(t, reg.Register(p))
	}
	return reg
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Config: Config{
			LocalNode:   "hub-vienna",
			FromEmail:   "assistant@hub-vienna.example",
			SMSSenderID: "ActionHub",
		},
		Logger: logger.NewZapAdapter(zaptest.NewLogger(t)),
	}
}

func testAI(t *testing.T, handler http.HandlerFunc) *genai.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return genai.NewClient(&genai.Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "test-model",
		Timeout: 2 * time.Second,
	})
}

func writeGenerated(t *testing.T, w http.ResponseWriter, resp genai.Response) {
	t.Helper()
	resp.Success = true
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func readyAction(id, executor string, params map[string]interface{}) *models.PendingAction {
	return &models.PendingAction{
		ID:             "pa-1",
		ActionID:       id,
		Label:          "Test Action",
		Data:           models.ActionData{Params: params},
		ReadyToExecute: true,
		Executor:       executor,
		UserID:         "user-1",
		Status:         models.PendingReady,
	}
}

func emailDefinition() *models.ActionDefinition {
	return &models.ActionDefinition{
		ID:       "email_reply",
		Label:    "Reply to Email",
		Executor: models.ExecutorEmailSend,
		Fields: []models.FieldSpec{
			{Name: "to", Type: models.FieldString, Required: true},
			{Name: "subject", Type: models.FieldString, Required: true},
			{Name: "body", Type: models.FieldString, Required: true},
		},
	}
}

func contactDefinition() *models.ActionDefinition {
	return &models.ActionDefinition{
		ID:          "create_contact",
		Label:       "Create Contact",
		Executor:    models.ExecutorEntityCreate,
		EntityClass: "Contact",
		Fields: []models.FieldSpec{
			{Name: "name", Type: models.FieldString, Required: true},
			{Name: "email", Type: models.FieldString},
		},
	}
}

func errorCode(t *testing.T, result *models.ExecutionResult) string {
	t.Helper()
	code, _ := result.Data["error_code"].(string)
	return code
}

// ==========================
// Preconditions and routing
// ==========================

func TestExecute_BlocksWhenNotReady(t *testing.T) {
	email := &mockEmail{id: "msg-1"}
	opts := testOptions(t)
	opts.Email = email
	exec := New(opts)

	action := readyAction("email_reply", models.ExecutorEmailSend, map[string]interface{}{"to": "maria@example.com"})
	action.ReadyToExecute = false
	action.MissingFields = []string{"subject", "body"}

	result := exec.Execute(context.Background(), &Request{Action: action, Definition: emailDefinition()})

	assert.False(t, result.Success)
	assert.Equal(t, "MISSING_REQUIRED_FIELDS", errorCode(t, result))
	assert.Nil(t, email.msg, "an incomplete action must never reach a sender")
}

func TestExecute_StatelessSkipsReadinessGate(t *testing.T) {
	opts := testOptions(t)
	opts.AI = testAI(t, func(w http.ResponseWriter, r *http.Request) {
		writeGenerated(t, w, genai.Response{Content: "A short summary.", TokensUsed: 7})
	})
	exec := New(opts)

	action := readyAction("summarize", models.ExecutorSummarize, map[string]interface{}{"text": "long text"})
	action.ReadyToExecute = false

	result := exec.Execute(context.Background(), &Request{
		Action: action,
		Definition: &models.ActionDefinition{
			ID:       "summarize",
			Executor: models.ExecutorSummarize,
			Fields:   []models.FieldSpec{{Name: "text", Type: models.FieldString}},
		},
	})

	assert.True(t, result.Success)
	assert.Equal(t, "A short summary.", result.Message)
	assert.Equal(t, 7, result.TokensUsed)
}

func TestExecute_UnknownDefinition(t *testing.T) {
	exec := New(testOptions(t))

	action := readyAction("ghost", "entity_create", nil)
	result := exec.Execute(context.Background(), &Request{Action: action})

	assert.False(t, result.Success)
	assert.Equal(t, "ACTION_NOT_FOUND", errorCode(t, result))
}

func TestExecute_RoutesRemoteActions(t *testing.T) {
	email := &mockEmail{id: "msg-1"}
	remote := &mockRemote{
		node:   "berlin",
		remote: true,
		result: &models.ExecutionResult{Success: true, Message: "done", Node: "berlin"},
	}
	opts := testOptions(t)
	opts.Email = email
	opts.Remote = remote
	exec := New(opts)

	action := readyAction("email_reply", models.ExecutorEmailSend, map[string]interface{}{
		"to": "maria@example.com", "subject": "hi", "body": "text",
	})
	result := exec.Execute(context.Background(), &Request{Action: action, Definition: emailDefinition(), SessionID: "sess-1"})

	assert.True(t, result.Success)
	assert.Equal(t, "berlin", result.Node)
	assert.Equal(t, "berlin", remote.gotNode)
	assert.Equal(t, 1, remote.routed)
	assert.Nil(t, email.msg, "a routed action never runs locally")
}

func TestExecute_ForwardedNeverForwardsAgain(t *testing.T) {
	email := &mockEmail{id: "msg-1"}
	remote := &mockRemote{node: "berlin", remote: true}
	opts := testOptions(t)
	opts.Email = email
	opts.Remote = remote
	exec := New(opts)

	action := readyAction("email_reply", models.ExecutorEmailSend, map[string]interface{}{
		"to": "maria@example.com", "subject": "hi", "body": "text",
	})
	result := exec.Execute(context.Background(), &Request{
		Action:     action,
		Definition: emailDefinition(),
		Forwarded:  true,
	})

	assert.True(t, result.Success)
	assert.Equal(t, 0, remote.routed, "one hop is the ceiling, the second node executes locally")
	require.NotNil(t, email.msg)
}

func TestExecute_DisabledExecutor(t *testing.T) {
	opts := testOptions(t)
	opts.Email = &mockEmail{}
	opts.Config.Executors = map[string]config.ExecutorConfig{
		models.ExecutorEmailSend: {Enabled: false},
	}
	exec := New(opts)

	action := readyAction("email_reply", models.ExecutorEmailSend, map[string]interface{}{
		"to": "maria@example.com", "subject": "hi", "body": "text",
	})
	result := exec.Execute(context.Background(), &Request{Action: action, Definition: emailDefinition()})

	assert.False(t, result.Success)
	assert.Equal(t, "EXECUTOR_DISABLED", errorCode(t, result))
}

func TestExecute_SchemaViolationRejected(t *testing.T) {
	email := &mockEmail{id: "msg-1"}
	opts := testOptions(t)
	opts.Email = email
	exec := New(opts)

	action := readyAction("email_reply", models.ExecutorEmailSend, map[string]interface{}{
		"to": "maria@example.com", "subject": 42, "body": "text",
	})
	result := exec.Execute(context.Background(), &Request{Action: action, Definition: emailDefinition()})

	assert.False(t, result.Success)
	assert.Equal(t, "PARAM_VALIDATION_FAILED", errorCode(t, result))
	assert.Nil(t, email.msg)
}

func TestExecute_UnknownExecutor(t *testing.T) {
	exec := New(testOptions(t))

	action := readyAction("teleport", "teleport", nil)
	result := exec.Execute(context.Background(), &Request{
		Action:     action,
		Definition: &models.ActionDefinition{ID: "teleport", Executor: "teleport"},
	})

	assert.False(t, result.Success)
	assert.Equal(t, "UNKNOWN_EXECUTOR", errorCode(t, result))
}

// ==========================
// Local executors
// ==========================

func TestExecute_EmailSend(t *testing.T) {
	email := &mockEmail{id: "msg-42"}
	opts := testOptions(t)
	opts.Email = email
	exec := New(opts)

	action := readyAction("email_reply", models.ExecutorEmailSend, map[string]interface{}{
		"to":      "maria@example.com",
		"subject": "Q3 numbers",
		"body":    "See attached.",
	})
	result := exec.Execute(context.Background(), &Request{Action: action, Definition: emailDefinition()})

	assert.True(t, result.Success)
	assert.Equal(t, "Email sent to maria@example.com", result.Message)
	assert.Equal(t, "msg-42", result.Data["message_id"])
	assert.Equal(t, "hub-vienna", result.Node)

	require.NotNil(t, email.msg)
	assert.Equal(t, []string{"maria@example.com"}, email.msg.To, "a single recipient string becomes a one-element list")
	assert.Equal(t, "assistant@hub-vienna.example", email.msg.From)
}

func TestExecute_ForwardUsesNoteAsBody(t *testing.T) {
	email := &mockEmail{id: "msg-7"}
	opts := testOptions(t)
	opts.Email = email
	exec := New(opts)

	action := readyAction("email_forward", models.ExecutorEmailSend, map[string]interface{}{
		"to":   "finance@example.com",
		"note": "FYI, see below.",
	})
	result := exec.Execute(context.Background(), &Request{
		Action: action,
		Definition: &models.ActionDefinition{
			ID:       "email_forward",
			Executor: models.ExecutorEmailSend,
			Fields: []models.FieldSpec{
				{Name: "to", Type: models.FieldString, Required: true},
				{Name: "note", Type: models.FieldString},
			},
		},
	})

	assert.True(t, result.Success)
	require.NotNil(t, email.msg)
	assert.Equal(t, "FYI, see below.", email.msg.Body)
	assert.Equal(t, "(no subject)", email.msg.Subject)
}

func TestExecute_EmailNotConfigured(t *testing.T) {
	exec := New(testOptions(t))

	action := readyAction("email_reply", models.ExecutorEmailSend, map[string]interface{}{
		"to": "maria@example.com", "subject": "hi", "body": "text",
	})
	result := exec.Execute(context.Background(), &Request{Action: action, Definition: emailDefinition()})

	assert.False(t, result.Success)
	assert.Equal(t, "NOTIFICATION_SEND_FAILED", errorCode(t, result))
}

func TestExecute_EntityCreate(t *testing.T) {
	provider := providerFor("Contact")
	opts := testOptions(t)
	opts.Entities = registryWith(t, provider)
	exec := New(opts)

	action := readyAction("create_contact", models.ExecutorEntityCreate, map[string]interface{}{
		"name":            "Maria Gomez",
		"email":           "maria@example.com",
		"user_id":         "leaked-internal",
		"assignee__defer": true,
	})
	result := exec.Execute(context.Background(), &Request{Action: action, Definition: contactDefinition()})

	assert.True(t, result.Success)
	assert.Equal(t, `Created Contact "Maria Gomez"`, result.Message)
	assert.Equal(t, "rec-1", result.Data["record_id"])

	require.NotNil(t, provider.gotFields)
	assert.NotContains(t, provider.gotFields, "user_id")
	assert.NotContains(t, provider.gotFields, "assignee__defer")
	assert.Equal(t, "Maria Gomez", provider.gotFields["name"])
}

func TestExecute_EntityCreateMirrorsFlaggedClasses(t *testing.T) {
	provider := providerFor("Contact")
	crm := &mockCRM{id: "crm-9"}
	opts := testOptions(t)
	opts.Entities = registryWith(t, provider)
	opts.CRM = crm
	opts.Config.MirrorClasses = []string{"Contact"}
	exec := New(opts)

	params := map[string]interface{}{"name": "Maria Gomez", "email": "maria@example.com"}

	t.Run("mirror id attached", func(t *testing.T) {
		action := readyAction("create_contact", models.ExecutorEntityCreate, params)
		result := exec.Execute(context.Background(), &Request{Action: action, Definition: contactDefinition()})

		assert.True(t, result.Success)
		assert.Equal(t, "crm-9", result.Data["crm_id"])
		assert.Equal(t, "maria@example.com", crm.fields["email"])
	})

	t.Run("mirror failure keeps the create", func(t *testing.T) {
		crm.err = fmt.Errorf("zoho unavailable")
		action := readyAction("create_contact", models.ExecutorEntityCreate, params)
		result := exec.Execute(context.Background(), &Request{Action: action, Definition: contactDefinition()})

		assert.True(t, result.Success, "the record is durable locally either way")
		assert.NotContains(t, result.Data, "crm_id")
	})
}

func TestExecute_EntityCreateUnmirroredClassSkipsCRM(t *testing.T) {
	provider := providerFor("Invoice")
	crm := &mockCRM{id: "crm-9"}
	opts := testOptions(t)
	opts.Entities = registryWith(t, provider)
	opts.CRM = crm
	opts.Config.MirrorClasses = []string{"Contact"}
	exec := New(opts)

	action := readyAction("create_invoice", models.ExecutorEntityCreate, map[string]interface{}{"name": "INV-1"})
	result := exec.Execute(context.Background(), &Request{
		Action: action,
		Definition: &models.ActionDefinition{
			ID:          "create_invoice",
			Executor:    models.ExecutorEntityCreate,
			EntityClass: "Invoice",
			Fields:      []models.FieldSpec{{Name: "name", Type: models.FieldString, Required: true}},
		},
	})

	assert.True(t, result.Success)
	assert.Nil(t, crm.fields)
}

func TestExecute_ScheduleStoresEvent(t *testing.T) {
	provider := providerFor("Event")
	opts := testOptions(t)
	opts.Entities = registryWith(t, provider)
	exec := New(opts)

	action := readyAction("event_schedule", models.ExecutorEventSchedule, map[string]interface{}{
		"title":      "Team sync",
		"start_time": "2026-09-01T10:00:00Z",
	})
	result := exec.Execute(context.Background(), &Request{
		Action: action,
		Definition: &models.ActionDefinition{
			ID:       "event_schedule",
			Executor: models.ExecutorEventSchedule,
			Fields: []models.FieldSpec{
				{Name: "title", Type: models.FieldString, Required: true},
				{Name: "start_time", Type: models.FieldString, Required: true},
			},
		},
	})

	assert.True(t, result.Success)
	assert.Equal(t, `Scheduled "Team sync"`, result.Message)
	assert.Equal(t, "rec-1", result.Data["record_id"])
	assert.Equal(t, "Event", result.Data["class"])
}

func TestExecute_TaskWithoutProviderFails(t *testing.T) {
	exec := New(testOptions(t))

	action := readyAction("task_create", models.ExecutorTaskCreate, map[string]interface{}{"title": "Follow up"})
	result := exec.Execute(context.Background(), &Request{
		Action: action,
		Definition: &models.ActionDefinition{
			ID:       "task_create",
			Executor: models.ExecutorTaskCreate,
			Fields:   []models.FieldSpec{{Name: "title", Type: models.FieldString, Required: true}},
		},
	})

	assert.False(t, result.Success)
	assert.Equal(t, "LOCAL_EXECUTION_FAILED", errorCode(t, result))
}

func TestExecute_Notify(t *testing.T) {
	sms := &mockSMS{id: "sms-1"}
	opts := testOptions(t)
	opts.SMS = sms
	exec := New(opts)

	action := readyAction("notify", models.ExecutorNotify, map[string]interface{}{
		"message": "Invoice sent.",
		"phone":   "+43123456789",
	})
	result := exec.Execute(context.Background(), &Request{
		Action: action,
		Definition: &models.ActionDefinition{
			ID:       "notify",
			Executor: models.ExecutorNotify,
			Fields: []models.FieldSpec{
				{Name: "message", Type: models.FieldString, Required: true},
				{Name: "phone", Type: models.FieldString},
			},
		},
	})

	assert.True(t, result.Success)
	assert.Equal(t, "+43123456789", sms.phone)
	assert.Equal(t, "Invoice sent.", sms.message)
	assert.Equal(t, "ActionHub", sms.sender)
}

// ==========================
// Generated executors
// ==========================

func TestExecute_SummarizeUsesRecentTurns(t *testing.T) {
	var got genai.Request
	opts := testOptions(t)
	opts.AI = testAI(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeGenerated(t, w, genai.Response{Content: "  Shipping v2 went well.\n", TokensUsed: 9})
	})
	exec := New(opts)

	action := readyAction("summarize", models.ExecutorSummarize, nil)
	result := exec.Execute(context.Background(), &Request{
		Action: action,
		Definition: &models.ActionDefinition{
			ID:       "summarize",
			Executor: models.ExecutorSummarize,
			Fields:   []models.FieldSpec{{Name: "text", Type: models.FieldString}},
		},
		RecentTurns: []models.Turn{
			{Role: "user", Content: "we shipped v2 yesterday"},
			{Role: "assistant", Content: "Congratulations!"},
		},
	})

	assert.True(t, result.Success)
	assert.Equal(t, "Shipping v2 went well.", result.Message)
	assert.Equal(t, 9, result.TokensUsed)
	assert.Contains(t, got.Prompt, "user: we shipped v2 yesterday")
	assert.Contains(t, got.Prompt, "assistant: Congratulations!")
}

func TestExecute_TranslateTargetsLanguage(t *testing.T) {
	var got genai.Request
	opts := testOptions(t)
	opts.AI = testAI(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeGenerated(t, w, genai.Response{Content: "Guten Morgen", TokensUsed: 4})
	})
	exec := New(opts)

	action := readyAction("translate", models.ExecutorTranslate, map[string]interface{}{
		"target_language": "German",
		"text":            "Good morning",
	})
	result := exec.Execute(context.Background(), &Request{
		Action: action,
		Definition: &models.ActionDefinition{
			ID:       "translate",
			Executor: models.ExecutorTranslate,
			Fields: []models.FieldSpec{
				{Name: "target_language", Type: models.FieldString, Required: true},
				{Name: "text", Type: models.FieldString},
			},
		},
	})

	assert.True(t, result.Success)
	assert.Equal(t, "Guten Morgen", result.Message)
	assert.Contains(t, got.Prompt, "into German")
	assert.Contains(t, got.Prompt, "Good morning")
}

func TestExecute_AIFailureDegrades(t *testing.T) {
	opts := testOptions(t)
	opts.AI = testAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	exec := New(opts)

	action := readyAction("summarize", models.ExecutorSummarize, map[string]interface{}{"text": "long text"})
	result := exec.Execute(context.Background(), &Request{
		Action: action,
		Definition: &models.ActionDefinition{
			ID:       "summarize",
			Executor: models.ExecutorSummarize,
			Fields:   []models.FieldSpec{{Name: "text", Type: models.FieldString}},
		},
	})

	assert.False(t, result.Success)
	assert.Equal(t, "AI_SERVICE_FAILED", errorCode(t, result))
}

// ==========================
// Workflow dispatch
// ==========================

func TestExecute_ComplexTaskStartsWorkflow(t *testing.T) {
	wf := &mockWorkflow{key: 777}
	opts := testOptions(t)
	opts.Workflow = wf
	opts.Config.ProcessID = "assistant_complex_task"
	exec := New(opts)

	action := readyAction("plan_offsite", models.ExecutorComplexTask, map[string]interface{}{
		"destination": "Vienna",
	})
	action.Label = "Plan Offsite"

	result := exec.Execute(context.Background(), &Request{
		Action:    action,
		SessionID: "sess-1",
		Definition: &models.ActionDefinition{
			ID:       "plan_offsite",
			Executor: models.ExecutorComplexTask,
			Fields:   []models.FieldSpec{{Name: "destination", Type: models.FieldString, Required: true}},
		},
	})

	assert.True(t, result.Success)
	assert.Equal(t, `Started workflow "Plan Offsite"`, result.Message)
	assert.Equal(t, int64(777), result.Data["instance_key"])
	assert.Equal(t, "assistant_complex_task", wf.processID)
	assert.Equal(t, "Vienna", wf.variables["destination"])
	assert.Equal(t, "user-1", wf.variables["user_id"])
	assert.Equal(t, "sess-1", wf.variables["session_id"])
}

func TestExecute_ComplexTaskWithoutEngine(t *testing.T) {
	exec := New(testOptions(t))

	action := readyAction("plan_offsite", models.ExecutorComplexTask, map[string]interface{}{"destination": "Vienna"})
	result := exec.Execute(context.Background(), &Request{
		Action: action,
		Definition: &models.ActionDefinition{
			ID:       "plan_offsite",
			Executor: models.ExecutorComplexTask,
			Fields:   []models.FieldSpec{{Name: "destination", Type: models.FieldString, Required: true}},
		},
	})

	assert.False(t, result.Success)
	assert.Equal(t, "WORKFLOW_DISPATCH_FAILED", errorCode(t, result))
}
