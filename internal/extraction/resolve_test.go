package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"actionhub/internal/common/logger"
	"actionhub/internal/entity"
	"actionhub/internal/models"
)

type stubProvider struct {
	desc          models.CollectionDescriptor
	found         []models.EntityRecord
	substr        []models.EntityRecord
	created       *models.EntityRecord
	createErr     error
	createdFields map[string]interface{}
	findCalls     int
	substrCalls   int
	createCalls   int
}

func (s *stubProvider) Descriptor() models.CollectionDescriptor { return s.desc }

func (s *stubProvider) Create(ctx context.Context, userID string, fields map[string]interface{}) (*models.EntityRecord, error) {
	s.createCalls++
	s.createdFields = fields
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.created, nil
}

func (s *stubProvider) Find(ctx context.Context, userID, query string) ([]models.EntityRecord, error) {
	s.findCalls++
	return s.found, nil
}

func (s *stubProvider) FindSubstring(ctx context.Context, userID, text string) ([]models.EntityRecord, error) {
	s.substrCalls++
	return s.substr, nil
}

func contactProvider() *stubProvider {
	return &stubProvider{
		desc: models.CollectionDescriptor{
			Class:      "Contact",
			Collection: "contacts",
			Fields: []models.FieldSpec{
				{Name: "name", Type: models.FieldString, Required: true},
				{Name: "email", Type: models.FieldString},
			},
		},
	}
}

func newTestResolver(t *testing.T, provider *stubProvider, ownership map[string]string) *Resolver {
	t.Helper()
	registry := entity.NewRegistry()
	if provider != nil {
		require.NoError(t, registry.Register(provider))
	}
	log := logger.NewZapAdapter(zaptest.NewLogger(t))
	return NewResolver(registry, "hub-vienna", ownership, log)
}

func relationshipFields() []models.FieldSpec {
	return []models.FieldSpec{
		{Name: "subject", Type: models.FieldString, Required: true},
		{
			Name: "customer", Type: models.FieldString, Required: true,
			Relationship: true, RelatedCollection: "contacts",
		},
	}
}

func TestResolve_SearchHit(t *testing.T) {
	provider := contactProvider()
	provider.found = []models.EntityRecord{{ID: "rec-7"}, {ID: "rec-8"}}
	resolver := newTestResolver(t, provider, nil)

	params := map[string]interface{}{"subject": "invoice", "customer": "Maria Gomez"}
	resolver.Resolve(context.Background(), "user-1", relationshipFields(), params)

	assert.Equal(t, "rec-7", params["customer"], "first hit wins")
	assert.Equal(t, "invoice", params["subject"])
	assert.Zero(t, provider.substrCalls)
	assert.Zero(t, provider.createCalls)
}

func TestResolve_SubstringFallback(t *testing.T) {
	provider := contactProvider()
	provider.substr = []models.EntityRecord{{ID: "rec-9"}}
	resolver := newTestResolver(t, provider, nil)

	params := map[string]interface{}{"customer": "Maria"}
	resolver.Resolve(context.Background(), "user-1", relationshipFields(), params)

	assert.Equal(t, "rec-9", params["customer"])
	assert.Equal(t, 1, provider.findCalls)
	assert.Equal(t, 1, provider.substrCalls)
}

func TestResolve_AutonomousCreate(t *testing.T) {
	provider := contactProvider()
	provider.created = &models.EntityRecord{ID: "new-1"}
	resolver := newTestResolver(t, provider, nil)

	params := map[string]interface{}{"customer": "Maria Gomez"}
	resolver.Resolve(context.Background(), "user-1", relationshipFields(), params)

	assert.Equal(t, "new-1", params["customer"])
	assert.Equal(t, map[string]interface{}{"name": "Maria Gomez"}, provider.createdFields)
}

func TestResolve_CreateFailureLeavesRawName(t *testing.T) {
	provider := contactProvider()
	provider.createErr = errors.New("insert failed")
	resolver := newTestResolver(t, provider, nil)

	params := map[string]interface{}{"customer": "Maria Gomez"}
	resolver.Resolve(context.Background(), "user-1", relationshipFields(), params)

	assert.Equal(t, "Maria Gomez", params["customer"])
}

func TestResolve_CreateNotOffered(t *testing.T) {
	provider := contactProvider()
	provider.desc.Methods = []string{"find"}
	resolver := newTestResolver(t, provider, nil)

	params := map[string]interface{}{"customer": "Maria Gomez"}
	resolver.Resolve(context.Background(), "user-1", relationshipFields(), params)

	assert.Equal(t, "Maria Gomez", params["customer"])
	assert.Zero(t, provider.createCalls)
}

func TestResolve_RemoteCollectionDefers(t *testing.T) {
	provider := contactProvider()
	resolver := newTestResolver(t, provider, map[string]string{"contacts": "hub-berlin"})

	params := map[string]interface{}{"customer": "Maria Gomez"}
	resolver.Resolve(context.Background(), "user-1", relationshipFields(), params)

	assert.Equal(t, "Maria Gomez", params["customer"], "raw name stays so readiness is unchanged")
	assert.Equal(t, true, params["customer"+DeferSuffix])
	assert.Zero(t, provider.findCalls)
	assert.Zero(t, provider.createCalls)
}

func TestResolve_LocalOwnershipResolves(t *testing.T) {
	provider := contactProvider()
	provider.found = []models.EntityRecord{{ID: "rec-3"}}
	resolver := newTestResolver(t, provider, map[string]string{"contacts": "hub-vienna"})

	params := map[string]interface{}{"customer": "Maria"}
	resolver.Resolve(context.Background(), "user-1", relationshipFields(), params)

	assert.Equal(t, "rec-3", params["customer"])
	assert.NotContains(t, params, "customer"+DeferSuffix)
}

func TestResolve_SkipsResolvedValues(t *testing.T) {
	provider := contactProvider()
	resolver := newTestResolver(t, provider, nil)

	tests := []struct {
		name  string
		value string
	}{
		{"numeric id", "42"},
		{"uuid", "7b7e0db0-5f4c-4f0e-9a3f-07a5b1c2d3e4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := map[string]interface{}{"customer": tt.value}
			resolver.Resolve(context.Background(), "user-1", relationshipFields(), params)
			assert.Equal(t, tt.value, params["customer"])
		})
	}
	assert.Zero(t, provider.findCalls, "resolved values never trigger lookups")
}

func TestResolve_IgnoresUnrelatedFields(t *testing.T) {
	resolver := newTestResolver(t, nil, nil)

	fields := []models.FieldSpec{
		{Name: "subject", Type: models.FieldString, Required: true},
		{Name: "assignee", Type: models.FieldString, Relationship: true},
		{
			Name: "customer", Type: models.FieldString,
			Relationship: true, RelatedCollection: "contacts",
		},
	}
	params := map[string]interface{}{
		"subject":  "hello",
		"assignee": "Maria",
		"customer": "Jonas",
	}
	resolver.Resolve(context.Background(), "user-1", fields, params)

	assert.Equal(t, "hello", params["subject"], "plain fields pass through")
	assert.Equal(t, "Maria", params["assignee"], "no related collection, nothing to resolve against")
	assert.Equal(t, "Jonas", params["customer"], "no provider registered for the collection")
}
