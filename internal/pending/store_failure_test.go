package pending

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"actionhub/internal/common/database"
	"actionhub/internal/common/logger"
)

func setupMockStore(t *testing.T) (*Store, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	t.Cleanup(func() { client.Close() })

	log := logger.NewZapAdapter(zaptest.NewLogger(t))
	return NewStore(database.NewRedisFromClient(client), time.Hour, log), mock
}

// A down store is not the same as an absent entry; the error must reach
// the caller instead of being read as "no pending action".
func TestStore_GetRedisDown(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectGet(sessionKey("sess-8")).SetErr(errors.New("connection refused"))

	_, err := store.Get(context.Background(), "sess-8")
	require.Error(t, err)
	assert.ErrorContains(t, err, "load pending action")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkExecuted_DeleteFails(t *testing.T) {
	store, mock := setupMockStore(t)

	action := invoiceAction()
	action.MissingFields = nil
	raw, err := json.Marshal(action)
	require.NoError(t, err)

	mock.ExpectGet(sessionKey("sess-8")).SetVal(string(raw))
	mock.ExpectDel(sessionKey("sess-8")).SetErr(errors.New("connection refused"))

	_, err = store.MarkExecuted(context.Background(), "sess-8")
	require.Error(t, err)
	assert.ErrorContains(t, err, "delete pending action")
	assert.NoError(t, mock.ExpectationsWereMet())
}
