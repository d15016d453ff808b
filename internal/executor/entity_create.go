package executor

import (
	"context"
	"fmt"
	"strings"

	"actionhub/internal/common/errors"
	"actionhub/internal/models"
)

func (e *Executor) entityCreate(ctx context.Context, action *models.PendingAction, def *models.ActionDefinition) *models.ExecutionResult {
	// Local definitions carry the bare class name; composite node:Class
	// references only reach here on the owning node, already stripped.
	class := def.EntityClass
	provider, ok := e.provider(class)
	if !ok {
		return e.fail(action, errors.NewLocalExecutionError(action.Executor,
			fmt.Errorf("no provider for entity class %q", class)))
	}

	fields := scrubInternal(action.Data.Params)
	record, err := provider.Create(ctx, action.UserID, fields)
	if err != nil {
		return e.fail(action, errors.NewLocalExecutionError(action.Executor, err))
	}

	data := map[string]interface{}{
		"record_id":    record.ID,
		"class":        record.Class,
		"display_name": record.DisplayName(),
	}

	if e.crm != nil && e.mirrored(class) {
		crmID, mirrorErr := e.crm.UpsertFromFields(ctx, fields)
		if mirrorErr != nil {
			// The record is durable locally; a mirror outage is a warning,
			// not a failed turn.
			stdErr := errors.NewCRMSyncFailedError(class, mirrorErr)
			e.logger.Warn("crm mirror failed", map[string]interface{}{
				"recordId": record.ID,
				"code":     string(stdErr.Code),
				"details":  stdErr.Details,
			})
		} else {
			data["crm_id"] = crmID
		}
	}

	return &models.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("Created %s %q", record.Class, record.DisplayName()),
		Data:    data,
		Node:    e.cfg.LocalNode,
	}
}

func (e *Executor) mirrored(class string) bool {
	for _, c := range e.cfg.MirrorClasses {
		if strings.EqualFold(c, class) {
			return true
		}
	}
	return false
}
