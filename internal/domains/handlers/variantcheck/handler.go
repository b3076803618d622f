package variantcheck

import (
	"context"
	"encoding/json"

	"shopsync/internal/domains/common"
	"shopsync/internal/model"
	"shopsync/pkg/errorutil"
)

// Handler variants/zero_check（内部任务）：零库存复核后删除变体
type Handler struct {
	env     *model.JobEnvelope
	payload *model.ZeroCheckPayload
	deps    *common.Deps
}

// NewHandler 解析并校验复核任务载荷
func NewHandler(env *model.JobEnvelope, deps *common.Deps) (common.Handler, error) {
	var payload model.ZeroCheckPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, errorutil.NonRetriableWithDetails("invalid zero check payload", err.Error())
	}
	if payload.VariantID == "" {
		return nil, errorutil.NonRetriable("variant_id is required")
	}
	return &Handler{env: env, payload: &payload, deps: deps}, nil
}

func (h *Handler) Process(ctx context.Context) error {
	outcome, err := h.deps.Engine.CheckAndDeleteIfZero(ctx, h.payload.VariantID, h.payload.ObservedStock)
	if err != nil {
		return err
	}
	h.deps.Logger.Infof(ctx, "zero check done: variant=%s deleted=%v reason=%s",
		outcome.VariantID, outcome.Deleted, outcome.Reason)
	return nil
}
