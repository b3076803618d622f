package inventory

import (
	"context"
	"encoding/json"

	"shopsync/internal/domains/common"
	"shopsync/internal/model"
	"shopsync/pkg/errorutil"
)

// Handler inventory_levels/update：按绝对值对账库存
type Handler struct {
	env     *model.JobEnvelope
	payload *model.InventoryLevelPayload
	deps    *common.Deps
}

// NewHandler 解析并校验库存事件载荷
func NewHandler(env *model.JobEnvelope, deps *common.Deps) (common.Handler, error) {
	var payload model.InventoryLevelPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, errorutil.NonRetriableWithDetails("invalid inventory payload", err.Error())
	}
	if payload.InventoryItemID == "" {
		return nil, errorutil.NonRetriable("inventory_item_id is required")
	}
	return &Handler{env: env, payload: &payload, deps: deps}, nil
}

func (h *Handler) Process(ctx context.Context) error {
	return h.deps.Engine.ApplyInventoryLevel(ctx, h.env.ShopDomain, h.payload)
}
