package order

import (
	"context"
	"encoding/json"

	"shopsync/internal/domains/common"
	"shopsync/internal/model"
	"shopsync/pkg/errorutil"
)

// Handler orders/create：按订单行扣减库存
type Handler struct {
	env     *model.JobEnvelope
	payload *model.OrderCreatePayload
	deps    *common.Deps
}

// NewHandler 解析并校验订单事件载荷
func NewHandler(env *model.JobEnvelope, deps *common.Deps) (common.Handler, error) {
	var payload model.OrderCreatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, errorutil.NonRetriableWithDetails("invalid order payload", err.Error())
	}
	if payload.ID == "" {
		return nil, errorutil.NonRetriable("order id is required")
	}
	return &Handler{env: env, payload: &payload, deps: deps}, nil
}

func (h *Handler) Process(ctx context.Context) error {
	return h.deps.Engine.ApplyOrderCreate(ctx, h.env.ShopDomain, h.payload)
}
