package product

import (
	"context"
	"encoding/json"

	"shopsync/internal/domains/common"
	"shopsync/internal/model"
	"shopsync/pkg/errorutil"
)

// Handler products/create、products/update、variants/update：刷新外部 ID 映射
type Handler struct {
	env     *model.JobEnvelope
	payload *model.ProductPayload
	deps    *common.Deps
}

// NewHandler 解析并校验商品事件载荷
func NewHandler(env *model.JobEnvelope, deps *common.Deps) (common.Handler, error) {
	var payload model.ProductPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, errorutil.NonRetriableWithDetails("invalid product payload", err.Error())
	}
	if payload.ID == "" {
		return nil, errorutil.NonRetriable("product id is required")
	}
	return &Handler{env: env, payload: &payload, deps: deps}, nil
}

func (h *Handler) Process(ctx context.Context) error {
	return h.deps.Engine.RefreshProductMappings(ctx, h.env.ShopDomain, h.payload)
}
