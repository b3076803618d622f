package reconcile

import (
	"context"
	"errors"

	"shopsync/internal/model"
	"shopsync/internal/repo"
	"shopsync/pkg/errorutil"
	"shopsync/pkg/logger"
	"shopsync/pkg/shopify"
)

// ZeroCheckEnqueuer 库存归零后投递删除复核任务
type ZeroCheckEnqueuer interface {
	EnqueueZeroCheck(ctx context.Context, variantID string, observedStock int) error
}

// Engine 对账引擎：把外部事件落到本地库存的期望状态
type Engine struct {
	stores    repo.StoreRepository
	variants  repo.VariantRepository
	zeroCheck ZeroCheckEnqueuer
	events    EventPublisher
	logger    logger.Logger
}

func NewEngine(stores repo.StoreRepository, variants repo.VariantRepository,
	zeroCheck ZeroCheckEnqueuer, events EventPublisher, log logger.Logger) *Engine {
	return &Engine{
		stores:    stores,
		variants:  variants,
		zeroCheck: zeroCheck,
		events:    events,
		logger:    log,
	}
}

// ApplyInventoryLevel 库存水平事件按绝对值覆盖本地库存
// 店铺或变体不存在视为成功空操作，不触发重试
func (e *Engine) ApplyInventoryLevel(ctx context.Context, shopDomain string, payload *model.InventoryLevelPayload) error {
	store, err := e.stores.GetByDomain(ctx, shopDomain)
	if errors.Is(err, repo.ErrNotFound) {
		e.logger.Infof(ctx, "skip inventory update, unknown store: %s", shopDomain)
		return nil
	}
	if err != nil {
		return errorutil.RetriableWrap(err, "load store failed")
	}

	inventoryItemID := shopify.StripGID(string(payload.InventoryItemID))
	variant, err := e.variants.FindByInventoryItem(ctx, store.ID, inventoryItemID)
	if errors.Is(err, repo.ErrNotFound) {
		e.logger.Infof(ctx, "skip inventory update, unmapped inventory item: store=%d item=%s", store.ID, inventoryItemID)
		return nil
	}
	if err != nil {
		return errorutil.RetriableWrap(err, "resolve variant failed")
	}

	available := payload.Available
	if available < 0 {
		available = 0
	}
	if err := e.variants.SetStock(ctx, variant.ID, available); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.logger.Infof(ctx, "skip inventory update, variant gone: %s", variant.ID)
			return nil
		}
		return errorutil.RetriableWrap(err, "set stock failed")
	}
	e.logger.Infof(ctx, "inventory reconciled: variant=%s stock=%d", variant.ID, available)

	if available == 0 {
		e.triggerZeroCheck(ctx, variant.ID, available)
	}
	return nil
}

// ApplyOrderCreate 按订单行逐项扣减库存，下限为 0
// 未知变体行跳过，任一行出现临时故障则整单重试
func (e *Engine) ApplyOrderCreate(ctx context.Context, shopDomain string, payload *model.OrderCreatePayload) error {
	store, err := e.stores.GetByDomain(ctx, shopDomain)
	if errors.Is(err, repo.ErrNotFound) {
		e.logger.Infof(ctx, "skip order, unknown store: %s", shopDomain)
		return nil
	}
	if err != nil {
		return errorutil.RetriableWrap(err, "load store failed")
	}

	var firstErr error
	for _, line := range payload.LineItems {
		if line.Quantity <= 0 {
			continue
		}
		shopifyVariantID := shopify.StripGID(string(line.VariantID))
		variant, err := e.variants.FindByShopifyVariant(ctx, store.ID, shopifyVariantID)
		if errors.Is(err, repo.ErrNotFound) {
			e.logger.Infof(ctx, "skip order line, unmapped variant: store=%d shopify_variant=%s", store.ID, shopifyVariantID)
			continue
		}
		if err != nil {
			e.logger.Errorf(ctx, "resolve order line failed: shopify_variant=%s, err: %v", shopifyVariantID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		newStock, err := e.variants.DecrementStock(ctx, variant.ID, line.Quantity)
		if errors.Is(err, repo.ErrNotFound) {
			e.logger.Infof(ctx, "skip order line, variant gone: %s", variant.ID)
			continue
		}
		if err != nil {
			e.logger.Errorf(ctx, "decrement stock failed: variant=%s, err: %v", variant.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		e.logger.Infof(ctx, "order line reconciled: variant=%s qty=%d stock=%d", variant.ID, line.Quantity, newStock)

		if newStock == 0 {
			e.triggerZeroCheck(ctx, variant.ID, newStock)
		}
	}
	if firstErr != nil {
		return errorutil.RetriableWrap(firstErr, "order reconciliation incomplete")
	}
	return nil
}

// RefreshProductMappings 商品创建/更新事件刷新变体的外部 ID 映射
func (e *Engine) RefreshProductMappings(ctx context.Context, shopDomain string, payload *model.ProductPayload) error {
	store, err := e.stores.GetByDomain(ctx, shopDomain)
	if errors.Is(err, repo.ErrNotFound) {
		e.logger.Infof(ctx, "skip product refresh, unknown store: %s", shopDomain)
		return nil
	}
	if err != nil {
		return errorutil.RetriableWrap(err, "load store failed")
	}

	var firstErr error
	for _, pv := range payload.Variants {
		shopifyVariantID := shopify.StripGID(string(pv.ID))
		if shopifyVariantID == "" {
			continue
		}
		variant, err := e.variants.FindByShopifyVariant(ctx, store.ID, shopifyVariantID)
		if errors.Is(err, repo.ErrNotFound) {
			e.logger.Infof(ctx, "skip product variant, not onboarded: store=%d shopify_variant=%s", store.ID, shopifyVariantID)
			continue
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		inventoryItemID := shopify.StripGID(string(pv.InventoryItemID))
		if err := e.variants.UpsertMapping(ctx, variant.ID, store.ID, inventoryItemID, shopifyVariantID, pv.SKU); err != nil {
			e.logger.Errorf(ctx, "upsert mapping failed: variant=%s, err: %v", variant.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return errorutil.RetriableWrap(firstErr, "product refresh incomplete")
	}
	return nil
}

// triggerZeroCheck 投递失败只告警，不影响当前任务结果
func (e *Engine) triggerZeroCheck(ctx context.Context, variantID string, observedStock int) {
	if e.zeroCheck == nil {
		return
	}
	if err := e.zeroCheck.EnqueueZeroCheck(ctx, variantID, observedStock); err != nil {
		e.logger.Warnf(ctx, "enqueue zero check failed: variant=%s, err: %v", variantID, err)
		return
	}
	e.logger.Infof(ctx, "zero check enqueued: variant=%s", variantID)
}
