package reconcile

import (
	"context"
	"errors"
	"time"

	redisinfra "shopsync/pkg/infra/redis"

	"shopsync/internal/repo"
	"shopsync/pkg/errorutil"
)

// EventPublisher 变体删除后的事件广播
type EventPublisher interface {
	PublishVariantDeleted(ctx context.Context, event *redisinfra.VariantDeletedEvent) error
}

// DeletionOutcome 零库存复核的处理结果
type DeletionOutcome struct {
	VariantID string `json:"variant_id"`
	Deleted   bool   `json:"deleted"`
	Reason    string `json:"reason"`
}

const (
	reasonStockDepleted = "stock depleted"
	reasonRestocked     = "restocked before check"
	reasonAlreadyGone   = "already deleted"
)

// CheckAndDeleteIfZero 以当前数据库库存为准复核后删除，复核时已补货则安静放弃
func (e *Engine) CheckAndDeleteIfZero(ctx context.Context, variantID string, observedStock int) (*DeletionOutcome, error) {
	variant, err := e.variants.GetByID(ctx, variantID)
	if errors.Is(err, repo.ErrNotFound) {
		e.logger.Infof(ctx, "zero check no-op, variant already gone: %s", variantID)
		return &DeletionOutcome{VariantID: variantID, Deleted: false, Reason: reasonAlreadyGone}, nil
	}
	if err != nil {
		return nil, errorutil.RetriableWrap(err, "load variant failed")
	}

	// 入队到执行之间可能已补货，以复核时刻为准
	if variant.StockQuantity > 0 {
		e.logger.Infof(ctx, "zero check no-op, restocked: variant=%s observed=%d current=%d",
			variantID, observedStock, variant.StockQuantity)
		return &DeletionOutcome{VariantID: variantID, Deleted: false, Reason: reasonRestocked}, nil
	}

	// 条件删除：读到 0 之后、删除提交之前被并发补货则让位
	if err := e.variants.DeleteIfZeroStock(ctx, variantID); err != nil {
		if errors.Is(err, repo.ErrStockNotZero) {
			e.logger.Infof(ctx, "zero check no-op, restocked during delete: variant=%s", variantID)
			return &DeletionOutcome{VariantID: variantID, Deleted: false, Reason: reasonRestocked}, nil
		}
		if errors.Is(err, repo.ErrNotFound) {
			return &DeletionOutcome{VariantID: variantID, Deleted: false, Reason: reasonAlreadyGone}, nil
		}
		return nil, errorutil.RetriableWrap(err, "delete variant failed")
	}
	e.logger.Infof(ctx, "variant deleted on zero stock: %s sku=%s", variantID, variant.SKU)

	e.publishDeleted(ctx, variantID, variant.SKU)
	return &DeletionOutcome{VariantID: variantID, Deleted: true, Reason: reasonStockDepleted}, nil
}

// publishDeleted 广播失败只告警，删除本身已落库
func (e *Engine) publishDeleted(ctx context.Context, variantID, sku string) {
	if e.events == nil {
		return
	}
	event := &redisinfra.VariantDeletedEvent{
		VariantID: variantID,
		SKU:       sku,
		Reason:    reasonStockDepleted,
		Timestamp: time.Now().Unix(),
	}
	if err := e.events.PublishVariantDeleted(ctx, event); err != nil {
		e.logger.Warnf(ctx, "publish variant deleted event failed: variant=%s, err: %v", variantID, err)
	}
}
