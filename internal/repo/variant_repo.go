package repo

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"shopsync/internal/entity"
)

type VariantRepository interface {
	Create(ctx context.Context, variant *entity.Variant) error
	GetByID(ctx context.Context, id string) (*entity.Variant, error)
	FindByInventoryItem(ctx context.Context, storeID uint64, inventoryItemID string) (*entity.Variant, error)
	FindByShopifyVariant(ctx context.Context, storeID uint64, shopifyVariantID string) (*entity.Variant, error)
	SetStock(ctx context.Context, id string, quantity int) error
	DecrementStock(ctx context.Context, id string, quantity int) (int, error)
	UpsertMapping(ctx context.Context, variantID string, storeID uint64, inventoryItemID, shopifyVariantID, sku string) error
	DeleteIfZeroStock(ctx context.Context, id string) error
}

type variantRepository struct {
	db *gorm.DB
}

func NewVariantRepository(db *gorm.DB) VariantRepository {
	return &variantRepository{db: db}
}

func (r *variantRepository) Create(ctx context.Context, variant *entity.Variant) error {
	return r.db.WithContext(ctx).Create(variant).Error
}

func (r *variantRepository) GetByID(ctx context.Context, id string) (*entity.Variant, error) {
	var variant entity.Variant
	err := r.db.WithContext(ctx).First(&variant, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &variant, nil
}

// FindByInventoryItem 通过二级索引表定位变体，软删除的变体视为不存在
func (r *variantRepository) FindByInventoryItem(ctx context.Context, storeID uint64, inventoryItemID string) (*entity.Variant, error) {
	var mapping entity.VariantStoreMapping
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND inventory_item_id = ?", storeID, inventoryItemID).
		First(&mapping).Error
	if err != nil {
		return nil, translate(err)
	}
	return r.GetByID(ctx, mapping.VariantID)
}

func (r *variantRepository) FindByShopifyVariant(ctx context.Context, storeID uint64, shopifyVariantID string) (*entity.Variant, error) {
	var mapping entity.VariantStoreMapping
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND shopify_variant_id = ?", storeID, shopifyVariantID).
		First(&mapping).Error
	if err != nil {
		return nil, translate(err)
	}
	return r.GetByID(ctx, mapping.VariantID)
}

// SetStock 绝对值覆盖库存
func (r *variantRepository) SetStock(ctx context.Context, id string, quantity int) error {
	res := r.db.WithContext(ctx).Model(&entity.Variant{}).
		Where("id = ?", id).
		Update("stock_quantity", quantity)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DecrementStock 扣减库存，下限为 0，返回扣减后的库存
func (r *variantRepository) DecrementStock(ctx context.Context, id string, quantity int) (int, error) {
	var newQuantity int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entity.Variant{}).
			Where("id = ?", id).
			Update("stock_quantity", gorm.Expr(
				"CASE WHEN stock_quantity >= ? THEN stock_quantity - ? ELSE 0 END", quantity, quantity))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		var variant entity.Variant
		if err := tx.Select("stock_quantity").First(&variant, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		newQuantity = variant.StockQuantity
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newQuantity, nil
}

// UpsertMapping 同步变体上的店铺外部 ID 映射及二级索引行，空值不覆盖已有映射
func (r *variantRepository) UpsertMapping(ctx context.Context, variantID string, storeID uint64, inventoryItemID, shopifyVariantID, sku string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var variant entity.Variant
		if err := tx.First(&variant, "id = ?", variantID).Error; err != nil {
			return translate(err)
		}

		storeKey := strconv.FormatUint(storeID, 10)
		if variant.InventoryItemIDs == nil {
			variant.InventoryItemIDs = datatypes.JSONMap{}
		}
		if variant.ShopifyVariantIDs == nil {
			variant.ShopifyVariantIDs = datatypes.JSONMap{}
		}
		if inventoryItemID != "" {
			variant.InventoryItemIDs[storeKey] = inventoryItemID
		}
		if shopifyVariantID != "" {
			variant.ShopifyVariantIDs[storeKey] = shopifyVariantID
		}
		updates := map[string]interface{}{
			"inventory_item_ids":  variant.InventoryItemIDs,
			"shopify_variant_ids": variant.ShopifyVariantIDs,
		}
		if sku != "" {
			updates["sku"] = sku
		}
		if err := tx.Model(&variant).Updates(updates).Error; err != nil {
			return err
		}

		var mapping entity.VariantStoreMapping
		err := tx.Where("store_id = ? AND variant_id = ?", storeID, variantID).First(&mapping).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			mapping = entity.VariantStoreMapping{
				VariantID:        variantID,
				StoreID:          storeID,
				InventoryItemID:  inventoryItemID,
				ShopifyVariantID: shopifyVariantID,
			}
			return tx.Create(&mapping).Error
		}
		if err != nil {
			return err
		}
		mappingUpdates := map[string]interface{}{}
		if inventoryItemID != "" {
			mappingUpdates["inventory_item_id"] = inventoryItemID
		}
		if shopifyVariantID != "" {
			mappingUpdates["shopify_variant_id"] = shopifyVariantID
		}
		if len(mappingUpdates) == 0 {
			return nil
		}
		return tx.Model(&mapping).Updates(mappingUpdates).Error
	})
}

// DeleteIfZeroStock 软删除变体并清理二级索引行
// 删除以库存仍为 0 为条件，与并发补货写入互斥：条件不满足返回
// ErrStockNotZero，由调用方当作竞态空操作处理。
func (r *variantRepository) DeleteIfZeroStock(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND stock_quantity = 0", id).Delete(&entity.Variant{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var variant entity.Variant
			err := tx.First(&variant, "id = ?", id).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			return ErrStockNotZero
		}
		return tx.Where("variant_id = ?", id).Delete(&entity.VariantStoreMapping{}).Error
	})
}
