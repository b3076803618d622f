package entity

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Variant 商品变体实体
// 同一内部变体可同步到多个店铺，每个店铺有独立的外部 ID；
// StockQuantity 是内部全局库存计数（非按店铺），Webhook 处理期间
// 仅由对账流程写入。
type Variant struct {
	ID  string `gorm:"column:id;primaryKey;type:varchar(64)"`
	SKU string `gorm:"column:sku;type:varchar(128);not null;index:idx_sku"`

	StockQuantity int `gorm:"column:stock_quantity;not null;default:0"`

	// 外部 ID 映射（storeID → 外部 ID），随 mappings 表同事务更新
	InventoryItemIDs  datatypes.JSONMap `gorm:"column:inventory_item_ids;type:json"`
	ShopifyVariantIDs datatypes.JSONMap `gorm:"column:shopify_variant_ids;type:json"`

	CreatedAt time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName 指定表名
func (Variant) TableName() string {
	return "variants"
}

// VariantStoreMapping (store_id, 外部 ID) → variant_id 二级索引
// Webhook 对账走这张表，避免每次全表扫描变体的 JSON 映射。
type VariantStoreMapping struct {
	ID        uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	VariantID string `gorm:"column:variant_id;type:varchar(64);not null;index:idx_variant"`
	StoreID   uint64 `gorm:"column:store_id;not null;uniqueIndex:uk_store_inventory_item;uniqueIndex:uk_store_variant"`

	// 外部 ID 已去除 gid:// 前缀
	InventoryItemID  string `gorm:"column:inventory_item_id;type:varchar(64);not null;uniqueIndex:uk_store_inventory_item"`
	ShopifyVariantID string `gorm:"column:shopify_variant_id;type:varchar(64);not null;uniqueIndex:uk_store_variant"`

	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (VariantStoreMapping) TableName() string {
	return "variant_store_mappings"
}
