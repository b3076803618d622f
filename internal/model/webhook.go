package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexID 外部 ID，兼容平台的数字字面量和字符串（含 gid:// URN）两种编码
type FlexID string

// UnmarshalJSON 数字与字符串都解析为字符串形式
func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	*f = FlexID(string(b))
	return nil
}

// MarshalJSON 统一输出字符串
func (f FlexID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(f))
}

func (f FlexID) String() string {
	return string(f)
}

// InventoryLevelPayload inventory_levels/update 载荷
// Available 是目标绝对值（非增量），重复投递天然幂等。
type InventoryLevelPayload struct {
	InventoryItemID FlexID `json:"inventory_item_id"`
	Available       int    `json:"available"`
}

// OrderLineItem 订单行
type OrderLineItem struct {
	VariantID FlexID `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// OrderCreatePayload orders/create 载荷
type OrderCreatePayload struct {
	ID        FlexID          `json:"id"`
	LineItems []OrderLineItem `json:"line_items"`
}

// ProductVariantPayload 商品载荷中的变体条目
type ProductVariantPayload struct {
	ID              FlexID `json:"id"`
	InventoryItemID FlexID `json:"inventory_item_id"`
	SKU             string `json:"sku"`
}

// ProductPayload products/create、products/update、variants/update 载荷
// variants/update 时 Variants 恰好一条。
type ProductPayload struct {
	ID       FlexID                  `json:"id"`
	Variants []ProductVariantPayload `json:"variants"`
}

// ZeroCheckPayload 删除复核任务载荷（内部任务）
type ZeroCheckPayload struct {
	VariantID     string `json:"variant_id"`
	ObservedStock int    `json:"observed_stock"`
}

// PrimaryExternalID 提取主题的主外部 ID（去重键成分）
func PrimaryExternalID(t Topic, rawPayload []byte) (string, error) {
	switch t {
	case TopicInventoryUpdate:
		var p InventoryLevelPayload
		if err := json.Unmarshal(rawPayload, &p); err != nil {
			return "", fmt.Errorf("parse inventory payload failed: %w", err)
		}
		if p.InventoryItemID == "" {
			return "", fmt.Errorf("inventory_item_id is required")
		}
		return p.InventoryItemID.String(), nil

	case TopicOrderCreate:
		var p OrderCreatePayload
		if err := json.Unmarshal(rawPayload, &p); err != nil {
			return "", fmt.Errorf("parse order payload failed: %w", err)
		}
		if p.ID == "" {
			return "", fmt.Errorf("order id is required")
		}
		return p.ID.String(), nil

	case TopicProductCreate, TopicProductUpdate, TopicVariantUpdate:
		var p ProductPayload
		if err := json.Unmarshal(rawPayload, &p); err != nil {
			return "", fmt.Errorf("parse product payload failed: %w", err)
		}
		if p.ID == "" {
			return "", fmt.Errorf("product id is required")
		}
		return p.ID.String(), nil
	}

	return "", fmt.Errorf("unsupported topic: %s", t)
}
