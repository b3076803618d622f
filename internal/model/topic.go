package model

import "fmt"

// Topic Webhook 主题（即任务类型）
type Topic string

const (
	TopicInventoryUpdate Topic = "inventory_levels/update"
	TopicOrderCreate     Topic = "orders/create"
	TopicProductCreate   Topic = "products/create"
	TopicProductUpdate   Topic = "products/update"
	TopicVariantUpdate   Topic = "variants/update"

	// TopicZeroCheck 内部任务：库存归零后的删除复核
	TopicZeroCheck Topic = "variants/zero_check"
)

// Topics 全部任务类型（worker 启动时按此校验 HandlerMap 覆盖完整）
var Topics = []Topic{
	TopicInventoryUpdate,
	TopicOrderCreate,
	TopicProductCreate,
	TopicProductUpdate,
	TopicVariantUpdate,
	TopicZeroCheck,
}

// ParseTopic 解析外部 Webhook 主题（内部主题不接受外部投递）
func ParseTopic(s string) (Topic, bool) {
	switch Topic(s) {
	case TopicInventoryUpdate, TopicOrderCreate, TopicProductCreate,
		TopicProductUpdate, TopicVariantUpdate:
		return Topic(s), true
	}
	return "", false
}

// DedupeMode 去重模式
type DedupeMode int

const (
	// DedupeMerge 合并：同 key 待处理任务存在时取最新 payload（last-value-wins）
	DedupeMerge DedupeMode = iota
	// DedupeReject 拒绝：同 key 任务在保留窗口内存在即丢弃（防止重复扣减）
	DedupeReject
)

// DedupeMode 返回该主题的去重模式
// 库存/商品类更新只有最新值有意义 → 合并；订单重复处理会二次扣减 → 拒绝。
func (t Topic) DedupeMode() DedupeMode {
	if t == TopicOrderCreate {
		return DedupeReject
	}
	return DedupeMerge
}

// Priority 队列优先级
type Priority int

const (
	PriorityHigh Priority = 1 // 库存与订单事件
	PriorityLow  Priority = 2 // 商品元数据更新、删除复核
)

// Priority 返回该主题的投递优先级
func (t Topic) Priority() Priority {
	switch t {
	case TopicInventoryUpdate, TopicOrderCreate:
		return PriorityHigh
	default:
		return PriorityLow
	}
}

// DedupeKey 派生去重键：f(topic, shopDomain, 主外部 ID)
func DedupeKey(t Topic, shopDomain string, primaryID string) string {
	return fmt.Sprintf("%s:%s:%s", t, shopDomain, primaryID)
}
