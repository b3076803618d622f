package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ChannelVariantDeleted 变体删除事件频道
// 下游 CRUD / 通知服务订阅该频道感知删除。
const ChannelVariantDeleted = "variant:deleted"

// NewClient 创建 Redis 客户端
func NewClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// VariantDeletedEvent 变体删除事件
type VariantDeletedEvent struct {
	VariantID string `json:"variant_id"`
	SKU       string `json:"sku"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// EventPublisher 删除事件发布器
type EventPublisher struct {
	client *redis.Client
}

// NewEventPublisher 创建发布器
func NewEventPublisher(client *redis.Client) *EventPublisher {
	return &EventPublisher{client: client}
}

// PublishVariantDeleted 发布变体删除事件
func (p *EventPublisher) PublishVariantDeleted(ctx context.Context, event *VariantDeletedEvent) error {
	msgJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, ChannelVariantDeleted, msgJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Subscribe 订阅频道（测试和下游消费用）
func (p *EventPublisher) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return p.client.Subscribe(ctx, channel)
}
