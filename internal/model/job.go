package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobEnvelope 队列任务信封
// 合并模式入队时 Payload 为空，真实载荷存放在 redis 最新值槽位，
// 消费侧取出后回填。
type JobEnvelope struct {
	JobID       string          `json:"job_id"`
	Type        Topic           `json:"type"`
	ShopDomain  string          `json:"shop_domain"`
	DedupeKey   string          `json:"dedupe_key"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RequestID   string          `json:"request_id"`
	EnqueuedAt  int64           `json:"enqueued_at"`
}

// NewJobEnvelope 构造任务信封
func NewJobEnvelope(t Topic, shopDomain string, dedupeKey string, payload []byte, maxAttempts int) *JobEnvelope {
	return &JobEnvelope{
		JobID:       uuid.New().String(),
		Type:        t,
		ShopDomain:  shopDomain,
		DedupeKey:   dedupeKey,
		Payload:     payload,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		RequestID:   uuid.New().String(),
		EnqueuedAt:  time.Now().Unix(),
	}
}
