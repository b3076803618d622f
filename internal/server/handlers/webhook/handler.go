package webhook

import (
	"context"

	"shopsync/internal/model"
	"shopsync/pkg/logger"
)

// Webhook 请求头约定
const (
	HeaderSignature  = "X-Shop-Signature"
	HeaderTopic      = "X-Topic"
	HeaderShopDomain = "X-Shop-Domain"
)

// Enqueuer 任务入队接口
type Enqueuer interface {
	Enqueue(ctx context.Context, env *model.JobEnvelope) error
}

// Handler Webhook HTTP 处理器
type Handler struct {
	enqueuer    Enqueuer
	secret      string
	maxAttempts int
	logger      logger.Logger
}

// NewHandler 创建 Webhook 处理器实例
func NewHandler(enqueuer Enqueuer, secret string, maxAttempts int, log logger.Logger) *Handler {
	return &Handler{
		enqueuer:    enqueuer,
		secret:      secret,
		maxAttempts: maxAttempts,
		logger:      log,
	}
}
