package webhook

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"shopsync/internal/model"
	"shopsync/internal/queue"
	"shopsync/pkg/ginx"
	"shopsync/pkg/logger"
	"shopsync/pkg/shopify"
)

// Receive Webhook 统一接收接口
// POST /webhooks/:source
// 验签不过一律 401；签名有效的请求即使载荷有问题也返回 200（平台会对非 2xx 重发）。
func (h *Handler) Receive(c *gin.Context) {
	ctx := context.WithValue(c.Request.Context(), logger.CtxKeyTraceID, uuid.New().String())

	signature := c.GetHeader(HeaderSignature)
	topicHeader := c.GetHeader(HeaderTopic)
	shopDomain := c.GetHeader(HeaderShopDomain)
	if signature == "" || topicHeader == "" || shopDomain == "" {
		ginx.Unauthorized(c, "missing required webhook headers")
		return
	}

	rawBody, err := c.GetRawData()
	if err != nil {
		h.logger.Warnf(ctx, "[Webhook] Read body failed: shop=%s, err=%v", shopDomain, err)
		ginx.Unauthorized(c, "unreadable request body")
		return
	}

	// 1. 验签（原始字节，解析之前）
	if !shopify.Verify(rawBody, signature, h.secret) {
		h.logger.Errorf(ctx, "[Webhook] Signature mismatch: shop=%s, topic=%s", shopDomain, topicHeader)
		ginx.Unauthorized(c, "invalid webhook signature")
		return
	}

	// 2. 解析主题（未知主题确认但不处理，避免平台无意义重发）
	topic, ok := model.ParseTopic(topicHeader)
	if !ok {
		h.logger.Warnf(ctx, "[Webhook] Unknown topic acknowledged: shop=%s, topic=%s", shopDomain, topicHeader)
		ginx.Success(c, gin.H{"accepted": false, "reason": "unknown topic"})
		return
	}

	// 3. 提取主外部 ID，派生去重键
	primaryID, err := model.PrimaryExternalID(topic, rawBody)
	if err != nil {
		h.logger.Warnf(ctx, "[Webhook] Malformed payload acknowledged: shop=%s, topic=%s, err=%v",
			shopDomain, topic, err)
		ginx.Success(c, gin.H{"accepted": false, "reason": "malformed payload"})
		return
	}
	dedupeKey := model.DedupeKey(topic, shopDomain, shopify.StripGID(primaryID))

	// 4. 入队
	env := model.NewJobEnvelope(topic, shopDomain, dedupeKey, rawBody, h.maxAttempts)
	if err := h.enqueuer.Enqueue(ctx, env); err != nil {
		if errors.Is(err, queue.ErrDuplicateJob) {
			h.logger.Infof(ctx, "[Webhook] Duplicate dropped: key=%s", dedupeKey)
			ginx.Success(c, gin.H{"accepted": false, "reason": "duplicate"})
			return
		}
		h.logger.Errorf(ctx, "[Webhook] Enqueue failed: key=%s, err=%v", dedupeKey, err)
		ginx.InternalError(c, "enqueue failed")
		return
	}

	h.logger.Infof(ctx, "[Webhook] Accepted: topic=%s, key=%s, job_id=%s", topic, dedupeKey, env.JobID)
	ginx.Success(c, gin.H{"accepted": true, "job_id": env.JobID})
}
