package admin

import (
	"context"

	"github.com/gin-gonic/gin"

	"shopsync/internal/queue"
	"shopsync/pkg/ginx"
	"shopsync/pkg/logger"
)

const defaultListLimit = 50

// listJobsQuery 留存记录查询参数
type listJobsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// JobStore 任务留存记录读取接口
type JobStore interface {
	FailedJobs(ctx context.Context, limit int) ([]*queue.FailedRecord, error)
	CompletedJobs(ctx context.Context, limit int) ([]*queue.CompletedRecord, error)
}

// JobsHandler 任务观测 HTTP 处理器
type JobsHandler struct {
	store  JobStore
	logger logger.Logger
}

// NewJobsHandler 创建任务观测处理器实例
func NewJobsHandler(store JobStore, log logger.Logger) *JobsHandler {
	return &JobsHandler{store: store, logger: log}
}

// ListFailed 查询终态失败任务
// GET /api/v1/jobs/failed?limit=50
func (h *JobsHandler) ListFailed(c *gin.Context) {
	limit, ok := bindLimit(c)
	if !ok {
		return
	}
	records, err := h.store.FailedJobs(c.Request.Context(), limit)
	if err != nil {
		h.logger.Errorf(c.Request.Context(), "[Admin] List failed jobs error: %v", err)
		ginx.InternalError(c, "list failed jobs error")
		return
	}
	ginx.Success(c, gin.H{"jobs": records, "count": len(records)})
}

// ListCompleted 查询最近完成任务
// GET /api/v1/jobs/completed?limit=50
func (h *JobsHandler) ListCompleted(c *gin.Context) {
	limit, ok := bindLimit(c)
	if !ok {
		return
	}
	records, err := h.store.CompletedJobs(c.Request.Context(), limit)
	if err != nil {
		h.logger.Errorf(c.Request.Context(), "[Admin] List completed jobs error: %v", err)
		ginx.InternalError(c, "list completed jobs error")
		return
	}
	ginx.Success(c, gin.H{"jobs": records, "count": len(records)})
}

// bindLimit 校验查询参数，非法 limit 返回 400（带字段级详情）
func bindLimit(c *gin.Context) (int, bool) {
	var q listJobsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return 0, false
	}
	if q.Limit == 0 {
		return defaultListLimit, true
	}
	return q.Limit, true
}
