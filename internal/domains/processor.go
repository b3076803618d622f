package domains

import (
	"context"
	"fmt"
	"time"

	"shopsync/internal/domains/common"
	"shopsync/internal/framework"
	"shopsync/internal/queue"
	"shopsync/pkg/errorutil"
	"shopsync/pkg/logger"
)

// GetProcess 返回核心处理函数（注入到 Processor）
// 分发失败与 panic 都标记为不可重试，由队列直接入失败区。
func GetProcess(deps *common.Deps, log logger.Logger) framework.Proc {
	return func(ctx context.Context, job *queue.Job) (procErr error) {
		startTime := time.Now()
		env := job.Envelope

		// 1. 注入元信息到 Context
		ctx = context.WithValue(ctx, logger.CtxKeyTraceID, env.RequestID)
		ctx = context.WithValue(ctx, logger.CtxKeyTopic, string(env.Type))
		ctx = context.WithValue(ctx, logger.CtxKeyDedupeKey, env.DedupeKey)

		log.Infof(ctx, "[GetProcess] Processing job: topic=%s, job_id=%s, shop=%s",
			env.Type, env.JobID, env.ShopDomain)

		// 2. 捕获 Handler panic
		defer func() {
			if r := recover(); r != nil {
				log.Errorf(ctx, "[GetProcess] handler panic: %v", r)
				procErr = errorutil.NonRetriableWithDetails("handler panic", fmt.Sprintf("%v", r))
			}
		}()

		// 3. 从 HandlerMap 获取 Handler
		handlerFunc, ok := HandlerMap[env.Type]
		if !ok {
			log.Errorf(ctx, "[GetProcess] handler not found for topic: %s", env.Type)
			return errorutil.NonRetriable("handler not found")
		}

		// 4. 构造 Handler（解析校验失败不重试）
		handler, err := handlerFunc(env, deps)
		if err != nil {
			log.Errorf(ctx, "[GetProcess] handler creation failed: %v", err)
			return err
		}

		// 5. 执行业务处理
		procErr = handler.Process(ctx)

		duration := time.Since(startTime)
		log.Infof(ctx, "[GetProcess] Processing complete: job_id=%s, success=%v, duration=%v",
			env.JobID, procErr == nil, duration)

		return procErr
	}
}
