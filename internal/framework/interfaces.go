package framework

import (
	"context"
	"time"

	"shopsync/internal/queue"
)

// Source 任务源（队列适配，Dequeue 内部完成限速与去重解析）
type Source interface {
	Dequeue(ctx context.Context, timeout, ttr time.Duration) (*queue.Job, error)
}

// Sink 任务回执：成功确认，失败走重试/失败区判定
type Sink interface {
	Complete(ctx context.Context, job *queue.Job) error
	Fail(ctx context.Context, job *queue.Job, procErr error) error
}

// Proc 业务处理函数
// 返回 nil 视为成功，返回错误按 errorutil 的可重试标记决定重试或入失败区。
type Proc func(ctx context.Context, job *queue.Job) error
