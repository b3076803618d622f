package common

import (
	"context"

	"shopsync/internal/business/reconcile"
	"shopsync/internal/model"
	"shopsync/pkg/logger"
)

// Deps Handler 依赖集合（Manager 启动时注入）
type Deps struct {
	Engine *reconcile.Engine
	Logger logger.Logger
}

// HandlerFactory Handler 构造函数类型
// 构造阶段完成载荷解析校验，解析失败返回不可重试错误。
type HandlerFactory func(env *model.JobEnvelope, deps *Deps) (Handler, error)

// Handler 业务处理器接口
type Handler interface {
	Process(ctx context.Context) error
}
