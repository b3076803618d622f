package framework

import (
	"context"
	"sync"
	"time"

	"shopsync/internal/queue"
	"shopsync/pkg/logger"
)

// Subscriber 订阅者：从队列拉取任务，转发给 Processor
type Subscriber struct {
	cfg        *SubscriberConfig
	source     Source
	logger     logger.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewSubscriber 创建订阅者
func NewSubscriber(cfg *SubscriberConfig, source Source, log logger.Logger) *Subscriber {
	return &Subscriber{
		cfg:    cfg,
		source: source,
		logger: log,
	}
}

// Start 启动订阅循环
func (s *Subscriber) Start(parentCtx context.Context, inputChan chan<- *queue.Job) error {
	// 核心：从父 Context 派生子 Context
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancelFunc = cancel

	s.logger.Infof(ctx, "[Subscriber] Starting with %d workers", s.cfg.Concurrency)

	for i := 0; i < s.cfg.Concurrency; i++ {
		workerID := i
		s.wg.Add(1)
		go s.loop(ctx, workerID, inputChan)
	}

	return nil
}

// Stop 停止订阅（不再拉取新任务）
func (s *Subscriber) Stop() {
	s.logger.Infof(context.Background(), "[Subscriber] Stopping...")
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
}

// Wait 等待所有订阅协程退出
func (s *Subscriber) Wait() {
	s.wg.Wait()
	s.logger.Infof(context.Background(), "[Subscriber] All workers exited")
}

// loop 订阅循环（单个拉取协程）
func (s *Subscriber) loop(ctx context.Context, workerID int, inputChan chan<- *queue.Job) {
	defer s.wg.Done()
	s.logger.Infof(ctx, "[Subscriber-%d] Started", workerID)

	for {
		// 1. 拉取任务（限速与去重解析在队列内完成）
		job, err := s.source.Dequeue(ctx, s.cfg.Timeout, s.cfg.TTR)
		if err != nil {
			// 容错：网络抖动不退出，只记录日志
			s.logger.Warnf(ctx, "[Subscriber-%d] Dequeue error: %v, retrying...", workerID, err)

			select {
			case <-ctx.Done():
				s.logger.Infof(ctx, "[Subscriber-%d] Context cancelled, exiting", workerID)
				return
			case <-time.After(s.cfg.ErrorBackoff):
				continue
			}
		}

		// nil 任务（超时未拉到或被并发合并吃掉），继续循环
		if job == nil {
			select {
			case <-ctx.Done():
				s.logger.Infof(ctx, "[Subscriber-%d] Context cancelled, exiting", workerID)
				return
			default:
				continue
			}
		}

		// 2. 发送给 Processor（防死锁设计）
		select {
		case inputChan <- job:
			s.logger.Debugf(ctx, "[Subscriber-%d] Job sent: %s", workerID, job.Envelope.JobID)

		case <-ctx.Done():
			// Context 取消，丢弃任务退出；TTR 到期后队列会重新投递
			s.logger.Warnf(ctx, "[Subscriber-%d] Dropping job due to shutdown: %s", workerID, job.Envelope.JobID)
			return
		}
	}
}
