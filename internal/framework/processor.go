package framework

import (
	"context"
	"sync"
	"time"

	"shopsync/internal/queue"
	"shopsync/pkg/logger"
)

// Processor 处理器：接收任务，调用业务处理函数并执行回执
type Processor struct {
	cfg        *ProcessorConfig
	proc       Proc
	sink       Sink
	logger     logger.Logger
	shutdownCh chan struct{} // 专门的退出信号通道
	wg         sync.WaitGroup
}

// NewProcessor 创建处理器
func NewProcessor(cfg *ProcessorConfig, proc Proc, sink Sink, log logger.Logger) *Processor {
	return &Processor{
		cfg:        cfg,
		proc:       proc,
		sink:       sink,
		logger:     log,
		shutdownCh: make(chan struct{}),
	}
}

// Start 启动处理协程
func (p *Processor) Start(ctx context.Context, inputChan <-chan *queue.Job) error {
	p.logger.Infof(ctx, "[Processor] Starting with %d workers", p.cfg.Concurrency)

	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := i
		p.wg.Add(1)
		go p.loop(ctx, workerID, inputChan)
	}

	return nil
}

// SignalShutdown 通知 Processor 准备退出（进入 Drain 模式）
func (p *Processor) SignalShutdown() {
	p.logger.Infof(context.Background(), "[Processor] Shutdown signal received")
	close(p.shutdownCh)
}

// Wait 等待所有处理协程退出
func (p *Processor) Wait() {
	p.wg.Wait()
	p.logger.Infof(context.Background(), "[Processor] All workers exited")
}

// loop 处理循环（单个处理协程）
func (p *Processor) loop(ctx context.Context, workerID int, inputChan <-chan *queue.Job) {
	defer p.wg.Done()
	p.logger.Infof(ctx, "[Processor-%d] Started", workerID)

	for {
		select {
		// A. 正常业务处理
		case job := <-inputChan:
			p.process(ctx, job, workerID)

		// B. Drain 模式：处理完剩余任务再退出
		case <-p.shutdownCh:
			p.logger.Infof(ctx, "[Processor-%d] Entering DRAIN mode", workerID)
			count := 0
			for {
				select {
				case job := <-inputChan:
					p.process(ctx, job, workerID)
					count++
				default:
					p.logger.Infof(ctx, "[Processor-%d] Drained %d jobs, exiting", workerID, count)
					return
				}
			}
		}
	}
}

// process 处理单个任务并执行回执
func (p *Processor) process(ctx context.Context, job *queue.Job, workerID int) {
	if job == nil {
		return
	}

	startTime := time.Now()

	// 1. 创建超时控制的 Context，注入元信息
	procCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	procCtx = context.WithValue(procCtx, logger.CtxKeyWorkerID, workerID)

	p.logger.Infof(procCtx, "[Processor-%d] Processing job: %s type=%s attempts=%d",
		workerID, job.Envelope.JobID, job.Envelope.Type, job.Envelope.Attempts)

	// 2. 调用业务处理函数
	procErr := p.proc(procCtx, job)

	// 3. 执行回执：成功确认，失败按可重试标记重试或入失败区
	// 回执不复用 procCtx，处理超时不应该拖垮回执本身
	reportCtx := context.WithValue(ctx, logger.CtxKeyWorkerID, workerID)
	if procErr != nil {
		if err := p.sink.Fail(reportCtx, job, procErr); err != nil {
			p.logger.Errorf(reportCtx, "[Processor-%d] Fail report error: job=%s, err: %v",
				workerID, job.Envelope.JobID, err)
		}
	} else {
		if err := p.sink.Complete(reportCtx, job); err != nil {
			p.logger.Errorf(reportCtx, "[Processor-%d] Complete report error: job=%s, err: %v",
				workerID, job.Envelope.JobID, err)
		}
	}

	duration := time.Since(startTime)
	p.logger.Infof(reportCtx, "[Processor-%d] Job processed: %s, success: %v, duration: %v",
		workerID, job.Envelope.JobID, procErr == nil, duration)
}
