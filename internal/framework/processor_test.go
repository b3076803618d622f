package framework

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shopsync/internal/model"
	"shopsync/internal/queue"
	"shopsync/pkg/errorutil"
	"shopsync/pkg/logger"
)

type recordingSink struct {
	mu        sync.Mutex
	completed []string
	failed    []string
	failErrs  []error
}

func (s *recordingSink) Complete(_ context.Context, job *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, job.Envelope.JobID)
	return nil
}

func (s *recordingSink) Fail(_ context.Context, job *queue.Job, procErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, job.Envelope.JobID)
	s.failErrs = append(s.failErrs, procErr)
	return nil
}

func (s *recordingSink) lastFailErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failErrs) == 0 {
		return nil
	}
	return s.failErrs[len(s.failErrs)-1]
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed), len(s.failed)
}

func testJob(t model.Topic) *queue.Job {
	env := model.NewJobEnvelope(t, "eu.myshopify.com", "key", []byte(`{}`), 3)
	return &queue.Job{Envelope: env}
}

func TestProcessorReportsSuccessAndFailure(t *testing.T) {
	sink := &recordingSink{}
	proc := func(_ context.Context, job *queue.Job) error {
		if job.Envelope.Type == model.TopicOrderCreate {
			return errorutil.Retriable("downstream unavailable")
		}
		return nil
	}

	p := NewProcessor(&ProcessorConfig{Concurrency: 2, BufferSize: 8, Timeout: time.Second}, proc, sink, logger.NopLogger{})
	inputChan := make(chan *queue.Job, 8)
	require.NoError(t, p.Start(context.Background(), inputChan))

	inputChan <- testJob(model.TopicInventoryUpdate)
	inputChan <- testJob(model.TopicOrderCreate)
	inputChan <- testJob(model.TopicInventoryUpdate)

	require.Eventually(t, func() bool {
		completed, failed := sink.counts()
		return completed == 2 && failed == 1
	}, 2*time.Second, 10*time.Millisecond)

	p.SignalShutdown()
	p.Wait()
}

func TestProcessorTimeoutBoundsSlowHandler(t *testing.T) {
	sink := &recordingSink{}
	// 处理函数一直阻塞，只能被处理超时打断
	proc := func(ctx context.Context, _ *queue.Job) error {
		<-ctx.Done()
		return ctx.Err()
	}

	p := NewProcessor(&ProcessorConfig{Concurrency: 1, BufferSize: 1, Timeout: 20 * time.Millisecond}, proc, sink, logger.NopLogger{})
	inputChan := make(chan *queue.Job, 1)
	require.NoError(t, p.Start(context.Background(), inputChan))

	inputChan <- testJob(model.TopicInventoryUpdate)

	// 超时后任务作为普通失败走 Sink.Fail，带截止超时错误
	require.Eventually(t, func() bool {
		_, failed := sink.counts()
		return failed == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, sink.lastFailErr(), context.DeadlineExceeded)

	p.SignalShutdown()
	p.Wait()
}

func TestProcessorDrainsBufferedJobsOnShutdown(t *testing.T) {
	sink := &recordingSink{}
	proc := func(_ context.Context, _ *queue.Job) error { return nil }

	p := NewProcessor(&ProcessorConfig{Concurrency: 1, BufferSize: 16, Timeout: time.Second}, proc, sink, logger.NopLogger{})
	inputChan := make(chan *queue.Job, 16)

	for i := 0; i < 10; i++ {
		inputChan <- testJob(model.TopicProductUpdate)
	}

	require.NoError(t, p.Start(context.Background(), inputChan))
	p.SignalShutdown()
	p.Wait()

	completed, failed := sink.counts()
	require.Equal(t, 10, completed)
	require.Zero(t, failed)
}
