package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"shopsync/internal/model"
	"shopsync/pkg/errorutil"
	"shopsync/pkg/lmstfy"
	"shopsync/pkg/logger"
)

// memBroker 内存 broker（按队列顺序实现优先级）
type memBroker struct {
	mu   sync.Mutex
	seq  int
	jobs map[string][]*memJob
}

type memJob struct {
	id      string
	data    []byte
	readyAt time.Time
}

func newMemBroker() *memBroker {
	return &memBroker{jobs: make(map[string][]*memJob)}
}

func (b *memBroker) Publish(queue string, data []byte, delaySeconds uint32) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	job := &memJob{
		id:      fmt.Sprintf("job-%d", b.seq),
		data:    append([]byte(nil), data...),
		readyAt: time.Now().Add(time.Duration(delaySeconds) * time.Second),
	}
	b.jobs[queue] = append(b.jobs[queue], job)
	return job.id, nil
}

func (b *memBroker) Consume(timeout, _ time.Duration, queues ...string) (*lmstfy.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		if msg := b.tryPop(queues); msg != nil {
			return msg, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (b *memBroker) tryPop(queues []string) *lmstfy.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for _, q := range queues {
		for i, job := range b.jobs[q] {
			if job.readyAt.After(now) {
				continue
			}
			b.jobs[q] = append(b.jobs[q][:i], b.jobs[q][i+1:]...)
			return &lmstfy.Message{ID: job.id, Queue: q, Data: job.data}
		}
	}
	return nil
}

func (b *memBroker) Ack(string, string) error { return nil }

func (b *memBroker) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, jobs := range b.jobs {
		total += len(jobs)
	}
	return total
}

// publishWithDelay 测试里把秒级延迟压缩成毫秒，避免真实等待
type fastDelayBroker struct {
	*memBroker
}

func (b *fastDelayBroker) Publish(queue string, data []byte, delaySeconds uint32) (string, error) {
	id, err := b.memBroker.Publish(queue, data, 0)
	if err != nil {
		return "", err
	}
	if delaySeconds > 0 {
		b.mu.Lock()
		jobs := b.jobs[queue]
		jobs[len(jobs)-1].readyAt = time.Now().Add(time.Duration(delaySeconds) * time.Millisecond)
		b.mu.Unlock()
	}
	return id, nil
}

type fixture struct {
	queue  *Queue
	broker *fastDelayBroker
	rdb    *redis.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	broker := &fastDelayBroker{memBroker: newMemBroker()}
	q := New(broker, rdb, &Config{
		Name:            "shopsync_jobs",
		MaxAttempts:     3,
		BackoffBase:     2 * time.Second, // fastDelayBroker 下实际是 2ms
		RatePerSecond:   1000,
		DedupeRetention: time.Minute,
		CompletedKeep:   100,
		FailedKeep:      100,
		RetentionMaxAge: time.Hour,
	}, logger.NopLogger{})
	return &fixture{queue: q, broker: broker, rdb: rdb}
}

func inventoryEnvelope(key string, available int) *model.JobEnvelope {
	payload, _ := json.Marshal(&model.InventoryLevelPayload{InventoryItemID: "inv-1", Available: available})
	return model.NewJobEnvelope(model.TopicInventoryUpdate, "eu.myshopify.com", key, payload, 3)
}

func orderEnvelope(key string) *model.JobEnvelope {
	payload, _ := json.Marshal(&model.OrderCreatePayload{ID: "o-1"})
	return model.NewJobEnvelope(model.TopicOrderCreate, "eu.myshopify.com", key, payload, 3)
}

// dequeueJob 跳过合并/锁让位产生的空轮次
func dequeueJob(t *testing.T, q *Queue) *Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.Dequeue(context.Background(), 10*time.Millisecond, time.Minute)
		require.NoError(t, err)
		if job != nil {
			return job
		}
	}
	t.Fatal("timed out waiting for job")
	return nil
}

func TestMergeModeCoalescesPendingJobs(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	key := model.DedupeKey(model.TopicInventoryUpdate, "eu.myshopify.com", "inv-1")

	// 同 key 连续入队三次，broker 只产生一个任务
	require.NoError(t, fx.queue.Enqueue(ctx, inventoryEnvelope(key, 1)))
	require.NoError(t, fx.queue.Enqueue(ctx, inventoryEnvelope(key, 2)))
	require.NoError(t, fx.queue.Enqueue(ctx, inventoryEnvelope(key, 3)))
	require.Equal(t, 1, fx.broker.size())

	// 消费到的载荷是最新值
	job := dequeueJob(t, fx.queue)
	var payload model.InventoryLevelPayload
	require.NoError(t, json.Unmarshal(job.Envelope.Payload, &payload))
	require.Equal(t, 3, payload.Available)

	require.NoError(t, fx.queue.Complete(ctx, job))

	// 没有残留任务
	job2, err := fx.queue.Dequeue(ctx, 10*time.Millisecond, time.Minute)
	require.NoError(t, err)
	require.Nil(t, job2)
}

func TestMergeModeNewJobAfterDequeue(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	key := model.DedupeKey(model.TopicInventoryUpdate, "eu.myshopify.com", "inv-1")

	require.NoError(t, fx.queue.Enqueue(ctx, inventoryEnvelope(key, 1)))
	job := dequeueJob(t, fx.queue)

	// 任务出队后（处理中），同 key 新事件应产生新的 broker 任务
	require.NoError(t, fx.queue.Enqueue(ctx, inventoryEnvelope(key, 9)))
	require.Equal(t, 1, fx.broker.size())

	require.NoError(t, fx.queue.Complete(ctx, job))

	job2 := dequeueJob(t, fx.queue)
	var payload model.InventoryLevelPayload
	require.NoError(t, json.Unmarshal(job2.Envelope.Payload, &payload))
	require.Equal(t, 9, payload.Available)
	require.NoError(t, fx.queue.Complete(ctx, job2))
}

func TestRejectModeDropsDuplicates(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	key := model.DedupeKey(model.TopicOrderCreate, "eu.myshopify.com", "o-1")

	require.NoError(t, fx.queue.Enqueue(ctx, orderEnvelope(key)))
	require.ErrorIs(t, fx.queue.Enqueue(ctx, orderEnvelope(key)), ErrDuplicateJob)
	require.Equal(t, 1, fx.broker.size())

	// 不同 key 不受影响
	otherKey := model.DedupeKey(model.TopicOrderCreate, "eu.myshopify.com", "o-2")
	require.NoError(t, fx.queue.Enqueue(ctx, orderEnvelope(otherKey)))
}

func TestFailRetriesWithBackoffThenParks(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	key := model.DedupeKey(model.TopicOrderCreate, "eu.myshopify.com", "o-1")

	require.NoError(t, fx.queue.Enqueue(ctx, orderEnvelope(key)))

	// maxAttempts=3：两次重试后第三次失败停靠
	for attempt := 0; attempt < 3; attempt++ {
		job := dequeueJob(t, fx.queue)
		require.Equal(t, attempt, job.Envelope.Attempts)
		require.NoError(t, fx.queue.Fail(ctx, job, errorutil.Retriable("downstream unavailable")))
	}

	require.Equal(t, 0, fx.broker.size())

	failed, err := fx.queue.FailedJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, key, failed[0].Envelope.DedupeKey)
	require.Equal(t, 2, failed[0].Envelope.Attempts)

	job, err := fx.queue.Dequeue(ctx, 10*time.Millisecond, time.Minute)
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestNonRetriableErrorParksImmediately(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	key := model.DedupeKey(model.TopicOrderCreate, "eu.myshopify.com", "o-1")

	require.NoError(t, fx.queue.Enqueue(ctx, orderEnvelope(key)))
	job := dequeueJob(t, fx.queue)
	require.NoError(t, fx.queue.Fail(ctx, job, errorutil.NonRetriable("bad payload")))

	require.Equal(t, 0, fx.broker.size())
	failed, err := fx.queue.FailedJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
}

func TestInFlightLockDefersSameKey(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	key := model.DedupeKey(model.TopicInventoryUpdate, "eu.myshopify.com", "inv-1")

	require.NoError(t, fx.queue.Enqueue(ctx, inventoryEnvelope(key, 1)))
	job := dequeueJob(t, fx.queue)

	// 同 key 第二个任务在前者处理中，出队让位（延迟重投）
	require.NoError(t, fx.queue.Enqueue(ctx, inventoryEnvelope(key, 2)))
	deferred, err := fx.queue.Dequeue(ctx, 50*time.Millisecond, time.Minute)
	require.NoError(t, err)
	require.Nil(t, deferred)

	require.NoError(t, fx.queue.Complete(ctx, job))

	// 前者完成后重投的任务可以拿到锁，值是最新的
	job2 := dequeueJob(t, fx.queue)
	var payload model.InventoryLevelPayload
	require.NoError(t, json.Unmarshal(job2.Envelope.Payload, &payload))
	require.Equal(t, 2, payload.Available)
	require.NoError(t, fx.queue.Complete(ctx, job2))
}

func TestPriorityQueuesConsumeHighFirst(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// 低优先级先入队（商品更新），高优先级后入队（库存）
	productPayload, _ := json.Marshal(&model.ProductPayload{ID: "p-1"})
	lowEnv := model.NewJobEnvelope(model.TopicProductUpdate, "eu.myshopify.com",
		model.DedupeKey(model.TopicProductUpdate, "eu.myshopify.com", "p-1"), productPayload, 3)
	require.NoError(t, fx.queue.Enqueue(ctx, lowEnv))
	require.NoError(t, fx.queue.Enqueue(ctx, inventoryEnvelope(
		model.DedupeKey(model.TopicInventoryUpdate, "eu.myshopify.com", "inv-1"), 5)))

	job := dequeueJob(t, fx.queue)
	require.Equal(t, model.TopicInventoryUpdate, job.Envelope.Type)
	require.NoError(t, fx.queue.Complete(ctx, job))

	job = dequeueJob(t, fx.queue)
	require.Equal(t, model.TopicProductUpdate, job.Envelope.Type)
	require.NoError(t, fx.queue.Complete(ctx, job))
}

func TestRetentionListsAreBounded(t *testing.T) {
	fx := newFixture(t)
	fx.queue.cfg.CompletedKeep = 3
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := model.DedupeKey(model.TopicOrderCreate, "eu.myshopify.com", fmt.Sprintf("o-%d", i))
		require.NoError(t, fx.queue.Enqueue(ctx, orderEnvelope(key)))
		job := dequeueJob(t, fx.queue)
		require.NoError(t, fx.queue.Complete(ctx, job))
	}

	completed, err := fx.queue.CompletedJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, completed, 3)
}

func TestUnparseableMessageIsParked(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.broker.Publish("shopsync_jobs_high", []byte("{corrupt"), 0)
	require.NoError(t, err)

	job, err := fx.queue.Dequeue(ctx, 10*time.Millisecond, time.Minute)
	require.NoError(t, err)
	require.Nil(t, job)

	failed, err := fx.queue.FailedJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	require.Equal(t, 0, fx.broker.size())
}

func TestRateLimiterDelaysDequeuesInsteadOfDropping(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	broker := &fastDelayBroker{memBroker: newMemBroker()}
	q := New(broker, rdb, &Config{
		Name:            "shopsync_jobs",
		MaxAttempts:     3,
		BackoffBase:     2 * time.Second,
		RatePerSecond:   50,
		DedupeRetention: time.Minute,
		CompletedKeep:   100,
		FailedKeep:      100,
		RetentionMaxAge: time.Hour,
	}, logger.NopLogger{})

	ctx := context.Background()
	const total = 60
	for i := 0; i < total; i++ {
		key := model.DedupeKey(model.TopicOrderCreate, "eu.myshopify.com", fmt.Sprintf("o-%d", i))
		require.NoError(t, q.Enqueue(ctx, orderEnvelope(key)))
	}

	// 60 次出队，50/s 限速（突发 50）：超出突发的 10 次被延迟放行，
	// 任何一个任务都不能因限速被丢弃
	start := time.Now()
	consumed := 0
	for consumed < total {
		job, err := q.Dequeue(ctx, 10*time.Millisecond, time.Minute)
		require.NoError(t, err)
		if job == nil {
			continue
		}
		consumed++
		require.NoError(t, q.Complete(ctx, job))
	}
	elapsed := time.Since(start)

	require.Equal(t, total, consumed)
	require.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

// failingBroker 可开关的发布故障注入
type failingBroker struct {
	*fastDelayBroker
	mu          sync.Mutex
	failPublish bool
}

func (b *failingBroker) setFailPublish(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPublish = fail
}

func (b *failingBroker) Publish(queue string, data []byte, delaySeconds uint32) (string, error) {
	b.mu.Lock()
	fail := b.failPublish
	b.mu.Unlock()
	if fail {
		return "", errors.New("broker unavailable")
	}
	return b.fastDelayBroker.Publish(queue, data, delaySeconds)
}

func TestRequeuePublishFailureParksJob(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	broker := &failingBroker{fastDelayBroker: &fastDelayBroker{memBroker: newMemBroker()}}
	q := New(broker, rdb, &Config{
		Name:            "shopsync_jobs",
		MaxAttempts:     3,
		BackoffBase:     2 * time.Second,
		RatePerSecond:   1000,
		DedupeRetention: time.Minute,
		CompletedKeep:   100,
		FailedKeep:      100,
		RetentionMaxAge: time.Hour,
	}, logger.NopLogger{})

	ctx := context.Background()
	key := model.DedupeKey(model.TopicOrderCreate, "eu.myshopify.com", "o-1")
	require.NoError(t, q.Enqueue(ctx, orderEnvelope(key)))

	job := dequeueJob(t, q)

	// 重投时 broker 不可用：任务不得无痕丢失，必须停靠到失败留存区
	broker.setFailPublish(true)
	require.NoError(t, q.Fail(ctx, job, errorutil.Retriable("downstream unavailable")))

	failed, err := q.FailedJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, key, failed[0].Envelope.DedupeKey)
	require.Equal(t, 0, broker.size())
}

func TestEnqueueZeroCheckUsesMergeDedupe(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.queue.EnqueueZeroCheck(ctx, "v-1", 0))
	require.NoError(t, fx.queue.EnqueueZeroCheck(ctx, "v-1", 0))
	require.Equal(t, 1, fx.broker.size())

	job := dequeueJob(t, fx.queue)
	require.Equal(t, model.TopicZeroCheck, job.Envelope.Type)

	var payload model.ZeroCheckPayload
	require.NoError(t, json.Unmarshal(job.Envelope.Payload, &payload))
	require.Equal(t, "v-1", payload.VariantID)
	require.NoError(t, fx.queue.Complete(ctx, job))
}
