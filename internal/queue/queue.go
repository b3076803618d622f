package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"shopsync/internal/model"
	"shopsync/pkg/errorutil"
	"shopsync/pkg/lmstfy"
	"shopsync/pkg/logger"
)

// ErrDuplicateJob 拒绝模式下同 key 任务仍在保留窗口内
var ErrDuplicateJob = errors.New("duplicate job: dedupe key already seen")

// Broker 底层消息代理（lmstfy 适配；测试用内存实现）
type Broker interface {
	// Publish 发布消息（delay 秒后可消费），返回 broker 任务 ID
	Publish(queue string, data []byte, delaySeconds uint32) (string, error)

	// Consume 按优先级从多个队列拉取，超时未拉到返回 nil, nil
	Consume(timeout time.Duration, ttr time.Duration, queues ...string) (*lmstfy.Message, error)

	// Ack 确认消息（删除消息）
	Ack(queue string, jobID string) error
}

// redis 状态键
const (
	keyPayloadPrefix = "queue:payload:" // 合并模式最新载荷槽位（last-value-wins）
	keyPendingPrefix = "queue:pending:" // 合并模式待处理标记
	keyDedupePrefix  = "queue:dedupe:"  // 拒绝模式去重标记
	keyLockPrefix    = "queue:lock:"    // 同 key 在途互斥锁
	keyCompletedList = "queue:completed"
	keyFailedList    = "queue:failed"
)

// Config 队列策略配置
type Config struct {
	Name            string        // 队列名（派生 _high / _low 两级优先级队列）
	MaxAttempts     int           // 单任务最大执行次数
	BackoffBase     time.Duration // 退避基数，延迟 = base * 2^(attempts-1)
	RatePerSecond   float64       // 消费端全局限速
	DedupeRetention time.Duration // 去重/待处理标记保留时间
	CompletedKeep   int           // 完成记录留存条数
	FailedKeep      int           // 失败记录留存条数
	RetentionMaxAge time.Duration // 留存记录最大时长
}

// Queue 任务队列
// 入队做去重准入（合并或拒绝），消费侧做全局限速与同 key 互斥，
// 失败走退避重投，重试耗尽后停靠到失败留存区。
type Queue struct {
	broker  Broker
	rdb     redis.Cmdable
	cfg     *Config
	limiter *rate.Limiter
	logger  logger.Logger
}

// Job 出队任务（信封 + broker 侧句柄）
type Job struct {
	Envelope *model.JobEnvelope

	brokerQueue string
	brokerID    string
}

// CompletedRecord 完成留存记录
type CompletedRecord struct {
	JobID      string      `json:"job_id"`
	Type       model.Topic `json:"type"`
	DedupeKey  string      `json:"dedupe_key"`
	Attempts   int         `json:"attempts"`
	FinishedAt int64       `json:"finished_at"`
}

// FailedRecord 终态失败留存记录
type FailedRecord struct {
	Envelope *model.JobEnvelope `json:"envelope"`
	Error    string             `json:"error"`
	FailedAt int64              `json:"failed_at"`
}

// New 创建队列实例
func New(broker Broker, rdb redis.Cmdable, cfg *Config, log logger.Logger) *Queue {
	burst := int(cfg.RatePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Queue{
		broker:  broker,
		rdb:     rdb,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		logger:  log,
	}
}

// queueFor 按主题优先级选择队列
func (q *Queue) queueFor(t model.Topic) string {
	if t.Priority() == model.PriorityHigh {
		return q.cfg.Name + "_high"
	}
	return q.cfg.Name + "_low"
}

// queues 消费顺序：高优先级在前
func (q *Queue) queues() []string {
	return []string{q.cfg.Name + "_high", q.cfg.Name + "_low"}
}

// Enqueue 任务准入
// 合并模式：最新载荷写入槽位，仅首个入队者发布 broker 任务；
// 拒绝模式：保留窗口内同 key 任务直接拒绝。
func (q *Queue) Enqueue(ctx context.Context, env *model.JobEnvelope) error {
	switch env.Type.DedupeMode() {
	case model.DedupeMerge:
		return q.enqueueMerge(ctx, env)
	default:
		return q.enqueueReject(ctx, env)
	}
}

func (q *Queue) enqueueMerge(ctx context.Context, env *model.JobEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal job envelope failed: %w", err)
	}

	// 1. 最新载荷覆盖写入槽位（last-value-wins）
	if err := q.rdb.Set(ctx, keyPayloadPrefix+env.DedupeKey, data, q.cfg.DedupeRetention).Err(); err != nil {
		return fmt.Errorf("write payload slot failed: %w", err)
	}

	// 2. 抢待处理标记，抢到的入队者负责发布 broker 任务
	ok, err := q.rdb.SetNX(ctx, keyPendingPrefix+env.DedupeKey, env.JobID, q.cfg.DedupeRetention).Result()
	if err != nil {
		return fmt.Errorf("set pending marker failed: %w", err)
	}
	if !ok {
		q.logger.Infof(ctx, "[Queue] Coalesced into pending job: key=%s", env.DedupeKey)
		return nil
	}

	// 3. 发布裸信封（载荷走槽位，消费时回填）
	bare := *env
	bare.Payload = nil
	if err := q.publish(&bare, 0); err != nil {
		// 发布失败回滚标记，避免 key 永久卡死
		q.rdb.Del(ctx, keyPendingPrefix+env.DedupeKey)
		return err
	}

	q.logger.Debugf(ctx, "[Queue] Enqueued: key=%s, type=%s", env.DedupeKey, env.Type)
	return nil
}

func (q *Queue) enqueueReject(ctx context.Context, env *model.JobEnvelope) error {
	ok, err := q.rdb.SetNX(ctx, keyDedupePrefix+env.DedupeKey, env.JobID, q.cfg.DedupeRetention).Result()
	if err != nil {
		return fmt.Errorf("set dedupe marker failed: %w", err)
	}
	if !ok {
		return ErrDuplicateJob
	}

	if err := q.publish(env, 0); err != nil {
		q.rdb.Del(ctx, keyDedupePrefix+env.DedupeKey)
		return err
	}

	q.logger.Debugf(ctx, "[Queue] Enqueued: key=%s, type=%s", env.DedupeKey, env.Type)
	return nil
}

// EnqueueZeroCheck 投递库存归零删除复核任务（低优先级，合并模式）
func (q *Queue) EnqueueZeroCheck(ctx context.Context, variantID string, observedStock int) error {
	payload, err := json.Marshal(&model.ZeroCheckPayload{
		VariantID:     variantID,
		ObservedStock: observedStock,
	})
	if err != nil {
		return fmt.Errorf("marshal zero check payload failed: %w", err)
	}

	key := model.DedupeKey(model.TopicZeroCheck, "", variantID)
	env := model.NewJobEnvelope(model.TopicZeroCheck, "", key, payload, q.cfg.MaxAttempts)
	return q.Enqueue(ctx, env)
}

// Dequeue 拉取一个任务
// 限速 → 消费 → 合并模式回填最新载荷 → 抢同 key 互斥锁。
// 返回 nil, nil 表示本轮没有可处理任务（超时 / 已合并 / 锁冲突让位）。
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration, ttr time.Duration) (*Job, error) {
	// 全局限速：延迟拉取而非丢弃
	if err := q.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	msg, err := q.broker.Consume(timeout, ttr, q.queues()...)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}

	var env model.JobEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		// 毒丸消息：停靠后确认，避免无限重投
		q.logger.Errorf(ctx, "[Queue] Unparseable message parked: broker_id=%s, err=%v", msg.ID, err)
		q.parkRaw(ctx, msg, err)
		_ = q.broker.Ack(msg.Queue, msg.ID)
		return nil, nil
	}

	job := &Job{Envelope: &env, brokerQueue: msg.Queue, brokerID: msg.ID}

	// 合并模式裸信封：先释放待处理标记（此后新事件会发布新任务），再取最新载荷
	if env.Type.DedupeMode() == model.DedupeMerge && len(env.Payload) == 0 {
		q.rdb.Del(ctx, keyPendingPrefix+env.DedupeKey)

		val, err := q.rdb.GetDel(ctx, keyPayloadPrefix+env.DedupeKey).Bytes()
		if errors.Is(err, redis.Nil) {
			// 载荷已被更早的同 key 任务顺带处理
			q.logger.Debugf(ctx, "[Queue] Empty payload slot, job already merged: key=%s", env.DedupeKey)
			_ = q.broker.Ack(msg.Queue, msg.ID)
			return nil, nil
		}
		if err != nil {
			// redis 故障：不确认，靠 broker TTR 重投
			return nil, fmt.Errorf("read payload slot failed: %w", err)
		}

		var latest model.JobEnvelope
		if err := json.Unmarshal(val, &latest); err != nil {
			q.parkRaw(ctx, msg, err)
			_ = q.broker.Ack(msg.Queue, msg.ID)
			return nil, nil
		}
		env.Payload = latest.Payload
		env.RequestID = latest.RequestID
	}

	// 同 key 在途互斥：抢不到锁说明同 key 任务正在处理，延迟重投排在其后
	ok, err := q.rdb.SetNX(ctx, keyLockPrefix+env.DedupeKey, env.JobID, ttr).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire job lock failed: %w", err)
	}
	if !ok {
		q.logger.Infof(ctx, "[Queue] Key in flight, requeue behind: key=%s", env.DedupeKey)
		q.requeue(ctx, &env, uint32(q.cfg.BackoffBase.Seconds()))
		_ = q.broker.Ack(msg.Queue, msg.ID)
		return nil, nil
	}

	return job, nil
}

// Complete 任务成功：确认、解锁、写完成留存
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	env := job.Envelope

	q.rdb.Del(ctx, keyLockPrefix+env.DedupeKey)
	if err := q.broker.Ack(job.brokerQueue, job.brokerID); err != nil {
		return err
	}

	record, err := json.Marshal(&CompletedRecord{
		JobID:      env.JobID,
		Type:       env.Type,
		DedupeKey:  env.DedupeKey,
		Attempts:   env.Attempts,
		FinishedAt: time.Now().Unix(),
	})
	if err == nil {
		q.pushBounded(ctx, keyCompletedList, record, q.cfg.CompletedKeep)
	}

	return nil
}

// Fail 任务失败：可重试且未超限 → 退避重投；否则停靠到失败留存区
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	env := job.Envelope
	e := errorutil.Wrap(cause)

	if e.Retryable && env.Attempts+1 < env.MaxAttempts {
		env.Attempts++
		delay := q.backoffDelay(env.Attempts)
		q.logger.Warnf(ctx, "[Queue] Job failed, retrying: key=%s, attempts=%d/%d, delay=%s, err=%v",
			env.DedupeKey, env.Attempts, env.MaxAttempts, delay, cause)
		q.requeue(ctx, env, uint32(delay.Seconds()))
	} else {
		q.logger.Errorf(ctx, "[Queue] Job parked after %d attempts: key=%s, err=%v",
			env.Attempts+1, env.DedupeKey, cause)
		q.park(ctx, env, e)
	}

	q.rdb.Del(ctx, keyLockPrefix+env.DedupeKey)
	return q.broker.Ack(job.brokerQueue, job.brokerID)
}

// backoffDelay 指数退避：base * 2^(attempts-1)（2s → 4s → 8s）
func (q *Queue) backoffDelay(attempts int) time.Duration {
	delay := q.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

// requeue 重投任务
// 合并模式：载荷放回槽位，槽位已有更新值则让位（丢弃旧值）；
// 拒绝模式：信封原样延迟重投。
// 重投发布失败时任务停靠到失败留存区，保证不无痕丢失。
func (q *Queue) requeue(ctx context.Context, env *model.JobEnvelope, delaySeconds uint32) {
	if env.Type.DedupeMode() != model.DedupeMerge {
		if err := q.publish(env, delaySeconds); err != nil {
			q.logger.Errorf(ctx, "[Queue] Requeue publish failed, parking: key=%s, err=%v", env.DedupeKey, err)
			q.park(ctx, env, err)
		}
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		q.logger.Errorf(ctx, "[Queue] Requeue marshal failed, parking: key=%s, err=%v", env.DedupeKey, err)
		q.park(ctx, env, err)
		return
	}

	ok, err := q.rdb.SetNX(ctx, keyPayloadPrefix+env.DedupeKey, data, q.cfg.DedupeRetention).Result()
	if err != nil {
		q.logger.Errorf(ctx, "[Queue] Requeue payload slot failed: key=%s, err=%v", env.DedupeKey, err)
		return
	}
	if !ok {
		// 槽位已有更新载荷在排队，旧值让位
		q.logger.Infof(ctx, "[Queue] Newer payload queued, dropping stale requeue: key=%s", env.DedupeKey)
		return
	}

	pending, err := q.rdb.SetNX(ctx, keyPendingPrefix+env.DedupeKey, env.JobID, q.cfg.DedupeRetention).Result()
	if err != nil || !pending {
		// 标记已在：已有 broker 任务会消费槽位
		return
	}

	bare := *env
	bare.Payload = nil
	if err := q.publish(&bare, delaySeconds); err != nil {
		// 槽位保留载荷，后续同 key 事件仍可带着它重新发布
		q.rdb.Del(ctx, keyPendingPrefix+env.DedupeKey)
		q.logger.Errorf(ctx, "[Queue] Requeue publish failed, parking: key=%s, err=%v", env.DedupeKey, err)
		q.park(ctx, env, err)
	}
}

func (q *Queue) publish(env *model.JobEnvelope, delaySeconds uint32) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal job envelope failed: %w", err)
	}
	if _, err := q.broker.Publish(q.queueFor(env.Type), data, delaySeconds); err != nil {
		return fmt.Errorf("broker publish failed: %w", err)
	}
	return nil
}

// park 任务进入终态失败留存区（人工排查入口）
func (q *Queue) park(ctx context.Context, env *model.JobEnvelope, cause error) {
	record, err := json.Marshal(&FailedRecord{
		Envelope: env,
		Error:    cause.Error(),
		FailedAt: time.Now().Unix(),
	})
	if err != nil {
		q.logger.Errorf(ctx, "[Queue] Park marshal failed: key=%s", env.DedupeKey)
		return
	}
	q.pushBounded(ctx, keyFailedList, record, q.cfg.FailedKeep)
}

func (q *Queue) parkRaw(ctx context.Context, msg *lmstfy.Message, cause error) {
	record, err := json.Marshal(map[string]interface{}{
		"broker_id": msg.ID,
		"raw":       string(msg.Data),
		"error":     cause.Error(),
		"failed_at": time.Now().Unix(),
	})
	if err != nil {
		return
	}
	q.pushBounded(ctx, keyFailedList, record, q.cfg.FailedKeep)
}

// pushBounded 留存记录按条数和时长双重约束
func (q *Queue) pushBounded(ctx context.Context, key string, record []byte, keep int) {
	pipe := q.rdb.Pipeline()
	pipe.LPush(ctx, key, record)
	pipe.LTrim(ctx, key, 0, int64(keep-1))
	pipe.Expire(ctx, key, q.cfg.RetentionMaxAge)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Warnf(ctx, "[Queue] Retention push failed: key=%s, err=%v", key, err)
	}
}

// FailedJobs 读取失败留存记录（观测）
func (q *Queue) FailedJobs(ctx context.Context, limit int) ([]*FailedRecord, error) {
	vals, err := q.rdb.LRange(ctx, keyFailedList, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	records := make([]*FailedRecord, 0, len(vals))
	for _, v := range vals {
		var r FailedRecord
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			continue
		}
		records = append(records, &r)
	}
	return records, nil
}

// CompletedJobs 读取完成留存记录（观测）
func (q *Queue) CompletedJobs(ctx context.Context, limit int) ([]*CompletedRecord, error) {
	vals, err := q.rdb.LRange(ctx, keyCompletedList, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	records := make([]*CompletedRecord, 0, len(vals))
	for _, v := range vals {
		var r CompletedRecord
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			continue
		}
		records = append(records, &r)
	}
	return records, nil
}
