package lmstfy

import (
	"fmt"
	"time"

	"github.com/bitleak/lmstfy/client"
)

// 发布参数：TTL 内未被消费的消息作废；tries 是 broker 层的投递次数
// （worker 崩溃时靠 TTR 超时重新投递），业务重试由队列自己记账。
const (
	defaultTTL   = uint32(86400)
	defaultTries = uint16(3)
)

// Message 队列消息
type Message struct {
	ID    string
	Queue string
	Data  []byte
}

// Client Lmstfy 客户端封装
type Client struct {
	cli       *client.LmstfyClient
	namespace string
}

// NewClient 创建 Lmstfy 客户端
func NewClient(host string, port int, namespace string, token string) (*Client, error) {
	cli := client.NewLmstfyClient(host, port, namespace, token)
	return &Client{
		cli:       cli,
		namespace: namespace,
	}, nil
}

// Publish 发布消息（delay 秒后可消费）
func (c *Client) Publish(queue string, data []byte, delaySeconds uint32) (string, error) {
	jobID, err := c.cli.Publish(queue, data, defaultTTL, defaultTries, delaySeconds)
	if err != nil {
		return "", fmt.Errorf("lmstfy publish failed: %w", err)
	}
	return jobID, nil
}

// Consume 消费消息（阻塞至多 timeout；超时未拉到返回 nil, nil）
// 多队列按入参顺序做优先级消费（lmstfy ConsumeFromQueues 语义）。
func (c *Client) Consume(timeout time.Duration, ttr time.Duration, queues ...string) (*Message, error) {
	timeoutSec := uint32(timeout.Seconds())
	ttrSec := uint32(ttr.Seconds())

	job, err := c.cli.ConsumeFromQueues(ttrSec, timeoutSec, queues...)
	if err != nil {
		return nil, fmt.Errorf("lmstfy consume failed: %w", err)
	}

	if job == nil {
		return nil, nil
	}

	return &Message{
		ID:    job.ID,
		Queue: job.Queue,
		Data:  job.Data,
	}, nil
}

// Ack 确认消息（删除消息）
func (c *Client) Ack(queue string, jobID string) error {
	if err := c.cli.Ack(queue, jobID); err != nil {
		return fmt.Errorf("lmstfy ack failed: %w", err)
	}
	return nil
}
