// Package kafka 提供了对话轮次写回任务的 Kafka 生产与消费。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"finpro-go/internal/config"
	"finpro-go/pkg/log"
	"finpro-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// TurnProcessor 处理一条轮次写回任务，把消费者与具体的落库实现解耦。
type TurnProcessor interface {
	Process(ctx context.Context, task tasks.TurnPersistTask) error
}

// AttemptCounter 记录任务失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, taskID string) (int64, error)
	Reset(ctx context.Context, taskID string) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer 把轮次写回任务发送到 Kafka。
type Producer struct {
	writer messageWriter
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers(cfg)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// PublishTurn 发送一个轮次写回任务。以会话 ID 作为 key，保证同一会话的消息进入同一分区并保持顺序。
func (p *Producer) PublishTurn(ctx context.Context, task tasks.TurnPersistTask) error {
	value, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.SessionID),
		Value: value,
	})
}

// Close 关闭生产者并刷新缓冲中的消息。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 从 Kafka 消费轮次写回任务，失败次数达到上限后提交 offset 放弃该任务。
type Consumer struct {
	reader      messageReader
	processor   TurnProcessor
	attempts    AttemptCounter
	maxAttempts int64
	backoff     time.Duration
}

// NewConsumer 创建一个消费者组成员。maxAttempts 为单个任务的最大处理次数。
func NewConsumer(cfg config.KafkaConfig, processor TurnProcessor, attempts AttemptCounter, maxAttempts int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(r, processor, attempts, maxAttempts, time.Second)
}

func newConsumer(r messageReader, processor TurnProcessor, attempts AttemptCounter, maxAttempts int, backoff time.Duration) *Consumer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Consumer{
		reader:      r,
		processor:   processor,
		attempts:    attempts,
		maxAttempts: int64(maxAttempts),
		backoff:     backoff,
	}
}

// Run 持续消费直到 ctx 结束，返回时关闭 reader。
func (c *Consumer) Run(ctx context.Context) error {
	log.Info("Kafka 轮次写回消费者已启动")
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error("从 Kafka 读取消息失败", err)
			return err
		}
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	var task tasks.TurnPersistTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, offset: %d", err, m.Offset)
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}

	var local int64
	for {
		err := c.processor.Process(ctx, task)
		if err == nil {
			if rerr := c.attempts.Reset(ctx, task.TurnID); rerr != nil {
				log.Warnf("清理任务失败计数失败: turn=%s, error: %v", task.TurnID, rerr)
			}
			c.commit(ctx, m)
			return
		}

		local++
		n, incErr := c.attempts.Incr(ctx, task.TurnID)
		if incErr != nil {
			log.Warnf("Redis 计数失败，使用本地计数: turn=%s, error: %v", task.TurnID, incErr)
			n = local
		}
		log.Errorf("轮次写回失败: turn=%s, attempt=%d/%d, error: %v", task.TurnID, n, c.maxAttempts, err)
		if n >= c.maxAttempts {
			log.Errorf("轮次写回多次失败，提交 offset 放弃该任务: turn=%s", task.TurnID)
			c.commit(ctx, m)
			return
		}

		timer := time.NewTimer(c.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			// 不提交 offset，重启后由 Kafka 重新投递
			return
		case <-timer.C:
		}
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
