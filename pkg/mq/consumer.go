package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"homework-reminder/pkg/metrics"
	"homework-reminder/pkg/otel"
	"homework-reminder/pkg/trace"
	"homework-reminder/pkg/util"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

// DeadLetterPublisher receives messages whose handler failed with a permanent error.
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError, errorType string) error
}

// RetryTracker counts requeues of a message across redeliveries.
type RetryTracker interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	dlq        DeadLetterPublisher
	retries    RetryTracker
	maxRetries int64
	conn       *amqp091.Connection
	logger     *zap.Logger
}

// NewConsumer creates a consumer for a specific routing key.
func NewConsumer(url, queueName, routingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		routingKey,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	if err := DeclareDLQExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare dlq exchange: %w", err)
	}
	if _, err := DeclareDLQQueue(ch, routingKey); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// 一次只处理有限条消息，避免单个实例囤积
	if err := ch.Qos(16, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// SetDeadLetter 设置死信发布者；未设置时永久性错误的消息直接 ack 丢弃
func (c *Consumer) SetDeadLetter(p DeadLetterPublisher) {
	c.dlq = p
}

// SetRetryLimit 限制临时故障的重新入队次数；超过 max 次后按永久性错误处理
func (c *Consumer) SetRetryLimit(t RetryTracker, max int64) {
	c.retries = t
	c.maxRetries = max
}

// retriesExhausted 计数失败时放行重试，宁可多投一次也不误入死信
func (c *Consumer) retriesExhausted(ctx context.Context, body []byte) bool {
	if c.retries == nil || c.maxRetries <= 0 {
		return false
	}
	n, err := c.retries.IncrementAndGet(ctx, util.FormatRetryKey(c.routingKey, body))
	if err != nil {
		c.logger.Warn("Failed to count retry", zap.String("routing_key", c.routingKey), zap.Error(err))
		return false
	}
	return n > c.maxRetries
}

func (c *Consumer) resetRetries(ctx context.Context, body []byte) {
	if c.retries == nil {
		return
	}
	if err := c.retries.Reset(ctx, util.FormatRetryKey(c.routingKey, body)); err != nil {
		c.logger.Debug("Failed to reset retry count", zap.Error(err))
	}
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages until ctx is cancelled or the channel closes.
// This method blocks and should be called in a goroutine.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"reminder-"+c.routingKey,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", c.queue.Name)
			}
			c.handle(ctx, msg)
		}
	}
}

// 最安全的消费模型：保证每条消息都会被 ack 或 nack
func (c *Consumer) handle(parent context.Context, msg amqp091.Delivery) {
	start := time.Now()
	ctx := otel.GetTextMapPropagator().Extract(parent, otel.NewMQHeaderCarrier(msg.Headers))
	if traceID, ok := msg.Headers[trace.HeaderName()].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}
	ctx = trace.Ensure(ctx)
	ctx, span := otel.MQConsumeSpan(ctx, c.routingKey, c.queue.Name)
	defer span.End()

	log := c.logger.With(
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
		zap.String("trace_id", trace.FromContext(ctx)),
	)
	log.Debug("Received message", zap.Int("message_size", len(msg.Body)))

	defer func() {
		metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, time.Since(start))
	}()

	// Panic 恢复：panic 视为永久性错误，进入死信队列，不重新入队
	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panic recovered", zap.Any("panic", r))
			c.deadLetter(ctx, log, msg, fmt.Sprintf("handler panic: %v", r), "handler_panic")
		}
	}()

	err := c.handler(ctx, msg.Body)
	if err == nil {
		c.resetRetries(ctx, msg.Body)
		if err := msg.Ack(false); err != nil {
			log.Error("Failed to ack message", zap.Error(err))
			return
		}
		log.Debug("Message processed successfully")
		return
	}

	retryable, errType := util.IsRetryableError(err)
	log.Error("Handler error",
		zap.Error(err),
		zap.Bool("retryable", retryable),
		zap.String("error_type", errType),
	)

	if retryable && c.retriesExhausted(ctx, msg.Body) {
		log.Warn("Retry limit reached, dead-lettering message", zap.Int64("max_retries", c.maxRetries))
		retryable, errType = false, "retry_exhausted"
	}

	if retryable {
		// 临时故障 → 重新入队，让 MQ 重试
		if err := msg.Nack(false, true); err != nil {
			log.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	// 永久性错误 → 进入死信队列后 ack，避免毒消息反复投递
	c.deadLetter(ctx, log, msg, err.Error(), errType)
}

// deadLetter 发布到死信队列后 ack；发布失败时重新入队，消息不会丢失
func (c *Consumer) deadLetter(ctx context.Context, log *zap.Logger, msg amqp091.Delivery, reason, errType string) {
	if c.dlq != nil {
		if dlqErr := c.dlq.PublishToDLQ(ctx, c.routingKey, msg.Body, reason, errType); dlqErr != nil {
			log.Error("Failed to publish to DLQ", zap.Error(dlqErr))
			if err := msg.Nack(false, true); err != nil {
				log.Error("Failed to nack message", zap.Error(err))
			}
			return
		}
	}
	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack message", zap.Error(err))
	}
}
