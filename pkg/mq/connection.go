package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName 提醒事件与作业系统事件共用的 topic exchange
	ExchangeName = "events"

	connectionName = "homework-reminder"
	heartbeat      = 10 * time.Second
	dialAttempts   = 5
	dialBackoff    = time.Second
)

type dialFunc func(url string) (*amqp091.Connection, error)

// NewConnection 连接 RabbitMQ。容器编排下 broker 可能晚于服务就绪，
// 失败时按 1s、2s、4s... 退避重试 dialAttempts 次。
func NewConnection(url string) (*amqp091.Connection, error) {
	return dialWithRetry(url, dial, dialAttempts, dialBackoff)
}

func dial(url string) (*amqp091.Connection, error) {
	// connection_name 在管理界面中区分 worker 与 api 的连接
	return amqp091.DialConfig(url, amqp091.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Properties: amqp091.Table{
			"connection_name": connectionName,
		},
	})
}

func dialWithRetry(url string, dial dialFunc, attempts int, backoff time.Duration) (*amqp091.Connection, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(backoff << (i - 1))
		}
		conn, err := dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}

// DeclareExchange 声明 durable topic exchange
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// QueueName returns the durable queue the reminder service binds for a routing key.
func QueueName(routingKey string) string {
	return "reminder." + routingKey + ".q"
}
