package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "events"

	// RoutingKeyEmailReceived 由 ingestion 发布，触发 monitor 提前开始下一轮
	RoutingKeyEmailReceived = "email.received"
	// RoutingKeyEmailAnalyzed 分析结果落库后经 outbox 发布
	RoutingKeyEmailAnalyzed = "email.analyzed"
)

// NewConnection creates a new RabbitMQ connection.
func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares the durable topic exchange shared by all events.
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
