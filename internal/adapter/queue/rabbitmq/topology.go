// Package rabbitmq provides the AMQP 0-9-1 producer and consumer adapters.
//
// Both sides declare the same durable topology (direct exchange, durable
// queue, fixed binding) so either service can start first.
package rabbitmq

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology names the broker objects shared by producer and consumer.
type Topology struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

// declare creates the exchange and queue (both durable) and binds them on the
// routing key. Declarations are idempotent on the broker side.
func (t Topology) declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		t.Exchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("op=topology.exchange_declare: %w", err)
	}
	if _, err := ch.QueueDeclare(
		t.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("op=topology.queue_declare: %w", err)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("op=topology.queue_bind: %w", err)
	}
	return nil
}

// dial connects to the broker, retrying with exponential backoff so a service
// can come up while the broker is still starting.
func dial(url string) (*amqp.Connection, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	var conn *amqp.Connection
	op := func() error {
		var err error
		conn, err = amqp.Dial(url)
		return err
	}
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("op=broker.dial: %w", err)
	}
	return conn, nil
}
