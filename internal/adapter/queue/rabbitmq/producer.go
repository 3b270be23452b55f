package rabbitmq

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mikev9/text-processing/internal/adapter/observability"
	"github.com/mikev9/text-processing/internal/domain"
)

// ProducerConfig carries the broker settings for a Producer.
type ProducerConfig struct {
	URL               string
	Topology          Topology
	Persistent        bool
	PublisherConfirms bool
	AppName           string
}

// Producer publishes persistent, confirmed task messages. It owns its broker
// connection and redials in the background when the connection drops.
type Producer struct {
	cfg ProducerConfig
	log *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	started  bool
	shutdown bool
	done     chan struct{}
}

// NewProducer constructs an unstarted Producer.
func NewProducer(cfg ProducerConfig, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	return &Producer{cfg: cfg, log: log, done: make(chan struct{})}
}

// Startup connects, enables publisher confirms, and declares the topology.
// A second call fails.
func (p *Producer) Startup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("op=producer.startup: already started")
	}

	p.log.Info("starting the producer")
	if err := p.connectLocked(); err != nil {
		return err
	}
	p.started = true
	go p.monitor()
	p.log.Info("producer started",
		slog.String("exchange", p.cfg.Topology.Exchange),
		slog.String("queue", p.cfg.Topology.Queue))
	return nil
}

// connectLocked dials and prepares a channel. Caller holds p.mu.
func (p *Producer) connectLocked() error {
	conn, err := dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("op=producer.startup: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("op=producer.channel: %w", err)
	}
	if p.cfg.PublisherConfirms {
		if err := ch.Confirm(false); err != nil {
			_ = conn.Close()
			return fmt.Errorf("op=producer.confirm_mode: %w", err)
		}
	}
	if err := p.cfg.Topology.declare(ch); err != nil {
		_ = conn.Close()
		return err
	}
	p.conn = conn
	p.ch = ch
	return nil
}

// monitor watches for connection loss and redials until shutdown.
func (p *Producer) monitor() {
	for {
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if conn == nil {
			return
		}
		closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-p.done:
			return
		case amqpErr := <-closeCh:
			if amqpErr == nil {
				return // clean close
			}
			p.log.Warn("producer connection lost, reconnecting", slog.Any("error", amqpErr))
		}

		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 0 // retry until shutdown
		redial := func() error {
			select {
			case <-p.done:
				return backoff.Permanent(fmt.Errorf("producer shut down"))
			default:
			}
			p.mu.Lock()
			defer p.mu.Unlock()
			p.conn, p.ch = nil, nil
			return p.connectLocked()
		}
		if err := backoff.Retry(redial, bo); err != nil {
			p.log.Error("producer reconnect abandoned", slog.Any("error", err))
			return
		}
		p.log.Info("producer reconnected")
	}
}

// deriveMessageID normalizes the caller-supplied task id into the message id:
// empty mints a fresh UUIDv4, a UUID in hex or canonical form is normalized
// to hex, any other non-empty string is used verbatim.
func deriveMessageID(taskID string) string {
	if taskID == "" {
		return domain.HexID(uuid.New())
	}
	if id, err := domain.ParseTaskID(taskID); err == nil {
		return domain.HexID(id)
	}
	return taskID
}

// Send serializes data as JSON and publishes it persistently under the task
// id. With publisher confirms enabled it returns only after the broker acks;
// a transport error or a missing/negative ack yields domain.ErrPublish.
func (p *Producer) Send(ctx domain.Context, data any, taskID string) (string, error) {
	p.mu.Lock()
	started, ch := p.started, p.ch
	p.mu.Unlock()
	if !started {
		return "", fmt.Errorf("op=producer.send: producer has not been started")
	}
	if ch == nil {
		return "", fmt.Errorf("op=producer.send: %w: not connected", domain.ErrPublish)
	}

	msgID := deriveMessageID(taskID)
	body, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("op=producer.send: %w", err)
	}

	pub := amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		MessageId:   msgID,
		AppId:       p.cfg.AppName,
		Timestamp:   time.Now().UTC(),
	}
	if p.cfg.Persistent {
		pub.DeliveryMode = amqp.Persistent
	}

	if p.cfg.PublisherConfirms {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(
			ctx, p.cfg.Topology.Exchange, p.cfg.Topology.RoutingKey, false, false, pub)
		if err != nil {
			return "", fmt.Errorf("op=producer.send: %w: %v", domain.ErrPublish, err)
		}
		select {
		case <-confirm.Done():
			if !confirm.Acked() {
				return "", fmt.Errorf("op=producer.send: %w: message was not acknowledged by broker", domain.ErrPublish)
			}
		case <-ctx.Done():
			return "", fmt.Errorf("op=producer.send: %w: %v", domain.ErrPublish, ctx.Err())
		}
	} else {
		if err := ch.PublishWithContext(
			ctx, p.cfg.Topology.Exchange, p.cfg.Topology.RoutingKey, false, false, pub); err != nil {
			return "", fmt.Errorf("op=producer.send: %w: %v", domain.ErrPublish, err)
		}
	}

	observability.TasksPublishedTotal.Inc()
	p.log.Debug("task published", slog.String("task_id", msgID))
	return msgID, nil
}

// Shutdown closes the channel then the connection. A second call fails.
func (p *Producer) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return fmt.Errorf("op=producer.shutdown: shutdown already started")
	}
	p.shutdown = true
	close(p.done)

	p.log.Info("producer shutting down")
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			p.log.Error("channel close failed", slog.Any("error", err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.log.Error("connection close failed", slog.Any("error", err))
		}
	}
	p.log.Info("producer stopped")
	return nil
}
