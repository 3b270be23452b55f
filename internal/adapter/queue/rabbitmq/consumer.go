package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"

	"github.com/mikev9/text-processing/internal/adapter/observability"
	"github.com/mikev9/text-processing/internal/domain"
	"github.com/mikev9/text-processing/internal/workerpool"
)

// Routine is the CPU-bound function executed for each delivery. Returning
// nil acks the delivery; an error wrapping domain.ErrDeterministic rejects it
// without requeue; any other error nacks it back onto the queue.
type Routine func(taskID string, body []byte) error

// State tracks the consumer lifecycle.
type State int

// Consumer states, in lifecycle order.
const (
	StateCreated State = iota
	StateStarted
	StateRunning
	StateDraining
	StateStopped
)

// ConsumerConfig carries the broker and pool settings for a Consumer.
type ConsumerConfig struct {
	URL      string
	Topology Topology
	AppName  string
	// WorkersNum is the worker pool size; must be positive.
	WorkersNum int
	// PrefetchCount is the QoS window; must be positive.
	PrefetchCount int
	// MaxRedelivery caps how many redeliveries of the same message are
	// attempted before it is dropped without requeue. Zero means unbounded.
	MaxRedelivery int
	// GracefulShutdown installs SIGINT/SIGTERM handlers when true.
	GracefulShutdown bool
}

// Consumer multiplexes a bounded prefetch window over a worker pool, acking
// each delivery according to the routine's outcome.
type Consumer struct {
	cfg     ConsumerConfig
	routine Routine
	log     *slog.Logger

	mu    sync.Mutex
	state State

	conn        *amqp.Connection
	ch          *amqp.Channel
	pool        *workerpool.Pool
	sem         *semaphore.Weighted
	consumerTag string
	deliveries  <-chan amqp.Delivery

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	recvDone     chan struct{}
	handlers     sync.WaitGroup
	stopSignals  func()

	redeliveredMu sync.Mutex
	redelivered   map[string]int
}

// NewConsumer constructs an unstarted Consumer for the given routine.
func NewConsumer(cfg ConsumerConfig, routine Routine, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		cfg:         cfg,
		routine:     routine,
		log:         log,
		shutdownCh:  make(chan struct{}),
		redelivered: make(map[string]int),
	}
}

// Startup connects, sets QoS, declares the topology, and creates the worker
// pool and the dispatch semaphore. A second call fails.
func (c *Consumer) Startup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreated {
		return fmt.Errorf("op=consumer.startup: consumer already started")
	}
	if c.cfg.WorkersNum < 1 || c.cfg.PrefetchCount < 1 {
		return fmt.Errorf("op=consumer.startup: %w: workers and prefetch must be positive", domain.ErrInvalidArgument)
	}

	c.log.Info("starting the consumer")
	conn, err := dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("op=consumer.startup: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("op=consumer.channel: %w", err)
	}
	if err := ch.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("op=consumer.qos: %w", err)
	}
	if err := c.cfg.Topology.declare(ch); err != nil {
		_ = conn.Close()
		return err
	}

	c.conn = conn
	c.ch = ch
	c.pool = workerpool.New(c.cfg.WorkersNum)
	// One extra permit lets a single message wait in the pool's submission
	// queue while all workers are busy.
	c.sem = semaphore.NewWeighted(int64(c.cfg.WorkersNum) + 1)

	if c.cfg.GracefulShutdown {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		c.stopSignals = func() { signal.Stop(sigCh) }
		go func() {
			select {
			case sig := <-sigCh:
				c.log.Info("shutdown signal received", slog.String("signal", sig.String()))
				c.signalShutdown()
			case <-c.shutdownCh:
			}
		}()
	}

	c.state = StateStarted
	c.log.Info("consumer started",
		slog.Int("pid", os.Getpid()),
		slog.Int("workers", c.cfg.WorkersNum),
		slog.Int("prefetch_count", c.cfg.PrefetchCount))
	return nil
}

// Run begins consuming and blocks until shutdown is signaled. Handlers are
// started in broker delivery order and complete in arbitrary order.
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateStarted {
		c.mu.Unlock()
		return fmt.Errorf("op=consumer.run: consumer has not been started")
	}
	c.state = StateRunning
	c.consumerTag = c.cfg.AppName + "-" + uuid.NewString()
	deliveries, err := c.ch.Consume(
		c.cfg.Topology.Queue,
		c.consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("op=consumer.consume: %w", err)
	}
	c.deliveries = deliveries
	c.recvDone = make(chan struct{})
	c.mu.Unlock()

	go c.receiveLoop()

	select {
	case <-c.shutdownCh:
	case <-ctx.Done():
		c.signalShutdown()
	}
	return nil
}

func (c *Consumer) receiveLoop() {
	defer close(c.recvDone)
	for d := range c.deliveries {
		c.handlers.Add(1)
		go func(d amqp.Delivery) {
			defer c.handlers.Done()
			c.handleDelivery(d)
		}(d)
	}
}

// handleDelivery runs one message through the pool and settles it with the
// broker. In-flight handlers are never cancelled; they run to their
// ack/nack decision even during drain.
func (c *Consumer) handleDelivery(d amqp.Delivery) {
	taskID := d.MessageId
	if taskID == "" {
		c.log.Error("task_id must be non-empty string")
		c.settle(d.Reject(false), taskID, observability.OutcomeRejected)
		return
	}
	c.log.Debug("a new task has been received", slog.String("task_id", taskID))

	if c.cfg.MaxRedelivery > 0 && d.Redelivered && c.redeliveryExceeded(taskID) {
		c.log.Error("redelivery limit reached, task will be dropped",
			slog.String("task_id", taskID),
			slog.Int("limit", c.cfg.MaxRedelivery))
		c.settle(d.Reject(false), taskID, observability.OutcomeRejected)
		return
	}

	observability.TasksInFlight.Inc()
	defer observability.TasksInFlight.Dec()

	// Background context: drain must not abort work already dispatched.
	ctx := context.Background()
	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.settle(d.Nack(false, true), taskID, observability.OutcomeRequeued)
		return
	}
	fut, err := c.pool.Submit(ctx, func() error {
		return c.routine(taskID, d.Body)
	})
	if err != nil {
		c.sem.Release(1)
		c.log.Error("failed to dispatch task", slog.String("task_id", taskID), slog.Any("error", err))
		c.settle(d.Nack(false, true), taskID, observability.OutcomeRequeued)
		return
	}
	err = fut.Wait(ctx)
	c.sem.Release(1)

	switch {
	case err == nil:
		c.settle(d.Ack(false), taskID, observability.OutcomeAcked)
		c.log.Debug("the task was successfully processed", slog.String("task_id", taskID))
	case errors.Is(err, domain.ErrDeterministic):
		c.settle(d.Reject(false), taskID, observability.OutcomeRejected)
		c.log.Error("deterministic error, task will be rejected",
			slog.String("task_id", taskID), slog.Any("error", err))
	default:
		c.settle(d.Nack(false, true), taskID, observability.OutcomeRequeued)
		c.log.Error("failed to process task",
			slog.String("task_id", taskID), slog.Any("error", err))
	}
}

func (c *Consumer) settle(err error, taskID, outcome string) {
	if err != nil {
		c.log.Error("failed to settle delivery",
			slog.String("task_id", taskID),
			slog.String("outcome", outcome),
			slog.Any("error", err))
		return
	}
	observability.TasksConsumedTotal.WithLabelValues(outcome).Inc()
}

func (c *Consumer) redeliveryExceeded(taskID string) bool {
	c.redeliveredMu.Lock()
	defer c.redeliveredMu.Unlock()
	c.redelivered[taskID]++
	return c.redelivered[taskID] > c.cfg.MaxRedelivery
}

func (c *Consumer) signalShutdown() {
	c.shutdownOnce.Do(func() { close(c.shutdownCh) })
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Shutdown drains the consumer: cancel the consumer tag, await in-flight
// handlers, close the pool, then close channel and connection. Failures along
// the way are logged and the sequence continues best-effort. A second call
// fails.
func (c *Consumer) Shutdown() error {
	c.mu.Lock()
	if c.state == StateDraining || c.state == StateStopped {
		c.mu.Unlock()
		return fmt.Errorf("op=consumer.shutdown: shutdown already started")
	}
	c.state = StateDraining
	tag := c.consumerTag
	recvDone := c.recvDone
	c.mu.Unlock()

	c.log.Info("the shutdown process has been initiated")
	c.signalShutdown()
	if c.stopSignals != nil {
		c.stopSignals()
	}

	if tag != "" && c.ch != nil {
		c.log.Info("stopping the reception of new messages")
		if err := c.ch.Cancel(tag, false); err != nil {
			c.log.Error("consumer cancel failed", slog.Any("error", err))
		}
	}

	c.log.Info("waiting for unfinished tasks")
	if recvDone != nil {
		<-recvDone
	}
	c.handlers.Wait()

	if c.pool != nil {
		c.log.Info("waiting for the worker pool to finish")
		c.pool.Close()
	}

	if c.ch != nil {
		c.log.Info("channel closing")
		if err := c.ch.Close(); err != nil {
			c.log.Error("channel close failed", slog.Any("error", err))
		}
	}
	if c.conn != nil {
		c.log.Info("connection closing")
		if err := c.conn.Close(); err != nil {
			c.log.Error("connection close failed", slog.Any("error", err))
		}
	}

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	c.log.Info("consumer stopped")
	return nil
}
