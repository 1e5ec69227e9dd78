package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned by ChannelDispatcher.Enqueue when the buffer is full.
// The job stays PENDING and the engine's poll loop picks it up later.
var ErrQueueFull = errors.New("job queue is full")

// DefaultQueueName is the AMQP queue job ids are published to
const DefaultQueueName = "portalfs.jobs"

// Delivery is one job id handed to the worker pool
type Delivery struct {
	JobID int64
	ack   func()
}

// Ack tells the transport the job reached a terminal state or was skipped
func (d Delivery) Ack() {
	if d.ack != nil {
		d.ack()
	}
}

// Dispatcher carries submitted job ids to the workers
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID int64) error
	Deliveries(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// ChannelDispatcher is an in-process dispatcher on a buffered channel
type ChannelDispatcher struct {
	ch        chan Delivery
	closeOnce sync.Once
}

// NewChannelDispatcher creates a dispatcher holding up to size ids
func NewChannelDispatcher(size int) *ChannelDispatcher {
	if size <= 0 {
		size = 1
	}
	return &ChannelDispatcher{ch: make(chan Delivery, size)}
}

// Enqueue never blocks
func (d *ChannelDispatcher) Enqueue(ctx context.Context, jobID int64) error {
	select {
	case d.ch <- Delivery{JobID: jobID}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Deliveries returns the channel the engine reads from
func (d *ChannelDispatcher) Deliveries(ctx context.Context) (<-chan Delivery, error) {
	return d.ch, nil
}

// Len returns the number of buffered ids
func (d *ChannelDispatcher) Len() int {
	return len(d.ch)
}

// Close is a no-op; the buffer is dropped with the dispatcher
func (d *ChannelDispatcher) Close() error {
	return nil
}

// amqpChannel is the subset of *amqp.Channel the dispatcher uses
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Close() error
}

// AMQPDispatcher publishes job ids to a durable RabbitMQ queue so several
// processes can share the work. Messages are acknowledged only after the
// job is handled, so a crashed worker's jobs are redelivered.
type AMQPDispatcher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	queue    string
	prefetch int
	logger   *logrus.Logger
}

// DialAMQP connects to RabbitMQ and declares the job queue
func DialAMQP(url, queue string, prefetch int, logger *logrus.Logger) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	d, err := newAMQPDispatcher(channel, queue, prefetch, logger)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}
	d.conn = conn
	return d, nil
}

func newAMQPDispatcher(channel amqpChannel, queue string, prefetch int, logger *logrus.Logger) (*AMQPDispatcher, error) {
	if queue == "" {
		queue = DefaultQueueName
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = logrus.New()
	}

	_, err := channel.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	return &AMQPDispatcher{
		channel:  channel,
		queue:    queue,
		prefetch: prefetch,
		logger:   logger,
	}, nil
}

// Enqueue publishes the job id as a persistent message
func (d *AMQPDispatcher) Enqueue(ctx context.Context, jobID int64) error {
	err := d.channel.PublishWithContext(ctx,
		"",      // exchange
		d.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "text/plain",
			DeliveryMode: amqp.Persistent,
			Body:         []byte(strconv.FormatInt(jobID, 10)),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish job %d: %w", jobID, err)
	}
	return nil
}

// Deliveries starts consuming with manual acknowledgement
func (d *AMQPDispatcher) Deliveries(ctx context.Context) (<-chan Delivery, error) {
	if err := d.channel.Qos(d.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	msgs, err := d.channel.Consume(
		d.queue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume queue %s: %w", d.queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				jobID, err := strconv.ParseInt(string(msg.Body), 10, 64)
				if err != nil {
					d.logger.Warnf("Dropping malformed job message %q: %v", msg.Body, err)
					msg.Nack(false, false)
					continue
				}
				delivery := Delivery{
					JobID: jobID,
					ack: func() {
						if err := msg.Ack(false); err != nil {
							d.logger.Warnf("Failed to ack job %d: %v", jobID, err)
						}
					},
				}
				select {
				case out <- delivery:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the channel and connection
func (d *AMQPDispatcher) Close() error {
	if d.channel != nil {
		d.channel.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
