package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAMQPChannel struct {
	mu        sync.Mutex
	declared  []string
	published []amqp.Publishing
	prefetch  int
	autoAck   bool
	msgs      chan amqp.Delivery
}

func newFakeAMQPChannel() *fakeAMQPChannel {
	return &fakeAMQPChannel{msgs: make(chan amqp.Delivery, 10)}
}

func (c *fakeAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeAMQPChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeAMQPChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.autoAck = autoAck
	return c.msgs, nil
}

func (c *fakeAMQPChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeAMQPChannel) Close() error {
	return nil
}

type fakeAcknowledger struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked), len(a.nacked)
}

func TestChannelDispatcher_NeverBlocks(t *testing.T) {
	d := NewChannelDispatcher(2)
	ctx := context.Background()

	require.NoError(t, d.Enqueue(ctx, 1))
	require.NoError(t, d.Enqueue(ctx, 2))
	assert.ErrorIs(t, d.Enqueue(ctx, 3), ErrQueueFull)

	deliveries, err := d.Deliveries(ctx)
	require.NoError(t, err)
	first := <-deliveries
	assert.Equal(t, int64(1), first.JobID)
	first.Ack() // no transport ack, must not panic
}

func TestAMQPDispatcher_PublishesPersistentIDs(t *testing.T) {
	ch := newFakeAMQPChannel()
	d, err := newAMQPDispatcher(ch, "", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultQueueName}, ch.declared)

	require.NoError(t, d.Enqueue(context.Background(), 42))
	require.Len(t, ch.published, 1)
	assert.Equal(t, "42", string(ch.published[0].Body))
	assert.Equal(t, uint8(amqp.Persistent), ch.published[0].DeliveryMode)
}

func TestAMQPDispatcher_DeliversAndAcks(t *testing.T) {
	ch := newFakeAMQPChannel()
	d, err := newAMQPDispatcher(ch, "jobs-test", 4, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := d.Deliveries(ctx)
	require.NoError(t, err)
	assert.False(t, ch.autoAck)
	assert.Equal(t, 4, ch.prefetch)

	ack := &fakeAcknowledger{}
	ch.msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("not-a-number")}
	ch.msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("7")}

	select {
	case delivery := <-deliveries:
		assert.Equal(t, int64(7), delivery.JobID)
		acked, nacked := ack.counts()
		assert.Equal(t, 0, acked)
		assert.Equal(t, 1, nacked)

		delivery.Ack()
		acked, _ = ack.counts()
		assert.Equal(t, 1, acked)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
}

func TestAMQPDispatcher_FeedsEngine(t *testing.T) {
	ch := newFakeAMQPChannel()
	d, err := newAMQPDispatcher(ch, "", 1, nil)
	require.NoError(t, err)

	e, _ := setupTestEngine(t,
		WithDispatcher(d),
		WithPollInterval(time.Hour),
		WithExecutor(OperationDeleteBulk, ExecutorFunc(func(ctx context.Context, job *Job, p *Progress) (string, error) {
			return "ok", nil
		})),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	job := submitDelete(t, e, "alice", 1)
	require.Len(t, ch.published, 1)

	ack := &fakeAcknowledger{}
	ch.msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 9, Body: ch.published[0].Body}

	require.Eventually(t, func() bool {
		acked, _ := ack.counts()
		return acked == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := e.Get(context.Background(), job.ID)
		return err == nil && got.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}
