// Package queue carries assistant-turn jobs on a durable RabbitMQ
// queue so a crash mid-turn replays the job instead of dropping the
// client's message. Job ids are the triggering message ids, which keeps
// replays idempotent downstream.
package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TurnJob asks for one assistant turn on a ticket, triggered by the
// given message. Attempts counts retry-queue round trips.
type TurnJob struct {
	TicketID  string `json:"ticket_id"`
	MessageID string `json:"message_id"`
	Attempts  int    `json:"attempts,omitempty"`
}

// NextRetry returns the job to republish on a transient failure, or
// false when the attempt budget is spent and the delivery should
// dead-letter instead.
func (j TurnJob) NextRetry(max int) (TurnJob, bool) {
	if j.Attempts >= max {
		return j, false
	}
	j.Attempts++
	return j, true
}

// retryDelayMS is how long a job parks on the retry queue before its
// TTL dead-letters it back onto the main queue.
const retryDelayMS = 30_000

type Queue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// New dials RabbitMQ and declares the main queue plus its retry and
// DLQ companions. Rejected turns dead-letter to the DLQ; the retry
// queue TTLs messages back onto the main queue.
func New(url, queue string) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	if _, err := ch.QueueDeclare(dlqQ, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(retryQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": mainQ,
		"x-message-ttl":             int32(retryDelayMS),
	}); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(mainQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqQ,
	}); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Queue{conn: conn, ch: ch, queue: queue}, nil
}

func (q *Queue) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func (q *Queue) Publish(ctx context.Context, job TurnJob) error {
	return q.publish(ctx, q.queue, job)
}

// PublishRetry parks the job on the retry queue, whose TTL dead-letters
// it back onto the main queue after the delay.
func (q *Queue) PublishRetry(ctx context.Context, job TurnJob) error {
	return q.publish(ctx, q.queue+".retry", job)
}

func (q *Queue) publish(ctx context.Context, key string, job TurnJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return q.ch.PublishWithContext(cctx,
		"",  // default exchange
		key, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.MessageID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// Consume returns the delivery stream with prefetch bounded to the
// worker count. Callers ack/nack each delivery.
func (q *Queue) Consume(prefetch int) (<-chan amqp.Delivery, error) {
	if err := q.ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}
	return q.ch.Consume(q.queue, "", false, false, false, false, nil)
}

// Decode unmarshals one delivery into a TurnJob.
func Decode(d amqp.Delivery) (TurnJob, error) {
	var job TurnJob
	err := json.Unmarshal(d.Body, &job)
	return job, err
}
