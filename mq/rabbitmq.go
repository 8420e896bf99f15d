package mq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/campusmine/campusmine/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ carries session events over a durable queue so a broadcaster
// restart does not lose invalidations published in the meantime.
type RabbitMQ struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	q    amqp.Queue
	out  chan events.SessionEvent
}

func NewRabbitMQ(url, queue string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	_ = ch.Confirm(false)
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	r := &RabbitMQ{conn: conn, ch: ch, q: q, out: make(chan events.SessionEvent, 1024)}
	go r.consume()
	return r, nil
}

func (r *RabbitMQ) Publish(evt events.SessionEvent) error {
	b, _ := json.Marshal(evt)
	return r.ch.PublishWithContext(context.Background(), "", r.q.Name, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		Body:         b,
	})
}

// consume owns r.out: it is closed here once the delivery channel
// drains, never from Close, so a shutdown cannot race a send.
func (r *RabbitMQ) consume() {
	defer close(r.out)
	msgs, err := r.ch.Consume(r.q.Name, "", false, false, false, false, nil)
	if err != nil {
		return
	}
	for m := range msgs {
		var evt events.SessionEvent
		if json.Unmarshal(m.Body, &evt) == nil {
			r.out <- evt
			_ = m.Ack(false)
		} else {
			_ = m.Nack(false, false)
		}
	}
}

func (r *RabbitMQ) Subscribe() <-chan events.SessionEvent { return r.out }

func (r *RabbitMQ) Close() error {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
