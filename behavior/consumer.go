package behavior

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// Sink is the behavior log write side.
type Sink interface {
	InsertEvent(ctx context.Context, ev Event) error
}

// Consumer drains queued behavior events into the Sink with manual
// acknowledgement, giving at-least-once delivery into the log.
type Consumer struct {
	deliveries <-chan amqp.Delivery
	sink       Sink
}

// NewConsumer builds a Consumer over an open delivery stream.
func NewConsumer(deliveries <-chan amqp.Delivery, sink Sink) *Consumer {
	return &Consumer{deliveries: deliveries, sink: sink}
}

// Serve pumps deliveries until ctx is cancelled. A closed delivery
// stream is an error: it means the broker connection was lost.
func (c *Consumer) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-c.deliveries:
			if !ok {
				return fmt.Errorf("behavior delivery stream closed")
			}
			c.process(ctx, d)
		}
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	var ev Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		// Malformed messages can never succeed; requeueing would loop
		// them forever.
		log.WithFields(log.Fields{"err": err, "body": string(d.Body)}).
			Error("dropping malformed behavior message")
		if err = d.Nack(false, false); err != nil {
			log.WithField("err", err).Warn("failed to nack malformed message")
		}
		consumed.WithLabelValues("malformed").Inc()
		return
	}

	ev.InsertedTime = time.Now()
	if err := c.sink.InsertEvent(ctx, ev); err != nil {
		log.WithFields(log.Fields{"user": ev.UserID, "course": ev.CourseID, "err": err}).
			Error("failed to insert behavior event; leaving for redelivery")
		if err = d.Nack(false, true); err != nil {
			log.WithField("err", err).Warn("failed to nack behavior message")
		}
		consumed.WithLabelValues("requeued").Inc()
		return
	}

	if err := d.Ack(false); err != nil {
		log.WithFields(log.Fields{"user": ev.UserID, "err": err}).
			Warn("failed to ack behavior message")
		return
	}
	consumed.WithLabelValues("inserted").Inc()
}
