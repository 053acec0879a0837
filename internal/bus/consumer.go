package bus

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"shardkv/internal/wire"
)

// ApplyFunc applies one inbound replication event to local state. It
// returns an error if the event could not be applied, in which case
// the delivery is left unacked and will be redelivered.
type ApplyFunc func(wire.Event) error

// Consumer drains the replication queue and applies each event with a
// dedicated connection, independent of the Publisher's. It reconnects
// forever on failure.
type Consumer struct {
	cfg   Config
	apply ApplyFunc
}

// NewConsumer creates a Consumer and starts it in the background. It
// stops when ctx is canceled.
func NewConsumer(ctx context.Context, cfg Config, apply ApplyFunc) *Consumer {
	c := &Consumer{cfg: cfg, apply: apply}
	go c.runForever(ctx)
	return c
}

func (c *Consumer) runForever(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.consumeOnce(ctx); err != nil {
			log.Printf("bus: consumer disconnected: %v", err)
			select {
			case <-time.After(c.cfg.ReconnectBackoff):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	conn, err := amqp.DialConfig(c.cfg.URL, dialConfig(c.cfg))
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declareQueue(ch, c.cfg.Queue); err != nil {
		return err
	}
	if err := ch.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			return nil
		case closeErr := <-closed:
			if closeErr != nil {
				return closeErr
			}
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(d)
		}
	}
}

func (c *Consumer) handle(d amqp.Delivery) {
	var ev wire.Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		log.Printf("bus: undecodable delivery, leaving unacked for redelivery: %v", err)
		_ = d.Nack(false, true)
		return
	}
	if err := c.apply(ev); err != nil {
		log.Printf("bus: apply failed, leaving unacked for redelivery: %v", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}
