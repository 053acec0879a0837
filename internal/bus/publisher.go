package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"shardkv/internal/wire"
)

// publishRequest is one event waiting to be published, paired with a
// channel the caller blocks on for the result.
type publishRequest struct {
	event wire.Event
	done  chan error
}

// Publisher ships events to the replication queue through a single
// dedicated goroutine. Publish is safe to call concurrently from many
// request-handling goroutines; it blocks until the event is confirmed
// published, the retries are exhausted, or the caller's context is
// canceled.
type Publisher struct {
	cfg  Config
	reqs chan publishRequest
}

// NewPublisher creates a Publisher and starts its background loop. The
// loop exits when ctx is canceled.
func NewPublisher(ctx context.Context, cfg Config) *Publisher {
	p := &Publisher{cfg: cfg, reqs: make(chan publishRequest)}
	go p.loop(ctx)
	return p
}

// Publish enqueues ev for publishing and blocks for the result, up to
// cfg.PublishTimeout — matching the original's
// `done.wait(self.publish_timeout)`, which raises rather than waits
// past the broker's heartbeat once a connection goes quiet.
func (p *Publisher) Publish(ctx context.Context, ev wire.Event) error {
	done := make(chan error, 1)
	req := publishRequest{event: ev, done: done}

	timer := time.NewTimer(p.cfg.PublishTimeout)
	defer timer.Stop()

	select {
	case p.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish timed out after %s", p.cfg.PublishTimeout)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish timed out after %s", p.cfg.PublishTimeout)
	}
}

// link is the publisher's live AMQP connection state, rebuilt by
// connect whenever the previous one drops.
type link struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
}

func (l *link) close() {
	if l.ch != nil {
		_ = l.ch.Close()
	}
	if l.conn != nil {
		_ = l.conn.Close()
	}
	*l = link{}
}

func (l *link) live() bool {
	return l.conn != nil && !l.conn.IsClosed() && l.ch != nil
}

func (p *Publisher) connect(l *link) error {
	conn, err := amqp.DialConfig(p.cfg.URL, dialConfig(p.cfg))
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := declareQueue(ch, p.cfg.Queue); err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return err
	}
	l.conn = conn
	l.ch = ch
	l.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return nil
}

func (p *Publisher) loop(ctx context.Context) {
	var l link
	defer l.close()

	tick := time.NewTicker(p.cfg.TickInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.reqs:
			req.done <- p.publishOne(&l, req.event)
		case <-tick.C:
			if l.conn != nil && l.conn.IsClosed() {
				l.close()
			}
		}
	}
}

func (p *Publisher) publishOne(l *link, ev wire.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < p.cfg.PublishRetries; attempt++ {
		backoff := p.cfg.ReconnectBackoff * time.Duration(attempt+1)
		if !l.live() {
			l.close()
			if err := p.connect(l); err != nil {
				lastErr = err
				time.Sleep(backoff)
				continue
			}
		}

		err := l.ch.Publish("", p.cfg.Queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
		if err != nil {
			lastErr = err
			l.close()
			time.Sleep(backoff)
			continue
		}

		select {
		case confirm, ok := <-l.confirms:
			if !ok {
				lastErr = errors.New("confirmation channel closed")
				l.close()
				time.Sleep(backoff)
				continue
			}
			if !confirm.Ack {
				lastErr = errors.New("publish was not confirmed by broker")
				l.close()
				time.Sleep(backoff)
				continue
			}
			return nil
		case <-time.After(p.cfg.PublishTimeout):
			lastErr = fmt.Errorf("confirm wait timed out after %s", p.cfg.PublishTimeout)
			l.close()
			time.Sleep(backoff)
			continue
		}
	}

	if lastErr == nil {
		lastErr = errors.New("publish failed after exhausting retries")
	}
	log.Printf("bus: publish to %s failed after %d attempts: %v", p.cfg.Queue, p.cfg.PublishRetries, lastErr)
	return lastErr
}
