package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConsumerOptions configures queue topology. DLX and DLQ are both empty
// when dead-lettering is not wanted.
type ConsumerOptions struct {
	Exchanges []string
	Queue     string
	Bindings  []string
	Prefetch  int
	DLX       string
	DLQ       string
	Tag       string
}

type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	opts ConsumerOptions
}

func NewConsumer(url string, opts ConsumerOptions) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	c := &Consumer{conn: conn, ch: ch, opts: opts}
	if err := c.declare(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Consumer) declare() error {
	args := amqp.Table{}
	if c.opts.DLX != "" {
		args["x-dead-letter-exchange"] = c.opts.DLX
	}
	q, err := c.ch.QueueDeclare(c.opts.Queue, true, false, false, false, args)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	c.opts.Queue = q.Name

	for _, ex := range c.opts.Exchanges {
		if err := c.ch.ExchangeDeclare(ex, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
		for _, rk := range c.opts.Bindings {
			if err := c.ch.QueueBind(q.Name, rk, ex, false, nil); err != nil {
				return fmt.Errorf("bind exchange=%s key=%s: %w", ex, rk, err)
			}
		}
	}

	if c.opts.DLX != "" {
		if err := c.ch.ExchangeDeclare(c.opts.DLX, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dlx: %w", err)
		}
		if _, err := c.ch.QueueDeclare(c.opts.DLQ, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dlq: %w", err)
		}
		if err := c.ch.QueueBind(c.opts.DLQ, "#", c.opts.DLX, false, nil); err != nil {
			return fmt.Errorf("bind dlq: %w", err)
		}
	}

	if c.opts.Prefetch <= 0 {
		c.opts.Prefetch = 8
	}
	if err := c.ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

func (c *Consumer) Deliveries(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.opts.Queue, c.opts.Tag, false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
