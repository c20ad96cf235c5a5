package queue

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel used by the publisher.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Connection is a broker connection able to open channels.
type Connection interface {
	Channel() (Channel, error)
	Close() error
}

// Dialer opens a new broker connection.
type Dialer interface {
	Dial(ctx context.Context) (Connection, error)
}

// ErrNotConfirmed means the broker nacked a publish.
var ErrNotConfirmed = errors.New("broker did not confirm message")

// AMQPDialer dials RabbitMQ with a bounded socket timeout.
type AMQPDialer struct {
	uri     string
	timeout time.Duration
}

func NewAMQPDialer(uri string, timeout time.Duration) *AMQPDialer {
	return &AMQPDialer{uri: uri, timeout: timeout}
}

func (d *AMQPDialer) Dial(ctx context.Context) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(AppID)

	conn, err := amqp.DialConfig(d.uri, amqp.Config{
		Dial:       amqp.DefaultDial(d.timeout),
		Properties: props,
	})
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

type amqpConnection struct {
	conn *amqp.Connection
}

// Channel opens a channel in confirm mode.
func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &confirmChannel{Channel: ch}, nil
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

// confirmChannel publishes and waits for the broker's ack, so a nil error
// means the message was accepted.
type confirmChannel struct {
	*amqp.Channel
}

func (c *confirmChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	dc, err := c.Channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, immediate, msg)
	if err != nil {
		return err
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNotConfirmed
	}
	return nil
}
