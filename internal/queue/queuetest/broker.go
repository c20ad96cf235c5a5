// Package queuetest provides an in-memory broker implementing queue.Dialer.
package queuetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/i474232898/weather-publisher/internal/queue"
)

// ErrClosed is returned when a closed channel is used.
var ErrClosed = errors.New("channel closed")

// Broker is a fake RabbitMQ. Queues behave like durable broker queues:
// redeclaring with the same arguments is a no-op and different arguments
// fail with PRECONDITION_FAILED.
type Broker struct {
	// DialHook, if set, runs before every dial; a non-nil error fails it.
	DialHook func() error
	// PublishHook, if set, runs before every publish; a non-nil error fails it.
	PublishHook func(queue string) error
	// CloseHook, if set, runs when a connection is closed. A non-nil error is
	// returned from Close; the connection is torn down regardless.
	CloseHook func() error

	mu           sync.Mutex
	queues       map[string]amqp.Table
	messages     map[string][]amqp.Publishing
	declareOrder []string
	dials        int
	openConns    int
	openChannels int
}

func NewBroker() *Broker {
	return &Broker{
		queues:   make(map[string]amqp.Table),
		messages: make(map[string][]amqp.Publishing),
	}
}

// Declare pre-creates a queue, e.g. with arguments that will conflict.
func (b *Broker) Declare(name string, args amqp.Table) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[name] = args
}

func (b *Broker) Dial(ctx context.Context) (queue.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.DialHook != nil {
		if err := b.DialHook(); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	b.openConns++
	return &connection{broker: b}, nil
}

// Queues returns the names of every declared queue.
func (b *Broker) Queues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	return names
}

// Arguments returns the arguments a queue was declared with.
func (b *Broker) Arguments(name string) (amqp.Table, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	args, ok := b.queues[name]
	return args, ok
}

// DeclareOrder returns every declaration in call order, including no-ops.
func (b *Broker) DeclareOrder() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.declareOrder...)
}

// Messages returns what was published to a queue.
func (b *Broker) Messages(name string) []amqp.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]amqp.Publishing(nil), b.messages[name]...)
}

// Bodies returns message bodies of a queue as strings.
func (b *Broker) Bodies(name string) []string {
	msgs := b.Messages(name)
	bodies := make([]string, len(msgs))
	for i, m := range msgs {
		bodies[i] = string(m.Body)
	}
	return bodies
}

// Dials counts successful dials.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Open returns the number of connections and channels not yet closed.
func (b *Broker) Open() (conns, channels int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openConns, b.openChannels
}

type connection struct {
	broker *Broker
	closed bool
}

func (c *connection) Channel() (queue.Channel, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	c.broker.openChannels++
	return &channel{broker: c.broker}, nil
}

func (c *connection) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	c.broker.openConns--
	if c.broker.CloseHook != nil {
		return c.broker.CloseHook()
	}
	return nil
}

type channel struct {
	broker *Broker
	closed bool
}

func (ch *channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.Queue{}, ErrClosed
	}
	b.declareOrder = append(b.declareOrder, name)

	if existing, ok := b.queues[name]; ok {
		if !sameArgs(existing, args) {
			ch.closed = true
			b.openChannels--
			return amqp.Queue{}, &amqp.Error{
				Code:   amqp.PreconditionFailed,
				Reason: fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg for queue '%s'", name),
			}
		}
	} else {
		if target, ok := args["x-dead-letter-routing-key"].(string); ok {
			if _, exists := b.queues[target]; !exists {
				return amqp.Queue{}, fmt.Errorf("dead-letter target %q not declared", target)
			}
		}
		b.queues[name] = args
	}

	return amqp.Queue{Name: name, Messages: len(b.messages[name])}, nil
}

func (ch *channel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ch.broker.PublishHook != nil {
		if err := ch.broker.PublishHook(key); err != nil {
			return err
		}
	}

	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return ErrClosed
	}
	if exchange != "" {
		return fmt.Errorf("exchange %q not supported", exchange)
	}
	// The default exchange drops messages for unknown queues.
	if _, ok := b.queues[key]; !ok {
		return nil
	}
	b.messages[key] = append(b.messages[key], msg)
	return nil
}

func (ch *channel) Close() error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.closed = true
	ch.broker.openChannels--
	return nil
}

func sameArgs(a, b amqp.Table) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
