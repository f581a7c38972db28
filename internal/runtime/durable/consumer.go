package durable

import (
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	"github.com/drblury/eventbus/internal/runtime/logging"
	"github.com/drblury/eventbus/transport"
)

// consumer owns the subscription of one topic. Every handler registered for
// the topic runs on the same record before the next record is read.
type consumer struct {
	topic string
	group string

	// ready is closed once the subscription attempt finished. subscriber and
	// err are written before that and read-only afterwards.
	ready      chan struct{}
	subscriber message.Subscriber
	err        error

	mu       sync.RWMutex
	handlers []transport.Handler
}

func (c *consumer) add(h transport.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *consumer) snapshot() []transport.Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]transport.Handler, len(c.handlers))
	copy(out, c.handlers)
	return out
}

// RegisterConsumer subscribes to topic in the consumer group derived from the
// client id and topic. A second registration on the same topic adds the
// handler to the existing subscription. The broker is dialled without holding
// the transport lock, so Health, Publish and Close are not held up by it.
func (t *Transport) RegisterConsumer(topic string, handler transport.Handler) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errspkg.ErrClosed
	}
	if c, ok := t.consumers[topic]; ok {
		t.mu.Unlock()
		<-c.ready
		if c.err != nil {
			return c.err
		}
		c.add(handler)
		t.logger.Debug("Handler added to existing consumer", logging.LogFields{
			"topic":    topic,
			"handlers": len(c.snapshot()),
		})
		return nil
	}

	c := &consumer{
		topic:    topic,
		group:    t.conf.ConsumerGroup(topic),
		ready:    make(chan struct{}),
		handlers: []transport.Handler{handler},
	}
	t.consumers[topic] = c
	t.mu.Unlock()

	sub, messages, err := t.subscribe(c)

	t.mu.Lock()
	if err == nil && t.closed {
		_ = sub.Close()
		err = errspkg.ErrClosed
	}
	if err != nil {
		delete(t.consumers, topic)
		t.mu.Unlock()
		c.err = err
		close(c.ready)
		return err
	}
	c.subscriber = sub
	t.wg.Add(1)
	t.mu.Unlock()
	close(c.ready)

	go t.consume(c, messages)

	t.logger.Info("Consumer registered", logging.LogFields{"topic": topic, "group": c.group})
	return nil
}

func (t *Transport) subscribe(c *consumer) (message.Subscriber, <-chan *message.Message, error) {
	sub, err := t.conn.NewSubscriber(c.group, t.wmLog)
	if err != nil {
		return nil, nil, fmt.Errorf("create consumer for %s: %w", c.topic, err)
	}
	messages, err := sub.Subscribe(t.lifecycle, c.topic)
	if err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe to %s: %w", c.topic, err)
	}
	return sub, messages, nil
}

// consume reads records one at a time. A record is acked once processing
// reached a terminal outcome and nacked otherwise, which makes the broker
// deliver it again.
func (t *Transport) consume(c *consumer, messages <-chan *message.Message) {
	defer t.wg.Done()

	handle := t.pipeline(c)
	for {
		select {
		case <-t.stop:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			select {
			case <-t.stop:
				msg.Nack()
				return
			default:
			}

			if _, err := handle(msg); err != nil {
				t.logger.Error("Record not acknowledged, it will be redelivered", err, logging.LogFields{
					"topic":        c.topic,
					"message_uuid": msg.UUID,
				})
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}
}
