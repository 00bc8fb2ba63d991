// Package bus fans decoded radio traffic out to the gateway's consumers:
// the virtual device server, the automation scheduler, and the persistence
// mirror all hang off the same topics.
package bus

import (
	"log/slog"
	"reflect"

	"github.com/cskr/pubsub"
)

// subscriberBuffer bounds each subscription channel; a consumer that falls
// this far behind stalls the publisher rather than losing events.
const subscriberBuffer = 128

type Subscription chan any

type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topic string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// Broker is the in-process MessageBus backed by cskr/pubsub.
type Broker struct {
	ps     *pubsub.PubSub
	logger *slog.Logger
}

func New(logger *slog.Logger) *Broker {
	return &Broker{
		ps:     pubsub.New(subscriberBuffer),
		logger: logger,
	}
}

func (b *Broker) Publish(topic string, msg any) {
	b.logger.Debug("publish", "topic", topic, "payload_type", typeName(msg))
	b.ps.Pub(msg, topic)
}

func (b *Broker) Subscribe(topic string) Subscription {
	b.logger.Debug("subscribe", "topic", topic)

	return b.ps.Sub(topic)
}

// Unsubscribe detaches ch from the given topics, or from every topic when
// none are named.
func (b *Broker) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.logger.Debug("unsubscribe", "mode", "all")
		b.ps.Unsub(ch)

		return
	}
	b.logger.Debug("unsubscribe", "topics", topics)
	b.ps.Unsub(ch, topics...)
}

func (b *Broker) Close() {
	b.ps.Shutdown()
}

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}

	return reflect.TypeOf(v).String()
}
