// Package broker abstracts the durable transport between the publisher and
// the dispatcher. Once Publish returns nil the message must survive process
// restart and eventually reach a subscriber; that property carries the bus's
// at-least-once guarantee.
package broker

import "time"

// Message is a single consumed message. Handlers must call exactly one of
// Finish or Requeue; an unresponded message is finished by the adapter.
type Message interface {
	Body() []byte
	Attempts() int
	Finish()
	Requeue(delay time.Duration)
}

// Handler processes one message.
type Handler func(msg Message)

// Broker is the transport seam. Dispatcher and publisher code never touch
// transport-specific client objects.
type Broker interface {
	// Publish enqueues body on topic. Durable once it returns nil.
	Publish(topic string, body []byte) error
	// Subscribe consumes topic on the named channel until Stop.
	Subscribe(topic, channel string, maxInFlight int, h Handler) error
	// CheckConnection reports broker reachability.
	CheckConnection() bool
	// Stop stops consumers first, then the producer, draining in-flight handlers.
	Stop()
}
