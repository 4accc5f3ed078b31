package broker

import (
	"sync"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/relaybus/relaybus/internal/buserr"
	"github.com/relaybus/relaybus/internal/logging"
)

// NSQBroker backs the Broker interface with nsqd. Retries use NSQ's deferred
// requeue so backoff delays survive without dispatcher-side timers.
type NSQBroker struct {
	nsqdTCPAddr    string
	lookupHTTPAddr string
	prod           *nsq.Producer
	logger         *logging.Logger

	mu        sync.Mutex
	consumers []*nsq.Consumer
}

// NewNSQ connects a producer to nsqd and returns the broker.
func NewNSQ(nsqdTCPAddr, lookupHTTPAddr string) (*NSQBroker, error) {
	prod, err := nsq.NewProducer(nsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		return nil, &buserr.TransportError{Op: "producer connect", Err: err}
	}
	return &NSQBroker{
		nsqdTCPAddr:    nsqdTCPAddr,
		lookupHTTPAddr: lookupHTTPAddr,
		prod:           prod,
		logger:         logging.New("relaybus-broker"),
	}, nil
}

func (b *NSQBroker) Publish(topic string, body []byte) error {
	if err := b.prod.Publish(topic, body); err != nil {
		return &buserr.TransportError{Op: "publish " + topic, Err: err}
	}
	return nil
}

// consumerConfig builds the consumer config for one subscription. The retry
// ceiling is enforced store-side against attempt rows; NSQ's own MaxAttempts
// is disabled so the consumer never silently discards a redelivered message
// before the dispatcher has dead-lettered it.
func consumerConfig(maxInFlight int) *nsq.Config {
	conf := nsq.NewConfig()
	conf.MaxAttempts = 0
	if maxInFlight > 0 {
		conf.MaxInFlight = maxInFlight
	}
	return conf
}

func (b *NSQBroker) Subscribe(topic, channel string, maxInFlight int, h Handler) error {
	consumer, err := nsq.NewConsumer(topic, channel, consumerConfig(maxInFlight))
	if err != nil {
		return &buserr.TransportError{Op: "consumer create", Err: err}
	}

	consumer.AddConcurrentHandlers(nsq.HandlerFunc(func(m *nsq.Message) error {
		m.DisableAutoResponse() // handlers requeue or finish explicitly
		defer func() {
			if !m.HasResponded() {
				b.logger.Plain().WithField("topic", topic).Warn("message had no response, finishing")
				m.Finish()
			}
		}()
		h(&nsqMessage{m: m})
		return nil
	}), maxInFlight)

	// Connecting directly to NSQD forces channel creation, instead of the
	// channel being lazily created on first publish
	if err := consumer.ConnectToNSQD(b.nsqdTCPAddr); err != nil {
		return &buserr.TransportError{Op: "connect nsqd", Err: err}
	}
	if b.lookupHTTPAddr != "" {
		if err := consumer.ConnectToNSQLookupd(b.lookupHTTPAddr); err != nil {
			return &buserr.TransportError{Op: "connect lookupd", Err: err}
		}
	}

	b.mu.Lock()
	b.consumers = append(b.consumers, consumer)
	b.mu.Unlock()
	return nil
}

func (b *NSQBroker) CheckConnection() bool {
	return b.prod.Ping() == nil
}

func (b *NSQBroker) Stop() {
	b.mu.Lock()
	consumers := b.consumers
	b.consumers = nil
	b.mu.Unlock()

	for _, c := range consumers {
		c.Stop()
	}
	for _, c := range consumers {
		<-c.StopChan
	}
	b.prod.Stop()
}

type nsqMessage struct {
	m *nsq.Message
}

func (n *nsqMessage) Body() []byte  { return n.m.Body }
func (n *nsqMessage) Attempts() int { return int(n.m.Attempts) }
func (n *nsqMessage) Finish()       { n.m.Finish() }

func (n *nsqMessage) Requeue(delay time.Duration) { n.m.Requeue(delay) }
