package broker

import (
	"sync"
	"time"
)

// MemoryBroker is an in-process Broker suitable for single-node development
// and tests. Messages are not durable across restarts; everything else
// (manual ack, deferred requeue, per-topic channels) behaves like the NSQ
// adapter so dispatcher logic can run against it unchanged.
type MemoryBroker struct {
	mu       sync.Mutex
	queues   map[string]chan *memoryMessage
	handlers map[string]bool
	stopped  bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewMemory creates a new in-memory broker.
func NewMemory() *MemoryBroker {
	return &MemoryBroker{
		queues:   make(map[string]chan *memoryMessage),
		handlers: make(map[string]bool),
		done:     make(chan struct{}),
	}
}

func (b *MemoryBroker) queue(topic string) chan *memoryMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[topic]
	if !ok {
		q = make(chan *memoryMessage, 1024)
		b.queues[topic] = q
	}
	return q
}

func (b *MemoryBroker) Publish(topic string, body []byte) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	b.queue(topic) <- &memoryMessage{broker: b, topic: topic, body: body, attempts: 1}
	return nil
}

func (b *MemoryBroker) Subscribe(topic, channel string, maxInFlight int, h Handler) error {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	q := b.queue(topic)
	for i := 0; i < maxInFlight; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				select {
				case <-b.done:
					return
				case m := <-q:
					h(m)
				}
			}
		}()
	}
	return nil
}

func (b *MemoryBroker) CheckConnection() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.stopped
}

func (b *MemoryBroker) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()
	close(b.done)
	b.wg.Wait()
}

// Depth reports the queued message count for a topic.
func (b *MemoryBroker) Depth(topic string) int {
	return len(b.queue(topic))
}

type memoryMessage struct {
	broker   *MemoryBroker
	topic    string
	body     []byte
	attempts int
}

func (m *memoryMessage) Body() []byte  { return m.body }
func (m *memoryMessage) Attempts() int { return m.attempts }
func (m *memoryMessage) Finish()       {}

func (m *memoryMessage) Requeue(delay time.Duration) {
	next := &memoryMessage{broker: m.broker, topic: m.topic, body: m.body, attempts: m.attempts + 1}
	if delay <= 0 {
		m.broker.queue(m.topic) <- next
		return
	}
	time.AfterFunc(delay, func() {
		m.broker.mu.Lock()
		stopped := m.broker.stopped
		m.broker.mu.Unlock()
		if stopped {
			return
		}
		m.broker.queue(m.topic) <- next
	})
}
