package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"portfolio-systemv1/internal/model"
)

// pendingPublish is a message buffered while the circuit is open.
type pendingPublish struct {
	Channel string
	Data    []byte
}

// Publisher pushes executed fills and order transitions to Redis pub/sub
// for dashboard push. While the circuit is open, messages are buffered
// locally and replayed when it closes, so a Redis outage delays the stream
// instead of losing it.
type Publisher struct {
	cache *Cache
	cb    *CircuitBreaker
	ctx   context.Context

	mu     sync.Mutex
	buffer []pendingPublish
	maxBuf int

	// Callbacks for metrics. Optional.
	OnBuffer func()
	OnFlush  func(count int)
}

// NewPublisher creates a Publisher sharing the cache's client. maxBufferSize
// caps the outage buffer; oldest messages are dropped first (default 10000).
func NewPublisher(ctx context.Context, cache *Cache, maxBufferSize int) *Publisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	p := &Publisher{
		cache:  cache,
		cb:     NewCircuitBreaker(5, 10*time.Second),
		ctx:    ctx,
		buffer: make([]pendingPublish, 0, 256),
		maxBuf: maxBufferSize,
	}
	p.cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] publisher breaker %s -> %s", from, to)
		if to == StateClosed {
			go p.flush()
		}
	}
	return p
}

// PublishFill broadcasts one executed transaction on the global fills
// channel and the owner's private channel.
func (p *Publisher) PublishFill(t model.Transaction) {
	data, err := json.Marshal(t)
	if err != nil {
		log.Printf("[redis] marshal fill %s: %v", t.ID, err)
		return
	}
	p.publish("pub:fills", data)
	p.publish("pub:fills:"+t.Owner, data)
}

// PublishOrder broadcasts an order status transition on the owner's order
// channel.
func (p *Publisher) PublishOrder(o model.Order) {
	data, err := json.Marshal(o)
	if err != nil {
		log.Printf("[redis] marshal order %s: %v", o.ID, err)
		return
	}
	p.publish("pub:orders:"+o.Owner, data)
}

func (p *Publisher) publish(channel string, data []byte) {
	err := p.cb.Execute(func() error {
		return p.cache.client.Publish(p.ctx, channel, data).Err()
	})
	if err == ErrCircuitOpen {
		p.bufferPublish(channel, data)
		return
	}
	if err != nil {
		log.Printf("[redis] publish %s: %v", channel, err)
	}
}

func (p *Publisher) bufferPublish(channel string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buffer) >= p.maxBuf {
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, pendingPublish{Channel: channel, Data: data})
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays the outage buffer in order.
func (p *Publisher) flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.buffer
	p.buffer = make([]pendingPublish, 0, 256)
	p.mu.Unlock()

	for _, msg := range toFlush {
		if err := p.cache.client.Publish(p.ctx, msg.Channel, msg.Data).Err(); err != nil {
			log.Printf("[redis] flush publish %s: %v", msg.Channel, err)
		}
	}
	log.Printf("[redis] flushed %d buffered messages", len(toFlush))
	if p.OnFlush != nil {
		p.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered messages awaiting replay.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}
