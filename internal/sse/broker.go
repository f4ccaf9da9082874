package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	clientBufferSize = 32
	subscribeTimeout = 3 * time.Second
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}

type Client struct {
	Topic  string
	Events chan Event
	Done   chan struct{}
}

// PubSub is the part of the redis client the broker uses.
type PubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// topicSub is the redis subscription shared by a topic's local clients.
// ready closes once redis has confirmed it.
type topicSub struct {
	cancel context.CancelFunc
	ready  chan struct{}
}

// Broker fans redis pub/sub messages out to local SSE clients, one redis
// subscription per topic with at least one local listener.
type Broker struct {
	redis   PubSub
	clients map[string]map[*Client]bool
	topics  map[string]*topicSub
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(client PubSub) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   client,
		clients: make(map[string]map[*Client]bool),
		topics:  make(map[string]*topicSub),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe registers a local client for topic. It returns once the redis
// subscription is confirmed (or subscribeTimeout passes), so anything published
// after it returns reaches the client.
func (b *Broker) Subscribe(topic string) *Client {
	client := &Client{
		Topic:  topic,
		Events: make(chan Event, clientBufferSize),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	sub := b.topics[topic]
	if sub == nil {
		subCtx, cancel := context.WithCancel(b.ctx)
		sub = &topicSub{cancel: cancel, ready: make(chan struct{})}
		b.topics[topic] = sub
		b.clients[topic] = make(map[*Client]bool)
		go b.subscribeToRedis(subCtx, topic, sub.ready)
	}
	b.clients[topic][client] = true
	clientCount := len(b.clients[topic])
	b.mu.Unlock()

	select {
	case <-sub.ready:
	case <-time.After(subscribeTimeout):
		log.Warn().Str("topic", topic).Msg("redis subscription not confirmed in time")
	}

	log.Debug().
		Str("topic", topic).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients, ok := b.clients[client.Topic]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Done)

	if len(clients) == 0 {
		delete(b.clients, client.Topic)
		if sub := b.topics[client.Topic]; sub != nil {
			sub.cancel()
			delete(b.topics, client.Topic)
		}
	}

	log.Debug().
		Str("topic", client.Topic).
		Int("clientCount", len(clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, topic string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, topic, data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, topic string, ready chan<- struct{}) {
	pubsub := b.redis.Subscribe(ctx, topic)
	defer pubsub.Close()

	recvCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	_, err := pubsub.Receive(recvCtx)
	cancel()
	close(ready)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("redis pubsub subscribe not confirmed")
	} else {
		log.Debug().Str("topic", topic).Msg("redis pubsub subscribed")
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(topic, event)
		}
	}
}

func (b *Broker) broadcast(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients[topic] {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("topic", topic).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
	b.topics = make(map[string]*topicSub)
}

func (b *Broker) ClientCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[topic])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
