package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	redisclient "github.com/openclaw/wa-relay-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	ClientBufferSize  = 100
)

// AllSessions subscribes a client to events from every session.
const AllSessions = ""

type Client struct {
	ID        string
	SessionID string
	Events    chan Event
	Done      chan struct{}
}

// Broker fans events out to subscribed clients. With a Redis client events
// travel through pub/sub so every relay instance sees them; without one they
// are delivered in-process.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // session filter -> set of clients
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe registers a client for one session, or for all of them when
// sessionID is AllSessions.
func (b *Broker) Subscribe(sessionID string) *Client {
	client := &Client{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Events:    make(chan Event, ClientBufferSize),
		Done:      make(chan struct{}),
	}

	if b.redis != nil {
		b.once.Do(func() { go b.subscribeToRedis() })
	}

	b.mu.Lock()
	if b.clients[sessionID] == nil {
		b.clients[sessionID] = make(map[*Client]bool)
	}
	b.clients[sessionID][client] = true
	clientCount := len(b.clients[sessionID])
	b.mu.Unlock()

	log.Info().
		Str("client_id", client.ID).
		Str("session_id", sessionID).
		Int("client_count", clientCount).
		Msg("event client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.SessionID]; ok {
		if !clients[client] {
			return
		}
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.SessionID)
		}

		log.Info().
			Str("client_id", client.ID).
			Str("session_id", client.SessionID).
			Int("client_count", len(clients)).
			Msg("event client unsubscribed")
	}
}

// Publish fans event out to every observer of its session.
func (b *Broker) Publish(ctx context.Context, event Event) error {
	if b.redis == nil {
		b.broadcast(event)
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, redisclient.EventChannel, data).Err()
}

// Reply delivers a directed event to a single client without fan-out.
func (b *Broker) Reply(client *Client, event Event) bool {
	select {
	case <-client.Done:
		return false
	default:
	}

	select {
	case client.Events <- event:
		return true
	default:
		log.Warn().
			Str("client_id", client.ID).
			Str("type", event.Type).
			Msg("client event buffer full, dropping reply")
		return false
	}
}

func (b *Broker) subscribeToRedis() {
	pubsub := b.redis.Subscribe(b.ctx, redisclient.EventChannel)
	defer pubsub.Close()

	log.Debug().
		Str("channel", redisclient.EventChannel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(event)
		}
	}
}

func (b *Broker) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliver(b.clients[AllSessions], event)
	if event.SessionID != AllSessions {
		b.deliver(b.clients[event.SessionID], event)
	}
}

func (b *Broker) deliver(clients map[*Client]bool, event Event) {
	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("client_id", client.ID).
				Str("session_id", event.SessionID).
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
}

func (b *Broker) ClientCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[sessionID])
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
