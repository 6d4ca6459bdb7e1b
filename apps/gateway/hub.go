package main

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/mahir/supportline/pkg/model"
	"github.com/mahir/supportline/pkg/msgid"
)

var (
	chatPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportline_gateway_chat_published_total",
		Help: "Chat envelopes accepted from clients and published to Kafka.",
	})
	presencePublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportline_gateway_presence_published_total",
		Help: "Presence envelopes fanned out via Redis pub/sub.",
	})
	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportline_gateway_frames_dropped_total",
		Help: "Inbound frames dropped (malformed, unknown kind, or rate limited).",
	})
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportline_gateway_connected_clients",
		Help: "Currently connected websocket clients.",
	})
)

// Hub routes envelopes between connected room clients and the backbone.
// Chat goes through Kafka (also the persistence feed); presence is
// ephemeral and rides Redis pub/sub only.
type Hub struct {
	clients    map[string]map[*Client]bool // room_id -> clients
	register   chan *Client
	unregister chan *Client
	chat       chan model.Message
	presence   chan model.PresenceEvent
	mu         sync.RWMutex
	producer   *kafka.Writer
	redis      *redis.Client
	ids        *msgid.Generator
}

func NewHub(kafkaBrokers []string, topic string, redisAddr string) *Hub {
	producer := &kafka.Writer{
		Addr:     kafka.TCP(kafkaBrokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Consumer for fanout. Unique group per gateway instance so every
	// gateway sees every chat event.
	consumer := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkaBrokers,
		Topic:       topic,
		GroupID:     "gateway-group-" + time.Now().String(),
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})

	// Node id should be unique per instance in production (env var or
	// service discovery).
	ids, err := msgid.NewGenerator(1)
	if err != nil {
		log.Fatalf("Failed to initialize id generator: %v", err)
	}

	h := &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		chat:       make(chan model.Message),
		presence:   make(chan model.PresenceEvent),
		producer:   producer,
		redis:      rdb,
		ids:        ids,
	}

	go h.consumeChat(consumer)
	go h.consumePresence()

	return h
}

// consumeChat fans Kafka chat events out to the room's clients.
func (h *Hub) consumeChat(consumer *kafka.Reader) {
	defer consumer.Close()
	for {
		m, err := consumer.ReadMessage(context.Background())
		if err != nil {
			log.Printf("Gateway consumer error: %v", err)
			break
		}

		var msg model.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			log.Printf("Failed to unmarshal chat event from Kafka: %v", err)
			continue
		}

		env, err := model.NewEnvelope(model.KindChat, msg)
		if err != nil {
			continue
		}
		h.fanOut(msg.RoomID, env)
	}
}

// consumePresence fans Redis presence signals out to the room's clients.
// Presence never touches Kafka or storage.
func (h *Hub) consumePresence() {
	sub := h.redis.PSubscribe(context.Background(), "room:*:presence")
	defer sub.Close()

	for m := range sub.Channel() {
		var ev model.PresenceEvent
		if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
			log.Printf("Failed to unmarshal presence event: %v", err)
			continue
		}

		env, err := model.NewEnvelope(model.KindPresence, ev)
		if err != nil {
			continue
		}
		h.fanOut(ev.RoomID, env)
	}
}

func (h *Hub) fanOut(roomID string, env model.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		return
	}

	// Full lock: slow receivers get evicted from the map right here.
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[roomID]; ok {
		for client := range clients {
			select {
			case client.send <- frame:
			default:
				close(client.send)
				delete(clients, client)
			}
		}
	}
}

func (h *Hub) Run() {
	defer h.producer.Close()
	defer h.redis.Close()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.RoomID] == nil {
				h.clients[client.RoomID] = make(map[*Client]bool)
			}
			h.clients[client.RoomID][client] = true
			h.mu.Unlock()
			connectedClients.Inc()

			// Track participants in a Redis set for the API's
			// participants endpoint.
			err := h.redis.SAdd(context.Background(), "room:"+client.RoomID+":participants", client.ID).Err()
			if err != nil {
				log.Printf("Failed to record participant %s: %v", client.ID, err)
			}
			log.Printf("Client registered: %s in room %s", client.ID, client.RoomID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.RoomID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.clients, client.RoomID)
					}
					connectedClients.Dec()

					err := h.redis.SRem(context.Background(), "room:"+client.RoomID+":participants", client.ID).Err()
					if err != nil {
						log.Printf("Failed to remove participant %s: %v", client.ID, err)
					}
					log.Printf("Client unregistered: %s from room %s", client.ID, client.RoomID)
				}
			}
			h.mu.Unlock()

		case msg := <-h.chat:
			// Assign id and timestamp, stamp delivery state, then
			// publish to Kafka. Fanout happens when the event comes
			// back through the consumer, same as every other gateway.
			if msg.ID == 0 {
				msg.ID = h.ids.Next()
			}
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = time.Now()
			}
			msg.DeliveryState = model.StateSent

			jsonMsg, err := json.Marshal(msg)
			if err != nil {
				log.Printf("Failed to marshal chat event: %v", err)
				continue
			}

			err = h.producer.WriteMessages(context.Background(),
				kafka.Message{
					Key:   []byte(msg.RoomID),
					Value: jsonMsg,
					Time:  time.Now(),
				},
			)
			if err != nil {
				log.Printf("Failed to write chat event to Kafka: %v", err)
			} else {
				chatPublished.Inc()
			}

		case ev := <-h.presence:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			err = h.redis.Publish(context.Background(), "room:"+ev.RoomID+":presence", payload).Err()
			if err != nil {
				log.Printf("Failed to publish presence event: %v", err)
			} else {
				presencePublished.Inc()
			}
		}
	}
}
