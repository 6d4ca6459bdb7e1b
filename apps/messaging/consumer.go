package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mahir/supportline/pkg/db"
	"github.com/mahir/supportline/pkg/model"
)

// Consumer drains the chat topic into Scylla. Only chat events reach the
// topic; presence is fanned out by the gateway over Redis and never
// persisted.
type Consumer struct {
	reader *kafka.Reader
	db     *db.Session
}

func NewConsumer(brokers []string, topic string, groupID string, session *db.Session) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: r, db: session}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			log.Printf("Error reading message: %v. Retrying in 1s...", err)
			time.Sleep(1 * time.Second)
			continue
		}

		var msg model.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			log.Printf("Failed to unmarshal chat event: %v", err)
			continue
		}

		if msg.RoomID == "" || msg.ID == 0 {
			log.Printf("Skipping chat event without room or id")
			continue
		}

		var attURL, attName, attMime string
		var attSize int64
		if msg.Attachment != nil {
			attURL = msg.Attachment.URL
			attName = msg.Attachment.Name
			attSize = msg.Attachment.SizeBytes
			attMime = msg.Attachment.MimeType
		}

		var reactionsJSON string
		if len(msg.Reactions) > 0 {
			raw, err := json.Marshal(msg.Reactions)
			if err == nil {
				reactionsJSON = string(raw)
			}
		}

		// Same-id re-delivery (reaction/edit updates) overwrites the
		// row; (room_id, id) is the primary key, so the insert is an
		// upsert.
		query := `INSERT INTO room_messages (room_id, id, sender_role, sender_label, body,
			attachment_url, attachment_name, attachment_size, attachment_mime,
			created_at, delivery_state, reactions, edited)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		if err := c.db.Query(query, msg.RoomID, msg.ID, string(msg.SenderRole), msg.SenderLabel, msg.Body,
			attURL, attName, attSize, attMime,
			msg.CreatedAt, string(msg.DeliveryState), reactionsJSON, msg.Edited).Exec(); err != nil {
			log.Printf("Failed to save message to ScyllaDB: %v", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
