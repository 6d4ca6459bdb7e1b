package main

import (
	"context"
	"log"

	"github.com/mahir/supportline/pkg/config"
	"github.com/mahir/supportline/pkg/db"
)

func main() {
	cfg := config.Load()

	groupID := "messaging-service-group"

	// Note: In production, schema creation should be handled by migration
	// tools. For this MVP we create keyspace/tables if missing, which
	// needs a session without a keyspace first.
	sysSession, err := db.NewSession(cfg.ScyllaHosts, "system")
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB system keyspace: %v", err)
	}

	err = sysSession.Query(`CREATE KEYSPACE IF NOT EXISTS supportline WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	if err != nil {
		log.Fatalf("Failed to create keyspace: %v", err)
	}
	sysSession.Close()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB %s keyspace: %v", cfg.Keyspace, err)
	}
	defer session.Close()

	// Newest-first clustering so the history endpoint reads pages in the
	// order it serves them.
	err = session.Query(`CREATE TABLE IF NOT EXISTS room_messages (
		room_id text,
		id bigint,
		sender_role text,
		sender_label text,
		body text,
		attachment_url text,
		attachment_name text,
		attachment_size bigint,
		attachment_mime text,
		created_at timestamp,
		delivery_state text,
		reactions text,
		edited boolean,
		PRIMARY KEY (room_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`).Exec()
	if err != nil {
		log.Fatalf("Failed to create room_messages table: %v", err)
	}

	err = session.Query(`CREATE TABLE IF NOT EXISTS rooms (
		room_id text,
		last_operator text,
		last_joined timestamp,
		resolved boolean,
		resolved_by text,
		resolved_at timestamp,
		PRIMARY KEY (room_id)
	)`).Exec()
	if err != nil {
		log.Fatalf("Failed to create rooms table: %v", err)
	}

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, groupID, session)
	defer consumer.Close()

	log.Println("Starting Kafka Consumer...")
	consumer.Consume(context.Background())
}
