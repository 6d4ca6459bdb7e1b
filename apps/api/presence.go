package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
)

type ParticipantsHandler struct {
	redis *redis.Client
}

func NewParticipantsHandler(redisAddr string) *ParticipantsHandler {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	return &ParticipantsHandler{redis: rdb}
}

// ServeHTTP lists the identities currently connected to a room, from the
// set the gateway maintains.
func (h *ParticipantsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	users, err := h.redis.SMembers(context.Background(), "room:"+roomID+":participants").Result()
	if err != nil {
		log.Printf("Failed to fetch participants for room %s: %v", roomID, err)
		http.Error(w, "Failed to fetch participants", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}
