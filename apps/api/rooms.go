package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mahir/supportline/pkg/auth"
	"github.com/mahir/supportline/pkg/db"
)

// JoinHandler records the operator's entry into a room.
func JoinHandler(session *db.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFrom(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		roomID := mux.Vars(r)["id"]

		query := `INSERT INTO rooms (room_id, last_operator, last_joined) VALUES (?, ?, ?)`
		if err := session.Query(query, roomID, claims.OperatorID, time.Now()).Exec(); err != nil {
			http.Error(w, "Failed to join room", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

// ResolveHandler flags a room resolved. The flag is monotonic: resolving
// an already-resolved room is a no-op, so repeat calls always succeed.
func ResolveHandler(session *db.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFrom(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		roomID := mux.Vars(r)["id"]

		query := `UPDATE rooms SET resolved = true, resolved_by = ?, resolved_at = ? WHERE room_id = ?`
		if err := session.Query(query, claims.OperatorID, time.Now(), roomID).Exec(); err != nil {
			http.Error(w, "Failed to resolve room", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
