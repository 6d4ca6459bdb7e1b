package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/mahir/supportline/pkg/auth"
	"github.com/mahir/supportline/pkg/db"
	"github.com/mahir/supportline/pkg/model"
	"github.com/mahir/supportline/pkg/store"
)

const defaultPageSize = 50

type HistoryHandler struct {
	db *db.Session
}

func NewHistoryHandler(session *db.Session) *HistoryHandler {
	return &HistoryHandler{db: session}
}

// ServeHTTP returns one page of room history, newest first. The clustering
// order on room_messages is already id DESC, so rows come back in page
// order; offset is applied while iterating since CQL has no OFFSET.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultPageSize
	}

	var total int
	if err := h.db.Query(`SELECT COUNT(*) FROM room_messages WHERE room_id = ?`, roomID).Scan(&total); err != nil {
		log.Printf("Failed to count messages: %v", err)
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}

	iter := h.db.Query(`SELECT id, sender_role, sender_label, body,
		attachment_url, attachment_name, attachment_size, attachment_mime,
		created_at, delivery_state, reactions, edited
		FROM room_messages WHERE room_id = ?`, roomID).Iter()

	page := store.Page{Items: []model.Message{}, Total: total}

	var (
		id, attSize                  int64
		role, label, body            string
		attURL, attName, attMime     string
		deliveryState, reactionsJSON string
		createdAt                    time.Time
		edited                       bool
		row                          int
	)
	for iter.Scan(&id, &role, &label, &body, &attURL, &attName, &attSize, &attMime,
		&createdAt, &deliveryState, &reactionsJSON, &edited) {
		row++
		if row <= offset {
			continue
		}
		if len(page.Items) >= limit {
			continue
		}

		msg := model.Message{
			ID:            id,
			RoomID:        roomID,
			SenderRole:    model.SenderRole(role),
			SenderLabel:   label,
			Body:          body,
			CreatedAt:     createdAt,
			DeliveryState: model.DeliveryState(deliveryState),
			Edited:        edited,
		}
		if attURL != "" {
			msg.Attachment = &model.Attachment{
				URL:       attURL,
				Name:      attName,
				SizeBytes: attSize,
				MimeType:  attMime,
			}
		}
		if reactionsJSON != "" {
			if err := json.Unmarshal([]byte(reactionsJSON), &msg.Reactions); err != nil {
				log.Printf("Bad reactions payload on message %d: %v", id, err)
			}
		}
		page.Items = append(page.Items, msg)
	}

	if err := iter.Close(); err != nil {
		log.Printf("Failed to iterate messages: %v", err)
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

type TokenRequest struct {
	OperatorID string `json:"operator_id"`
	Label      string `json:"label"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

func TokenHandler(secret []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if req.OperatorID == "" {
			http.Error(w, "operator_id is required", http.StatusBadRequest)
			return
		}
		if req.Label == "" {
			req.Label = req.OperatorID
		}

		token, err := auth.GenerateToken(secret, req.OperatorID, req.Label)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenResponse{Token: token})
	}
}

func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
				tokenString = tokenString[7:]
			}

			claims, err := auth.ValidateToken(secret, tokenString)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := auth.WithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
