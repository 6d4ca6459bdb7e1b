package main

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mahir/supportline/pkg/config"
	"github.com/mahir/supportline/pkg/db"
)

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-Attachment-Name, Authorization")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	cfg := config.Load()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	secret := []byte(cfg.JWTSecret)

	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(CORSMiddleware))
	protect := AuthMiddleware(secret)

	// Public: token issue (identity is pre-established for real
	// deployments; this is the console's bootstrap).
	r.Handle("/token", TokenHandler(secret)).Methods(http.MethodPost, http.MethodOptions)

	// Everything else requires an operator token.
	r.Handle("/history", protect(NewHistoryHandler(session))).Methods(http.MethodGet)
	r.Handle("/rooms/{id}/join", protect(JoinHandler(session))).Methods(http.MethodPost)
	r.Handle("/rooms/{id}/resolve", protect(ResolveHandler(session))).Methods(http.MethodPost)
	r.Handle("/rooms/{id}/participants", protect(NewParticipantsHandler(cfg.RedisAddr))).Methods(http.MethodGet)

	uploads := NewUploadHandler("uploads")
	r.Handle("/attachments", protect(uploads)).Methods(http.MethodPost)
	r.PathPrefix("/attachments/").Handler(uploads).Methods(http.MethodGet)

	log.Printf("API Service Starting on %s...", cfg.APIAddr)
	if err := http.ListenAndServe(cfg.APIAddr, r); err != nil {
		log.Fatal(err)
	}
}
