package main

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mahir/supportline/pkg/config"
)

func main() {
	cfg := config.Load()

	hub := NewHub(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.RedisAddr)

	jwtSecret := []byte(cfg.JWTSecret)
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, jwtSecret, w, r)
	})
	http.Handle("/metrics", promhttp.Handler())

	var g errgroup.Group
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		log.Printf("Gateway Service Starting on %s...", cfg.GatewayAddr)
		return http.ListenAndServe(cfg.GatewayAddr, nil)
	})
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}
