package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/manutech/courier-server/api"
	"github.com/manutech/courier-server/db"
	"github.com/manutech/courier-server/dispatch"
	"github.com/manutech/courier-server/gateway"
	"github.com/manutech/courier-server/guard"
	"github.com/manutech/courier-server/routing"
	"github.com/manutech/courier-server/webhook"
	"github.com/manutech/courier-server/ws"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := LoadConfig()
	ctx := context.Background()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The guard layer degrades open when the store is down, so a
		// missing redis is a warning, not a startup failure.
		slog.Warn("redis unreachable, resilience controls degrade open", "addr", cfg.RedisAddr, "err", err)
	}
	store := guard.NewRedisStore(rdb)
	breaker := guard.NewCircuitBreaker(store, cfg.Channel)
	limiter := guard.NewRateLimiter(store, cfg.Channel)

	gw := gateway.NewClient(cfg.GatewayURL, cfg.GatewayToken, cfg.GatewayDomain)
	sms := gateway.NewSMSClient(cfg.SMSURL, cfg.SMSToken)

	hub := ws.NewHub()
	go hub.Run()

	dispatcher := dispatch.NewDispatcher(database, gw, sms, breaker, limiter, hub)
	scheduler := dispatch.NewScheduler(database, dispatcher)
	go scheduler.Run(ctx)

	engine := routing.NewEngine(database, newServices(database), routing.BuiltinFunctions(), hub)
	if err := engine.ValidateRules(); err != nil {
		slog.Error("automation rule configuration invalid", "err", err)
		os.Exit(1)
	}

	http.Handle("/webhook", webhook.NewHandler(cfg.WebhookSecret, engine, &responder{db: database, d: dispatcher}))
	api.NewRouter(database, dispatcher, engine).Register(http.DefaultServeMux)

	// Operator event feed
	http.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade failed", "err", err)
			return
		}
		client := ws.NewClient(hub, conn)
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	})

	// Health check
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	slog.Info("courier-server starting", "addr", cfg.ListenAddr, "channel", cfg.Channel)
	if err := http.ListenAndServe(cfg.ListenAddr, nil); err != nil {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}
