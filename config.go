package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr    string
	DBPath        string
	RedisAddr     string
	Channel       string
	GatewayURL    string
	GatewayToken  string
	GatewayDomain string
	WebhookSecret string
	SMSURL        string
	SMSToken      string
}

func LoadConfig() Config {
	// Optional .env for local development; real deployments set env vars.
	godotenv.Load()

	cfg := Config{}

	flag.StringVar(&cfg.ListenAddr, "addr", defaultAddr(), "Listen address")
	flag.StringVar(&cfg.DBPath, "db", envOrDefault("COURIER_DB", "courier.db"), "SQLite database path")
	flag.StringVar(&cfg.RedisAddr, "redis", envOrDefault("COURIER_REDIS", "localhost:6379"), "Redis address for shared counters")
	flag.StringVar(&cfg.Channel, "channel", envOrDefault("COURIER_CHANNEL", "whatsapp"), "Primary channel name")
	flag.StringVar(&cfg.GatewayURL, "gateway-url", envOrDefault("COURIER_GATEWAY_URL", ""), "Messaging gateway base URL")
	flag.StringVar(&cfg.GatewayToken, "gateway-token", envOrDefault("COURIER_GATEWAY_TOKEN", ""), "Messaging gateway bearer token")
	flag.StringVar(&cfg.GatewayDomain, "gateway-domain", envOrDefault("COURIER_GATEWAY_DOMAIN", "s.whatsapp.net"), "Recipient JID domain suffix")
	flag.StringVar(&cfg.WebhookSecret, "webhook-secret", envOrDefault("COURIER_WEBHOOK_SECRET", ""), "Inbound webhook HMAC secret")
	flag.StringVar(&cfg.SMSURL, "sms-url", envOrDefault("COURIER_SMS_URL", ""), "SMS fallback provider URL")
	flag.StringVar(&cfg.SMSToken, "sms-token", envOrDefault("COURIER_SMS_TOKEN", ""), "SMS fallback provider token")
	flag.Parse()

	return cfg
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultAddr() string {
	if v := os.Getenv("COURIER_ADDR"); v != "" {
		return v
	}
	// Railway, Render, etc. set PORT
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8091"
}
