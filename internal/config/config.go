package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	infisical "github.com/infisical/go-sdk"
)

type Config struct {
	Port          string
	DatabaseURL   string
	RedisURL      string
	RedisPassword string

	MarketAPIURL string
	MarketAPIKey string

	TelegramToken      string
	TelegramWebhookURL string

	PositiveThreshold float64
	NegativeThreshold float64
	ScanBatchSize     int
	SupportedAssets   []string
	Fiat              string
}

func Load() Config {
	cfg := Config{
		Port:          envOr("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      envOr("REDIS_URL", "redis://localhost:6379/0"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		MarketAPIURL: envOr("MARKET_API_URL", "https://pro-api.coinmarketcap.com"),
		MarketAPIKey: os.Getenv("MARKET_API_KEY"),

		TelegramToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL: os.Getenv("TELEGRAM_WEBHOOK_URL"),

		PositiveThreshold: envFloatOr("POSITIVE_THRESHOLD", 10),
		NegativeThreshold: envFloatOr("NEGATIVE_THRESHOLD", 5),
		ScanBatchSize:     envIntOr("SCAN_BATCH_SIZE", 100),
		SupportedAssets:   splitAssets(envOr("SUPPORTED_ASSETS", "BTC,ETH,USDT")),
		Fiat:              envOr("FIAT", "MXN"),
	}

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	return cfg
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL", "https://app.infisical.com")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	secrets := map[string]*string{
		"TELEGRAM_BOT_TOKEN": &cfg.TelegramToken,
		"MARKET_API_KEY":     &cfg.MarketAPIKey,
		"REDIS_PASSWORD":     &cfg.RedisPassword,
	}

	for key, target := range secrets {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

func splitAssets(csv string) []string {
	parts := strings.Split(csv, ",")
	assets := make([]string, 0, len(parts))
	for _, p := range parts {
		if a := strings.ToUpper(strings.TrimSpace(p)); a != "" {
			assets = append(assets, a)
		}
	}
	return assets
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("ignoring non-numeric env value", "key", key, "value", v)
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("ignoring non-numeric env value", "key", key, "value", v)
	}
	return fallback
}
