package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"poolbot-server/internal/auth"
	"poolbot-server/internal/db"
	"poolbot-server/internal/observability"
	"poolbot-server/internal/relay"
	"poolbot-server/internal/robot"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool

	// EnableRelay controls the MQTT side. The serverless entrypoint turns
	// it off: a function instance cannot hold a persistent subscription,
	// so command endpoints degrade to store-only writes there.
	EnableRelay bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	accessSecret, err := mustEnv("ACCESS_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	refreshSecret, err := mustEnv("REFRESH_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}

	environment := envOrDefault("APP_ENV", "development")
	production := environment == "production"

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), environment); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	tokens := auth.NewTokenService(accessSecret, refreshSecret)
	tokens.WithTTLs(
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
	)

	userRepo := auth.NewRepository(database)
	authService := auth.NewService(userRepo, tokens)
	authHandler := auth.NewHandler(authService, production)

	loginLimiter := auth.NewLoginRateLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	robotRepo := robot.NewRepository(database)

	var publisher robot.CommandPublisher = disabledPublisher{}
	var deviceRelay *relay.Relay
	if options.EnableRelay {
		brokerURL, err := mustEnv("MQTT_BROKER_URL")
		if err != nil {
			_ = database.Close()
			return nil, err
		}

		// The inbound routing table is assembled here, once, and handed
		// to the relay by reference.
		routes := relay.Routes{
			relay.StatusTopic: robot.StatusIngestor(robotRepo, logger),
		}

		deviceRelay, err = relay.New(relay.Config{
			BrokerURL:      brokerURL,
			ClientID:       envOrDefault("MQTT_CLIENT_ID", "poolbot-server"),
			PublishTimeout: envSecondsOrDefault("MQTT_PUBLISH_TIMEOUT_SECONDS", 5),
		}, logger, routes)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init relay: %w", err)
		}

		publisher = deviceRelay
	}

	robotHandler := robot.NewHandler(robotRepo, publisher, logger)
	streamHandler := robot.NewStreamHandler(robotRepo, logger, envSecondsOrDefault("STREAM_INTERVAL_SECONDS", 1))

	withAuth := func(next http.HandlerFunc) http.Handler {
		return auth.RequireAuth(tokens, next)
	}
	withOwnership := func(next http.HandlerFunc) http.Handler {
		return auth.RequireAuth(tokens, robot.RequireOwnership(robotRepo, next))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /users/signup", http.HandlerFunc(authHandler.Signup))
	mux.Handle("POST /users/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /users/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /users/logout", authHandler.Logout)
	mux.HandleFunc("GET /health", healthHandler(database))
	mux.Handle("POST /robots/new", withAuth(robotHandler.New))
	mux.Handle("POST /robots/delete", withAuth(robotHandler.Delete))
	mux.Handle("POST /robots/rename", withOwnership(robotHandler.Rename))
	mux.Handle("POST /robots/start", withOwnership(robotHandler.Start))
	mux.Handle("POST /robots/stop", withOwnership(robotHandler.Stop))
	mux.Handle("POST /robots/fetch", withAuth(robotHandler.Fetch))
	mux.Handle("GET /robots/stream", withAuth(streamHandler.Stream))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			if deviceRelay != nil {
				deviceRelay.Close()
			}
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

type disabledPublisher struct{}

func (disabledPublisher) PublishCommand(string, string) error {
	return errors.New("device relay not configured")
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
