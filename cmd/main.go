package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fjod/go_cart/session-cart/internal/cart"
	"github.com/fjod/go_cart/session-cart/internal/config"
	h "github.com/fjod/go_cart/session-cart/internal/http"
	"github.com/fjod/go_cart/session-cart/internal/logger"
	"github.com/fjod/go_cart/session-cart/internal/poller"
	"github.com/fjod/go_cart/session-cart/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	v, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(v.GetString("log.level"), v.GetBool("log.development"))
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	ctx := context.Background()
	backend, err := newBackend(ctx, v, zl)
	if err != nil {
		zl.Fatal("Failed to set up session store", zap.Error(err))
	}

	managers := func(sessionID string) *cart.Manager {
		return cart.NewManager(backend.Session(sessionID), v, zl)
	}

	requestTimeout := v.GetDuration("server.request_timeout")
	cartHandler := h.NewCartHandler(managers, requestTimeout, v.GetString("session.cookie_name"), zl)
	router := h.NewRouter(cartHandler, h.RouterConfig{
		CookieName:     v.GetString("session.cookie_name"),
		SessionTTL:     v.GetDuration("session.ttl"),
		RequestTimeout: requestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + v.GetString("server.http_port"),
		Handler:      otelhttp.NewHandler(router, "session-cart"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	pollCtx, stopPoller := context.WithCancel(ctx)
	defer stopPoller()

	var p *poller.Poller
	if brokers := splitList(v.GetStringSlice("kafka.brokers")); len(brokers) > 0 {
		clearCart := func(ctx context.Context, sessionID string) error {
			_, err := managers(sessionID).Clear(ctx)
			return err
		}
		p = poller.NewPoller(clearCart, zl, v.GetString("kafka.topic"), v.GetString("kafka.group_id"), brokers...)
		go p.Run(pollCtx)
		zl.Info("Session event poller started",
			zap.Strings("brokers", brokers),
			zap.String("topic", v.GetString("kafka.topic")))
	}

	go func() {
		zl.Info("Cart service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("Shutting down cart service...")
	shutdownCtx, cancel := context.WithTimeout(ctx, v.GetDuration("server.shutdown_timeout"))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}

	stopPoller()
	if p != nil {
		p.Close()
	}
	if err := backend.Close(); err != nil {
		zl.Error("failed to close session store", zap.Error(err))
	}
	zl.Info("Cart service stopped")
}

func newBackend(ctx context.Context, v *viper.Viper, zl *zap.Logger) (session.Backend, error) {
	ttl := v.GetDuration("session.ttl")

	var backend session.Backend
	switch driver := v.GetString("session.driver"); driver {
	case "memory":
		backend = session.NewMemoryBackend(ttl)
		zl.Info("Using in-memory session store")

	case "redis":
		redisClient := redis.NewClient(&redis.Options{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		backend = session.NewRedisBackend(redisClient, ttl)
		zl.Info("Redis ping succeeded", zap.String("addr", v.GetString("redis.addr")))

	case "mongo":
		db, err := session.ConnectMongoDB(ctx, v.GetString("mongo.uri"), v.GetString("mongo.database"))
		if err != nil {
			return nil, err
		}
		mongoBackend := session.NewMongoBackend(db, ttl)
		if err := mongoBackend.CreateIndexes(ctx); err != nil {
			mongoBackend.Close()
			return nil, err
		}
		backend = mongoBackend
		zl.Info("Connected to MongoDB", zap.String("database", v.GetString("mongo.database")))

	default:
		return nil, fmt.Errorf("unknown session driver %q", driver)
	}

	if v.GetBool("session.breaker") {
		backend = session.NewBreakerBackend(backend, session.DefaultBreakerSettings("session-store", zl))
	}
	return backend, nil
}

// splitList accepts both list values from a config file and a
// comma separated string from the environment.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
