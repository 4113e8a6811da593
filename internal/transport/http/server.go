package http

import (
	"context"
	"errors"
	"fmt"
	"log"
	stdhttp "net/http"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"aircast/internal/config"
	"aircast/internal/database"
	"aircast/internal/handler"
	"aircast/internal/redis"
	"aircast/internal/repository"
	"aircast/internal/service"
)

func Run() error {
	// 1. Load Configuration (fails here if the VAPID pair is incomplete,
	// not on the first delivery)
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Connect to Database
	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// 3. Redis backs the air-quality proxy cache only; the subscription
	// core runs without it.
	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		rc, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		if err := rc.Ping(context.Background()); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		defer rc.Close()
		redisClient = rc.Client
	} else {
		log.Println("REDIS_URL not set, air quality responses will not be cached")
	}

	// 4. Wire repositories, services and handlers
	subRepo := repository.NewSubscriptionRepository(db)
	hasher := service.NewTokenHasher(cfg.BcryptCost)
	subService := service.NewSubscriptionService(subRepo, hasher)

	pushService, err := service.NewPushService(subRepo, service.PushConfig{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.VAPIDSubscriber,
		Workers:         cfg.BroadcastWorkers,
		Timeout:         time.Duration(cfg.PushTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create push service: %w", err)
	}

	airService := service.NewAirQualityService(cfg.OpenAQAPIKey, redisClient)

	router := NewRouter(RouterConfig{
		SubscriptionHandler: handler.NewSubscriptionHandler(subService, pushService),
		AirQualityHandler:   handler.NewAirQualityHandler(airService),
	})

	// 5. Serve with graceful shutdown
	server := &stdhttp.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s", cfg.ServerPort)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
