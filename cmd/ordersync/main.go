package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/broadcast"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/cache"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/cart"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/catalog"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/config"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/httpapi"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/locks"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/order"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/relay"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/repository"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/session"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/sweeper"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New("ordersync", cfg.LogLevel, cfg.LogPretty)

	ctx := context.Background()

	var (
		sessionRepo  repository.SessionRepository
		cartRepo     repository.CartRepository
		activityRepo repository.ActivityRepository
		orderRepo    repository.OrderRepository
		drivers      repository.DriverDirectory
		cartCache    cache.CartCache
	)

	switch cfg.StoreDriver {
	case "memory":
		store := repository.NewMemoryStore()
		orderStore := repository.NewMemoryOrderStore()
		sessionRepo, cartRepo, activityRepo = store, store, store
		orderRepo, drivers = orderStore, orderStore
		cartCache = cache.NewMemoryCache()
		log.Info().Msg("using in-memory storage")

	case "mongo":
		mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to MongoDB")
		}
		defer mongoDB.Client().Disconnect(ctx)
		store := repository.NewMongoStore(mongoDB)
		if err := store.EnsureIndexes(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure MongoDB indexes")
		}
		sessionRepo, cartRepo, activityRepo = store, store, store
		log.Info().Str("uri", cfg.MongoURI).Msg("connected to MongoDB")

		creds := &repository.Credentials{
			Host:              cfg.PostgresHost,
			Port:              cfg.PostgresPort,
			User:              cfg.PostgresUser,
			Password:          cfg.PostgresPassword,
			DBName:            cfg.PostgresDB,
			MigrationsDirPath: cfg.MigrationsDir,
		}
		orderStore, err := repository.NewPostgresOrderStore(creds)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
		}
		defer orderStore.Close()
		if err := orderStore.RunMigrations(creds); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		orderRepo, drivers = orderStore, orderStore
		log.Info().Str("host", cfg.PostgresHost).Msg("connected to PostgreSQL")

		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		cartCache = cache.NewRedisCache(redisClient)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	default:
		log.Fatal().Str("driver", cfg.StoreDriver).Msg("unknown store driver")
	}

	hub := broadcast.NewHub(cfg.EventBuffer, log)
	manager := session.NewManager(sessionRepo, cfg.SessionTTL, log)
	prices := catalog.NewHTTPClient(cfg.CatalogBaseURL, cfg.RequestTimeout, log)
	carts := cart.NewService(manager, cartRepo, activityRepo, prices, cartCache, hub, locks.NewKeyed(), log)
	orders := order.NewService(orderRepo, drivers, carts, manager, hub, cfg.OrderSettleAfter, log)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	go sweeper.New(sessionRepo, cartRepo, orders, log).Run(workerCtx)

	if len(cfg.KafkaBrokers) > 0 {
		writer := relay.NewWriter(cfg.KafkaBrokers...)
		defer writer.Close()
		go relay.New(hub, writer, log).Run(workerCtx)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Msg("event relay started")
	}

	handler := httpapi.NewHandler(manager, carts, orders, hub, cfg.RequestTimeout, log)
	router := httpapi.NewRouter(handler, log)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
		// No WriteTimeout, the events stream stays open indefinitely
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("ordersync listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")
	stopWorkers()
	// Closing the hub ends open event streams so Shutdown can finish
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("ordersync stopped")
}
