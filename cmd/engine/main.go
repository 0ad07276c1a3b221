package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tcsgo-engine/internal/ack"
	"tcsgo-engine/internal/catalog"
	"tcsgo-engine/internal/config"
	"tcsgo-engine/internal/engine"
	"tcsgo-engine/internal/handler"
	"tcsgo-engine/internal/kvstore"
	"tcsgo-engine/internal/middleware"
	"tcsgo-engine/internal/pricing"
	"tcsgo-engine/internal/queue"
	"tcsgo-engine/internal/repository"
	"tcsgo-engine/internal/roll"
	"tcsgo-engine/internal/router"
	"tcsgo-engine/internal/service"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting TCSGO engine...")

	// Load configuration
	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)

	// Initialize document store based on config
	var (
		store       kvstore.Store
		sqliteStore *kvstore.SQLiteStore
	)
	switch cfg.Store.Type {
	case "redis":
		redisStore, err := kvstore.NewRedisStore(kvstore.RedisStoreConfig{
			Addr:      cfg.Store.RedisAddress(),
			Password:  cfg.Store.RedisPassword,
			DB:        cfg.Store.RedisDB,
			KeyPrefix: cfg.Store.RedisKeyPrefix,
		})
		if err != nil {
			log.Fatalf("Failed to initialize Redis store: %v", err)
		}
		store = redisStore
		log.Println("Redis document store initialized")
	case "memory":
		store = kvstore.NewMemoryStore()
		log.Println("In-memory document store initialized (data will not survive restarts)")
	default: // sqlite
		var err error
		sqliteStore, err = kvstore.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite store: %v", err)
		}
		store = sqliteStore
		log.Println("SQLite document store initialized")
	}
	defer store.Close()

	// Load the container catalog and price book
	cat, err := catalog.Load(cfg.Engine.CatalogDir)
	if err != nil {
		log.Fatalf("Failed to load container catalog: %v", err)
	}
	log.Printf("Catalog loaded: %d containers", len(cat.List()))

	var book *pricing.Book
	if cfg.Engine.PriceBookPath != "" {
		book, err = pricing.LoadBook(cfg.Engine.PriceBookPath)
		if err != nil {
			log.Fatalf("Failed to load price book: %v", err)
		}
	} else {
		book = pricing.NewBook(pricing.BookDocument{})
		log.Println("No price book configured, quoting from tier base prices")
	}

	// Initialize MySQL connection for account links (optional)
	var links repository.LinkRepository
	mysqlDB, err := sql.Open("mysql", cfg.Database.DSN())
	if err != nil {
		log.Printf("Warning: MySQL connection failed: %v", err)
	} else {
		mysqlDB.SetMaxOpenConns(10)
		mysqlDB.SetMaxIdleConns(5)
		mysqlDB.SetConnMaxLifetime(5 * time.Minute)

		if err := mysqlDB.Ping(); err != nil {
			log.Printf("Warning: MySQL ping failed: %v", err)
			mysqlDB.Close()
			mysqlDB = nil
		} else {
			links, err = repository.NewMySQLLinkRepository(mysqlDB)
			if err != nil {
				log.Fatalf("Failed to initialize link repository: %v", err)
			}
			log.Println("MySQL link repository initialized")
		}
	}
	if mysqlDB != nil {
		defer mysqlDB.Close()
	}
	if links == nil {
		links = repository.NewMemoryLinkRepository()
		log.Println("In-memory link repository initialized")
	}

	// Initialize Redis client for tokens and the ack broker
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Store.RedisAddress(),
		Password: cfg.Store.RedisPassword,
		DB:       cfg.Store.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed: %v", err)
		redisClient = nil
	} else {
		log.Println("Redis client initialized")
	}
	cancel()

	var broker ack.Broker
	if redisClient != nil {
		redisBroker, err := ack.NewRedisBroker(ack.RedisBrokerConfig{
			Addr:     cfg.Store.RedisAddress(),
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err != nil {
			log.Printf("Warning: Redis ack broker failed, using in-process broker: %v", err)
			broker = ack.NewMemoryBroker()
		} else {
			broker = redisBroker
		}
	} else {
		broker = ack.NewMemoryBroker()
		log.Println("In-process ack broker initialized")
	}

	// Core engine wiring
	ledgers := engine.NewLedgerStore(store)
	roller := roll.NewEngine(roll.NewSource(), book)
	executor := engine.NewExecutor(ledgers, cat, roller)
	jobQueue := queue.New(store, service.QueueFamily, queue.WithLockTTL(cfg.Engine.LockTTL))
	dispatcher := ack.NewDispatcher(broker,
		ack.WithDeadline(cfg.Engine.AckDeadline),
		ack.WithPollInterval(cfg.Engine.AckPollInterval),
	)
	wallet := service.NewKVWallet(store, cfg.Engine.StartingBalance)

	economy := service.NewEconomyService(cat, book, wallet, executor, ledgers, jobQueue, broker, dispatcher)
	reconcile := service.NewReconcileService(links, ledgers, jobQueue)

	// Push delivery of acks to in-flight dispatches
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go func() {
		if err := dispatcher.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Printf("Ack subscription ended: %v", err)
		}
	}()

	// Periodic drain picks up jobs stranded by a crashed lease holder
	pump := service.NewDrainPump(economy, service.PumpConfig{Interval: cfg.Engine.DrainInterval})
	pump.Start()
	defer pump.Stop()

	var tokenService *service.TokenService
	if redisClient != nil {
		tokenService = service.NewTokenService(redisClient)
	}

	// Initialize handlers
	healthHandler := handler.New(cfg.App.Version)
	economyHandler := handler.NewEconomyHandler(economy)
	catalogHandler := handler.NewCatalogHandler(cat, book)
	adminHandler := handler.NewAdminHandler(economy, reconcile, sqliteStore, cfg.Store.Type, cfg.App.LoginKey)
	linkHandler := handler.NewLinkHandler(links, reconcile)

	var authHandler *handler.AuthHandler
	if tokenService != nil {
		authHandler = handler.NewAuthHandler(tokenService, getAPIKeys())
	}

	authMiddleware := middleware.NewAuthMiddleware(middleware.AuthConfig{
		TokenService: tokenService,
		LoginKey:     cfg.App.LoginKey,
	})

	// Create router
	r := router.New(router.Config{
		Handler:        healthHandler,
		EconomyHandler: economyHandler,
		CatalogHandler: catalogHandler,
		AdminHandler:   adminHandler,
		AuthHandler:    authHandler,
		LinkHandler:    linkHandler,
		AuthMiddleware: authMiddleware,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
	fmt.Println("Goodbye!")
}

// getAPIKeys reads the static API key list from the environment.
func getAPIKeys() []string {
	raw := os.Getenv("API_KEYS")
	if raw == "" {
		if key := os.Getenv("API_KEY"); key != "" {
			return []string{key}
		}
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
