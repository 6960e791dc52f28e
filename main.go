package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-bolao/internal/auth"
	"ms-bolao/internal/config"
	"ms-bolao/internal/database/migrations"
	"ms-bolao/internal/events"
	"ms-bolao/internal/logger"
	"ms-bolao/internal/pix"
	"ms-bolao/internal/reconcile"
	"ms-bolao/internal/reconcile/webhook_api"
	"ms-bolao/internal/scheduler"
	"ms-bolao/internal/stats"
	"ms-bolao/internal/stats/stats_api"
	"ms-bolao/internal/ticket"
	ticketdb "ms-bolao/internal/ticket/db"
	"ms-bolao/internal/ticket/ticket_api"
)

func verifyConnections(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.PingContext(ctx)
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	log.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	// Expiration wake-ups ride on keyspace expiry events.
	if _, err := redisClient.ConfigSet(ctx, "notify-keyspace-events", "Ex").Result(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	} else {
		log.Info("REDIS", "Keyspace notifications enabled for expired events")
	}

	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, redisClient.Options().DB))
	return bunDB, redisClient
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Bolao Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	ctx := context.Background()

	log.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	runner := migrations.NewRunner(bunDB, "./migrations")
	if err := runner.MigrateUp(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	defer runner.Close()

	var producer *events.Producer
	if cfg.Kafka.Enabled {
		log.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %v", cfg.Kafka.Brokers))
		producer = events.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()

		if err := events.EnsureTopicsExist(cfg.Kafka.Brokers, events.Topics()); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
	} else {
		log.Warn("KAFKA", "Kafka disabled, ticket events will not be published")
	}

	store := &ticketdb.DB{Bun: bunDB}
	pixClient := pix.NewClient(cfg.Pix, nil, log)

	sched := scheduler.New(redisClient, store, nil, log)

	var publisher ticket.KafkaPublisher
	if producer != nil {
		publisher = producer
	}
	ticketService := ticket.NewService(store, pixClient, publisher, sched, log, cfg.Pool.LinePrice, cfg.Pool.ChargeTTL)
	sched.Tickets = ticketService

	engine := reconcile.NewEngine(store, ticketService, pixClient, log)

	ticketHandler := ticket_api.NewHandler(ticketService, log)
	webhookHandler := webhook_api.NewHandler(engine, log)
	statsHandler := stats_api.NewHandler(stats.NewService(bunDB), log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	r.Route("/api/bolao", func(r chi.Router) {
		// --- Public Routes ---
		r.Get("/games/open", ticketHandler.ListOpenGames)
		r.Post("/ticket", ticketHandler.CreateTicket)
		r.Get("/ticket/{ticketId}", ticketHandler.GetTicket)
		r.Get("/charge/{txid}", ticketHandler.GetCharge)
		r.Get("/charge/{txid}/qrcode", ticketHandler.GetChargeQR)
		r.Post("/charge/{txid}/check", webhookHandler.CheckCharge)
		r.Post("/pix/webhook", webhookHandler.HandleWebhook)
		log.Info("ROUTER", "Public routes registered under /api/bolao")

		// --- Admin Routes ---
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.AdminMiddleware())
			r.Post("/ticket/{ticketId}/force-paid", ticketHandler.ForceMarkPaid)
			r.Post("/ticket/{ticketId}/cancel", ticketHandler.CancelTicket)
			r.Get("/notifications/{txid}", webhookHandler.ListNotifications)
			r.Get("/stats", statsHandler.GetOverview)
		})
		log.Info("ROUTER", "Admin routes registered under /api/bolao/admin")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Info("SCHEDULER", "Running expiration recovery pass")
	if err := sched.Recover(ctx); err != nil {
		log.Error("SCHEDULER", fmt.Sprintf("Recovery pass failed: %v", err))
	}

	log.Info("SCHEDULER", "Starting expiration subscription")
	schedCtx, stopSched := context.WithCancel(ctx)
	defer stopSched()
	sched.Subscribe(schedCtx)
	sched.StartSweeper(schedCtx, cfg.Pool.SweepInterval)

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Bolao Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Bolao Service shutdown complete")
	}
}
