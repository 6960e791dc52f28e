package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-bolao/internal/config"
	"ms-bolao/internal/events"
	"ms-bolao/internal/logger"
	"ms-bolao/internal/scheduler"
	"ms-bolao/internal/ticket"
	ticketdb "ms-bolao/internal/ticket/db"
)

// Standalone expiration worker. Runs the same recovery pass and redis
// keyspace subscription as the API service, for deployments that keep
// ticket expiry off the request-serving process.
func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting expiration worker")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	ctx := context.Background()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	defer sqldb.Close()
	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	if _, err := redisClient.ConfigSet(ctx, "notify-keyspace-events", "Ex").Result(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	}

	var publisher ticket.KafkaPublisher
	if cfg.Kafka.Enabled {
		producer := events.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		publisher = producer
	}

	store := &ticketdb.DB{Bun: bunDB}
	ticketService := ticket.NewService(store, nil, publisher, nil, log, cfg.Pool.LinePrice, cfg.Pool.ChargeTTL)
	sched := scheduler.New(redisClient, store, ticketService, log)

	if err := sched.Recover(ctx); err != nil {
		log.Error("SCHEDULER", fmt.Sprintf("Recovery pass failed: %v", err))
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sched.Subscribe(subCtx)
	sched.StartSweeper(subCtx, cfg.Pool.SweepInterval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Expiration worker running, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, stopping worker")
}
