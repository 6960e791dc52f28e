package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-bolao/internal/config"
	"ms-bolao/internal/database/migrations"
	"ms-bolao/internal/models"
)

// Standalone migration tool. `-down` rolls the schema back, `-seed`
// inserts a round of sample games for local development.
func main() {
	down := flag.Bool("down", false, "roll back all migrations")
	seed := flag.Bool("seed", false, "insert sample games after migrating")
	dir := flag.String("dir", "./migrations", "migrations directory")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqldb.Close()

	ctx := context.Background()
	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	runner := migrations.NewRunner(db, *dir)
	defer runner.Close()

	if *down {
		if err := runner.MigrateDown(); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("Schema rolled back")
		return
	}

	if err := runner.MigrateUp(); err != nil {
		log.Fatalf("Migration up failed: %v", err)
	}
	log.Println("Schema up to date")

	if *seed {
		if err := seedGames(ctx, db); err != nil {
			log.Fatalf("Seed failed: %v", err)
		}
		log.Println("Sample games seeded")
	}
}

func seedGames(ctx context.Context, db *bun.DB) error {
	kickoff := time.Now().Add(48 * time.Hour)
	games := []models.Game{
		{GameID: "game001", ContestID: "rodada-01", HomeTeam: "Flamengo", AwayTeam: "Palmeiras", KickoffAt: kickoff, Open: true},
		{GameID: "game002", ContestID: "rodada-01", HomeTeam: "Corinthians", AwayTeam: "Gremio", KickoffAt: kickoff.Add(2 * time.Hour), Open: true},
		{GameID: "game003", ContestID: "rodada-01", HomeTeam: "Santos", AwayTeam: "Cruzeiro", KickoffAt: kickoff.Add(4 * time.Hour), Open: true},
	}

	_, err := db.NewInsert().Model(&games).On("CONFLICT (game_id) DO NOTHING").Exec(ctx)
	return err
}
