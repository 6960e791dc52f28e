package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Game is one match inside a contest round. Tickets may only reference games
// whose contest window is still open.
type Game struct {
	bun.BaseModel `bun:"table:games"`

	GameID    string    `bun:"game_id,pk" json:"game_id"`
	ContestID string    `bun:"contest_id" json:"contest_id"`
	HomeTeam  string    `bun:"home_team" json:"home_team"`
	AwayTeam  string    `bun:"away_team" json:"away_team"`
	KickoffAt time.Time `bun:"kickoff_at" json:"kickoff_at"`
	Open      bool      `bun:"open" json:"open"`
}
