package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketPaid      TicketStatus = "paid"
	TicketCancelled TicketStatus = "cancelled"
	TicketExpired   TicketStatus = "expired"
)

// Terminal reports whether no further transition is permitted from s.
func (s TicketStatus) Terminal() bool {
	return s == TicketPaid || s == TicketCancelled || s == TicketExpired
}

// Ticket is one priced bundle of predictions (bilhete) paid for as a unit.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID   string       `bun:"ticket_id,pk" json:"ticket_id"`
	OwnerName  string       `bun:"owner_name" json:"owner_name"`
	OwnerPhone string       `bun:"owner_phone" json:"owner_phone"`
	Amount     float64      `bun:"amount" json:"amount"`
	LineCount  int          `bun:"line_count" json:"line_count"`
	Status     TicketStatus `bun:"status" json:"status"`
	TxID       string       `bun:"txid,nullzero" json:"txid,omitempty"`
	OrderRef   string       `bun:"order_ref" json:"order_ref"`
	ClientIP   string       `bun:"client_ip" json:"-"`
	UserAgent  string       `bun:"user_agent" json:"-"`
	PaidSource string       `bun:"paid_source,nullzero" json:"paid_source,omitempty"`
	PaidBy     string       `bun:"paid_by,nullzero" json:"paid_by,omitempty"`
	PaidReason string       `bun:"paid_reason,nullzero" json:"paid_reason,omitempty"`
	CreatedAt  time.Time    `bun:"created_at" json:"created_at"`
	ExpiresAt  time.Time    `bun:"expires_at" json:"expires_at"`
	UpdatedAt  time.Time    `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

type BetLineStatus string

const (
	BetLinePending        BetLineStatus = "pending"
	BetLinePendingPayment BetLineStatus = "pending_payment"
	BetLinePaid           BetLineStatus = "paid"
	BetLineCancelled      BetLineStatus = "cancelled"
	BetLineExpired        BetLineStatus = "expired"
)

// BetLine is one prediction (palpite) for one game, belonging to a ticket.
type BetLine struct {
	bun.BaseModel `bun:"table:bet_lines"`

	LineID     string        `bun:"line_id,pk" json:"line_id"`
	TicketID   string        `bun:"ticket_id" json:"ticket_id"`
	GameID     string        `bun:"game_id" json:"game_id"`
	Prediction string        `bun:"prediction" json:"prediction"`
	Price      float64       `bun:"price" json:"price"`
	Status     BetLineStatus `bun:"status" json:"status"`
	CreatedAt  time.Time     `bun:"created_at" json:"created_at"`
}

type BetLineRequest struct {
	GameID     string `json:"game_id"`
	Prediction string `json:"prediction"`
}

type TicketRequest struct {
	OwnerName  string           `json:"owner_name"`
	OwnerPhone string           `json:"owner_phone"`
	Lines      []BetLineRequest `json:"lines"`
}

type TicketResponse struct {
	TicketID   string       `json:"ticket_id"`
	TxID       string       `json:"txid"`
	Status     TicketStatus `json:"status"`
	Amount     float64      `json:"amount"`
	LineCount  int          `json:"line_count"`
	CopiaECola string       `json:"copia_e_cola"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

type TicketWithLines struct {
	Ticket Ticket    `json:"ticket"`
	Lines  []BetLine `json:"lines"`
}
