package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ChargeStatus string

const (
	ChargeActive    ChargeStatus = "active"
	ChargePaid      ChargeStatus = "paid"
	ChargeCancelled ChargeStatus = "cancelled"
	ChargeExpired   ChargeStatus = "expired"
)

// Charge is the local mirror of the PIX charge created at the gateway.
// One charge maps to exactly one ticket; the txid is the correlating key.
type Charge struct {
	bun.BaseModel `bun:"table:charges"`

	TxID        string       `bun:"txid,pk" json:"txid"`
	TicketID    string       `bun:"ticket_id" json:"ticket_id"`
	Amount      float64      `bun:"amount" json:"amount"`
	Status      ChargeStatus `bun:"status" json:"status"`
	RawStatus   string       `bun:"raw_status,nullzero" json:"raw_status,omitempty"`
	CopiaECola  string       `bun:"copia_e_cola" json:"copia_e_cola"`
	Location    string       `bun:"location" json:"location"`
	Environment string       `bun:"environment" json:"environment"`
	ExpiresAt   time.Time    `bun:"expires_at" json:"expires_at"`
	CreatedAt   time.Time    `bun:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
	PaidAt      time.Time    `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
}
