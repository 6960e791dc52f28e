package models

import "time"

// TicketEvent is the payload streamed to Kafka on every lifecycle transition.
type TicketEvent struct {
	Type      string       `json:"type"`
	TicketID  string       `json:"ticket_id"`
	TxID      string       `json:"txid,omitempty"`
	Status    TicketStatus `json:"status"`
	Amount    float64      `json:"amount"`
	Source    string       `json:"source,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
