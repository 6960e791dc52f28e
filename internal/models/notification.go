package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Notification outcomes recorded in the log. The log is append-only: rows are
// never rewritten except to record the outcome once resolved. Applied is set
// only when the notification caused a transition or confirmed one that
// already landed; rejected, no-change and unrecognized entries keep it false.
const (
	NotificationReceived     = "received"
	NotificationApplied      = "applied"
	NotificationNoop         = "noop_already_paid"
	NotificationNoChange     = "no_change"
	NotificationRejected     = "rejected_terminal"
	NotificationUnrecognized = "unrecognized_status"
)

// NotificationLog records every inbound gateway notification keyed by txid.
// It is the idempotency and audit record for the reconciliation engine.
type NotificationLog struct {
	bun.BaseModel `bun:"table:notification_log"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	TxID       string    `bun:"txid" json:"txid"`
	Source     string    `bun:"source" json:"source"`
	Payload    string    `bun:"payload" json:"payload"`
	Outcome    string    `bun:"outcome" json:"outcome"`
	Applied    bool      `bun:"applied" json:"applied"`
	ReceivedAt time.Time `bun:"received_at" json:"received_at"`
	AppliedAt  time.Time `bun:"applied_at,nullzero" json:"applied_at,omitempty"`
}

// PixEvent is one settled-payment entry inside a gateway notification body.
type PixEvent struct {
	TxID        string `json:"txid"`
	EndToEndID  string `json:"endToEndId"`
	Valor       string `json:"valor"`
	Horario     string `json:"horario"`
	InfoPagador string `json:"infoPagador,omitempty"`
}

// PixNotification is the inbound webhook body. The gateway batches settled
// payments under "pix"; some legacy senders post a flat txid instead.
type PixNotification struct {
	Pix  []PixEvent `json:"pix"`
	TxID string     `json:"txid,omitempty"`
}

// TxIDs returns every charge identifier referenced by the notification.
func (n *PixNotification) TxIDs() []string {
	ids := make([]string, 0, len(n.Pix)+1)
	for _, ev := range n.Pix {
		if ev.TxID != "" {
			ids = append(ids, ev.TxID)
		}
	}
	if len(ids) == 0 && n.TxID != "" {
		ids = append(ids, n.TxID)
	}
	return ids
}
