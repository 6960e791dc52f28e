// Package reconcile converges local ticket/charge state with the gateway's
// authoritative charge status. Push (webhook) and pull (poll) go through the
// same path; every inbound notification lands in the notification log, and
// the log plus the ticket state machine make duplicate delivery harmless.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"ms-bolao/internal/errs"
	"ms-bolao/internal/logger"
	"ms-bolao/internal/models"
	"ms-bolao/internal/pix"
	"ms-bolao/internal/txid"
)

type Store interface {
	GetCharge(ctx context.Context, txid string) (*models.Charge, error)
	GetTicketByTxID(ctx context.Context, txid string) (*models.Ticket, error)
	UpdateChargeRawStatus(ctx context.Context, txid, raw string) error
	AppendNotification(ctx context.Context, entry *models.NotificationLog) error
	MarkNotificationOutcome(ctx context.Context, id int64, outcome string, applied bool) error
	ListNotificationsByTxID(ctx context.Context, txid string) ([]models.NotificationLog, error)
}

// TicketLifecycle is the slice of the ticket service the engine drives. The
// service, not the engine, owns the atomic multi-record transition.
type TicketLifecycle interface {
	MarkPaid(ctx context.Context, ticketID, source string) error
	MarkCancelled(ctx context.Context, ticketID, reason string) error
}

type Gateway interface {
	QueryCharge(ctx context.Context, txid string) (*pix.ChargePayload, error)
}

// Result reports what one reconciliation pass observed and did.
type Result struct {
	TxID          string              `json:"txid"`
	TicketID      string              `json:"ticket_id"`
	GatewayStatus string              `json:"gateway_status"`
	RawStatus     string              `json:"raw_status,omitempty"`
	TicketStatus  models.TicketStatus `json:"ticket_status"`
	Applied       bool                `json:"applied"`
	Outcome       string              `json:"outcome"`
}

type Engine struct {
	Store   Store
	Tickets TicketLifecycle
	Gateway Gateway
	Logger  *logger.Logger
}

func NewEngine(store Store, tickets TicketLifecycle, gateway Gateway, log *logger.Logger) *Engine {
	return &Engine{Store: store, Tickets: tickets, Gateway: gateway, Logger: log}
}

// Reconcile brings the ticket behind the given txid in line with the
// gateway-reported status, exactly once per state change. source is
// "webhook" or "poll";
// payload is the delivered notification body, recorded for audit. The
// delivered body is never trusted as proof of payment: the gateway is always
// re-queried before a transition.
func (e *Engine) Reconcile(ctx context.Context, id, source, payload string) (*Result, error) {
	if !txid.Validate(id) {
		// Rejected before any gateway call: bad data, not "not yet found".
		return nil, &errs.ValidationError{Field: "txid", Reason: "malformed identifier"}
	}

	// Nothing to reconcile without a local charge mirror.
	if _, err := e.Store.GetCharge(ctx, id); err != nil {
		return nil, err
	}

	ticket, err := e.Store.GetTicketByTxID(ctx, id)
	if err != nil {
		return nil, err
	}

	entry := &models.NotificationLog{
		TxID:       id,
		Source:     source,
		Payload:    payload,
		Outcome:    models.NotificationReceived,
		ReceivedAt: time.Now(),
	}
	if err := e.Store.AppendNotification(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record notification: %w", err)
	}

	// Idempotency short-circuit: duplicate confirmations for a paid ticket
	// are expected and are not an error.
	if ticket.Status == models.TicketPaid {
		// The payment this notification reports is already applied, so the
		// duplicate is flagged applied too.
		if err := e.Store.MarkNotificationOutcome(ctx, entry.ID, models.NotificationNoop, true); err != nil {
			return nil, err
		}
		e.Logger.LogReconcile(source, id, "already paid, no-op")
		return &Result{
			TxID:         id,
			TicketID:     ticket.TicketID,
			TicketStatus: ticket.Status,
			Applied:      false,
			Outcome:      models.NotificationNoop,
		}, nil
	}

	// The gateway is the authority; a timed-out or failed query yields no
	// information and must not mutate local state.
	gw, err := e.Gateway.QueryCharge(ctx, id)
	if err != nil {
		e.Logger.Error("RECONCILE", fmt.Sprintf("Gateway query failed for %s: %v", id, err))
		return nil, err
	}

	switch gw.Status {
	case pix.StatusActive:
		if err := e.Store.MarkNotificationOutcome(ctx, entry.ID, models.NotificationNoChange, false); err != nil {
			return nil, err
		}
		e.Logger.LogReconcile(source, id, "charge still active, no change")
		return e.result(id, ticket, gw, false, models.NotificationNoChange), nil

	case pix.StatusSettled:
		if err := e.Tickets.MarkPaid(ctx, ticket.TicketID, source); err != nil {
			if errs.IsConflict(err) {
				// Late settlement against a terminal ticket: logged, never
				// applied, the ticket is not resurrected.
				if logErr := e.Store.MarkNotificationOutcome(ctx, entry.ID, models.NotificationRejected, false); logErr != nil {
					e.Logger.Error("RECONCILE", fmt.Sprintf("Failed to flag rejected notification for %s: %v", id, logErr))
				}
				e.Logger.Warn("RECONCILE", fmt.Sprintf("Settled notification for %s rejected: %v", id, err))
			}
			return nil, err
		}
		if err := e.Store.MarkNotificationOutcome(ctx, entry.ID, models.NotificationApplied, true); err != nil {
			return nil, err
		}
		e.Logger.LogReconcile(source, id, "settled, ticket marked paid")
		return e.resultWithStatus(id, ticket.TicketID, models.TicketPaid, gw, true, models.NotificationApplied), nil

	case pix.StatusRemovedByPayee, pix.StatusRemovedByProvider:
		reason := "removed by payee"
		if gw.Status == pix.StatusRemovedByProvider {
			reason = "removed by provider"
		}
		if err := e.Tickets.MarkCancelled(ctx, ticket.TicketID, reason); err != nil {
			if errs.IsConflict(err) {
				if logErr := e.Store.MarkNotificationOutcome(ctx, entry.ID, models.NotificationRejected, false); logErr != nil {
					e.Logger.Error("RECONCILE", fmt.Sprintf("Failed to flag rejected notification for %s: %v", id, logErr))
				}
				e.Logger.Warn("RECONCILE", fmt.Sprintf("Removal notification for %s rejected: %v", id, err))
			}
			return nil, err
		}
		if err := e.Store.MarkNotificationOutcome(ctx, entry.ID, models.NotificationApplied, true); err != nil {
			return nil, err
		}
		e.Logger.LogReconcile(source, id, "charge removed, ticket cancelled")
		return e.resultWithStatus(id, ticket.TicketID, models.TicketCancelled, gw, true, models.NotificationApplied), nil

	default:
		// Fail-safe: never infer Paid from a status we do not recognize.
		// Store it verbatim so operators can see what the gateway said.
		if err := e.Store.UpdateChargeRawStatus(ctx, id, gw.RawStatus); err != nil {
			return nil, err
		}
		if err := e.Store.MarkNotificationOutcome(ctx, entry.ID, models.NotificationUnrecognized, false); err != nil {
			return nil, err
		}
		e.Logger.Warn("RECONCILE", fmt.Sprintf("Unrecognized gateway status %q for %s, no transition", gw.RawStatus, id))
		return e.result(id, ticket, gw, false, models.NotificationUnrecognized), nil
	}
}

func (e *Engine) result(id string, ticket *models.Ticket, gw *pix.ChargePayload, applied bool, outcome string) *Result {
	return e.resultWithStatus(id, ticket.TicketID, ticket.Status, gw, applied, outcome)
}

func (e *Engine) resultWithStatus(id, ticketID string, status models.TicketStatus, gw *pix.ChargePayload, applied bool, outcome string) *Result {
	return &Result{
		TxID:          id,
		TicketID:      ticketID,
		GatewayStatus: gw.Status.String(),
		RawStatus:     gw.RawStatus,
		TicketStatus:  status,
		Applied:       applied,
		Outcome:       outcome,
	}
}

// Notifications returns the audit trail for a txid. Legacy identifiers that
// predate the validation rule are sanitized, not rejected, on this read path.
func (e *Engine) Notifications(ctx context.Context, id string) ([]models.NotificationLog, error) {
	clean := txid.Sanitize(id)
	if clean == "" {
		return nil, &errs.ValidationError{Field: "txid", Reason: "empty identifier"}
	}
	return e.Store.ListNotificationsByTxID(ctx, clean)
}
