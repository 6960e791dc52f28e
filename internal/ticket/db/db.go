package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"ms-bolao/internal/errs"
	"ms-bolao/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- TICKETS ----------------

// CreateTicketWithLines inserts the ticket and all its bet lines in one
// transaction; a partial bilhete must never be observable.
func (d *DB) CreateTicketWithLines(ctx context.Context, ticket models.Ticket, lines []models.BetLine) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&ticket).Exec(ctx); err != nil {
			return err
		}
		if len(lines) > 0 {
			if _, err := tx.NewInsert().Model(&lines).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errs.NotFoundError{Resource: "ticket", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketByTxID(ctx context.Context, txid string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("txid = ?", txid).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errs.NotFoundError{Resource: "ticket", ID: txid}
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketWithLines(ctx context.Context, id string) (*models.TicketWithLines, error) {
	ticket, err := d.GetTicketByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var lines []models.BetLine
	err = d.Bun.NewSelect().
		Model(&lines).
		Where("ticket_id = ?", id).
		Order("created_at").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	return &models.TicketWithLines{Ticket: *ticket, Lines: lines}, nil
}

// AttachCharge sets the ticket's txid exactly once. Re-issuing a charge for
// a ticket that already has one is a conflict, not an update.
func (d *DB) AttachCharge(ctx context.Context, ticketID, txid string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("txid = ?", txid).
		Set("updated_at = ?", time.Now()).
		Where("ticket_id = ?", ticketID).
		Where("txid IS NULL OR txid = ''").
		Exec(ctx)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		ticket, err := d.GetTicketByID(ctx, ticketID)
		if err != nil {
			return err
		}
		return &errs.ConflictError{
			Resource: "ticket",
			ID:       ticketID,
			Reason:   "charge " + ticket.TxID + " already attached",
		}
	}
	return nil
}

// TransitionParams describes one atomic move out of Pending across the
// ticket, its bet lines and its charge mirror.
type TransitionParams struct {
	TicketStatus models.TicketStatus
	LineStatus   models.BetLineStatus
	ChargeStatus models.ChargeStatus
	Source       string
	Operator     string
	Reason       string
}

// TransitionTicket applies params only if the ticket row is still observed
// as Pending (compare-and-swap on status). Returns false when another writer
// already moved the ticket; the caller decides whether that is a no-op or a
// conflict. Ticket, bet lines and charge are updated in one transaction.
func (d *DB) TransitionTicket(ctx context.Context, ticketID string, params TransitionParams) (bool, error) {
	won := false
	now := time.Now()

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("status = ?", params.TicketStatus).
			Set("updated_at = ?", now).
			Where("ticket_id = ?", ticketID).
			Where("status = ?", models.TicketPending)

		if params.TicketStatus == models.TicketPaid {
			q = q.Set("paid_source = ?", params.Source)
			if params.Operator != "" {
				q = q.Set("paid_by = ?", params.Operator).
					Set("paid_reason = ?", params.Reason)
			}
		}

		res, err := q.Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			// Lost the race or terminal already; leave everything untouched.
			return nil
		}
		won = true

		if _, err := tx.NewUpdate().
			Model((*models.BetLine)(nil)).
			Set("status = ?", params.LineStatus).
			Where("ticket_id = ?", ticketID).
			Exec(ctx); err != nil {
			return err
		}

		cq := tx.NewUpdate().
			Model((*models.Charge)(nil)).
			Set("status = ?", params.ChargeStatus).
			Set("updated_at = ?", now).
			Where("ticket_id = ?", ticketID)
		if params.ChargeStatus == models.ChargePaid {
			cq = cq.Set("paid_at = ?", now)
		}
		if _, err := cq.Exec(ctx); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

// ---------------- CHARGES ----------------

func (d *DB) CreateCharge(ctx context.Context, charge models.Charge) error {
	_, err := d.Bun.NewInsert().Model(&charge).Exec(ctx)
	return err
}

func (d *DB) GetCharge(ctx context.Context, txid string) (*models.Charge, error) {
	var charge models.Charge
	err := d.Bun.NewSelect().
		Model(&charge).
		Where("txid = ?", txid).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &errs.NotFoundError{Resource: "charge", ID: txid}
	}
	if err != nil {
		return nil, err
	}
	return &charge, nil
}

// UpdateChargeRawStatus stores an unrecognized gateway status verbatim so
// operators can see it; the local status column is left alone.
func (d *DB) UpdateChargeRawStatus(ctx context.Context, txid, raw string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Charge)(nil)).
		Set("raw_status = ?", raw).
		Set("updated_at = ?", time.Now()).
		Where("txid = ?", txid).
		Exec(ctx)
	return err
}

// ---------------- NOTIFICATION LOG ----------------

// AppendNotification inserts a new log row and fills in its generated id.
func (d *DB) AppendNotification(ctx context.Context, entry *models.NotificationLog) error {
	_, err := d.Bun.NewInsert().Model(entry).Exec(ctx)
	return err
}

// MarkNotificationOutcome resolves a received entry; the only mutation the
// log permits. applied is true only when the notification caused a
// transition, or confirmed one that already landed. Rejected and
// unrecognized notifications stay received-but-not-applied.
func (d *DB) MarkNotificationOutcome(ctx context.Context, id int64, outcome string, applied bool) error {
	q := d.Bun.NewUpdate().
		Model((*models.NotificationLog)(nil)).
		Set("applied = ?", applied).
		Set("outcome = ?", outcome).
		Where("id = ?", id)
	if applied {
		q = q.Set("applied_at = ?", time.Now())
	}
	_, err := q.Exec(ctx)
	return err
}

func (d *DB) ListNotificationsByTxID(ctx context.Context, txid string) ([]models.NotificationLog, error) {
	var entries []models.NotificationLog
	err := d.Bun.NewSelect().
		Model(&entries).
		Where("txid = ?", txid).
		Order("received_at").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ---------------- GAMES ----------------

func (d *DB) GetGamesByIDs(ctx context.Context, ids []string) ([]models.Game, error) {
	var games []models.Game
	if len(ids) == 0 {
		return games, nil
	}
	err := d.Bun.NewSelect().
		Model(&games).
		Where("game_id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return games, nil
}

func (d *DB) ListOpenGames(ctx context.Context) ([]models.Game, error) {
	var games []models.Game
	err := d.Bun.NewSelect().
		Model(&games).
		Where("open = ?", true).
		Order("kickoff_at").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return games, nil
}

// ---------------- SCHEDULER QUERIES ----------------

// ListOverduePendingTickets returns pending tickets whose persisted deadline
// already passed; the recovery pass expires these immediately on boot.
func (d *DB) ListOverduePendingTickets(ctx context.Context, now time.Time) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("status = ?", models.TicketPending).
		Where("expires_at <= ?", now).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// ListPendingTickets returns every pending ticket, for re-arming wake-up
// timers after a restart.
func (d *DB) ListPendingTickets(ctx context.Context) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("status = ?", models.TicketPending).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}
