// Package scheduler expires unpaid tickets. The deadline itself is persisted
// on the ticket row; redis TTL keys are only the wake-up mechanism, so a
// restart can never lose a pending expiration: the recovery pass re-reads
// persisted deadlines and either expires overdue tickets immediately or
// re-arms the rest.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-bolao/internal/errs"
	"ms-bolao/internal/logger"
	"ms-bolao/internal/models"
)

const keyPrefix = "charge_ttl:"

type TicketExpirer interface {
	MarkExpired(ctx context.Context, ticketID string) error
}

type Store interface {
	GetTicketByTxID(ctx context.Context, txid string) (*models.Ticket, error)
	ListOverduePendingTickets(ctx context.Context, now time.Time) ([]models.Ticket, error)
	ListPendingTickets(ctx context.Context) ([]models.Ticket, error)
}

type Scheduler struct {
	Client  *redis.Client
	Store   Store
	Tickets TicketExpirer
	Logger  *logger.Logger
}

func New(client *redis.Client, store Store, tickets TicketExpirer, log *logger.Logger) *Scheduler {
	return &Scheduler{Client: client, Store: store, Tickets: tickets, Logger: log}
}

// Arm sets the one-shot wake-up for a charge deadline.
func (s *Scheduler) Arm(ctx context.Context, txid string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.Client.Set(ctx, keyPrefix+txid, "1", ttl).Err()
}

// Disarm drops the wake-up key early. Purely an optimization: a key that
// fires anyway against a terminal ticket is a no-op in OnFire.
func (s *Scheduler) Disarm(ctx context.Context, txid string) {
	if err := s.Client.Del(ctx, keyPrefix+txid).Err(); err != nil {
		s.Logger.Warn("SCHEDULER", fmt.Sprintf("Failed to disarm %s: %v", txid, err))
	}
}

// Subscribe listens for expired wake-up keys and fires the expiration check
// for each. Runs until ctx is cancelled.
func (s *Scheduler) Subscribe(ctx context.Context) {
	val, err := s.Client.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		s.Logger.Error("REDIS", fmt.Sprintf("Failed to get keyspace config: %v", err))
	} else if len(val) >= 2 {
		setting, _ := val[1].(string)
		if !strings.Contains(setting, "x") && !strings.Contains(setting, "E") {
			s.Logger.Warn("REDIS", "Keyspace notifications not configured for expiry events!")
		}
	}

	pubsub := s.Client.PSubscribe(ctx, "__keyevent@0__:expired")
	s.Logger.Info("SCHEDULER", "Subscribed to redis expired-key notifications")

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				if !strings.HasPrefix(msg.Payload, keyPrefix) {
					continue
				}
				txid := strings.TrimPrefix(msg.Payload, keyPrefix)
				s.Logger.Info("SCHEDULER", fmt.Sprintf("Charge deadline fired for %s", txid))
				s.OnFire(ctx, txid)
			}
		}
	}()
}

// OnFire re-reads the ticket's current status immediately before acting and
// expires it only if still pending. Redundant firings, including against
// tickets that already reached a terminal state, are no-ops.
func (s *Scheduler) OnFire(ctx context.Context, txid string) {
	ticket, err := s.Store.GetTicketByTxID(ctx, txid)
	if err != nil {
		if errs.IsNotFound(err) {
			s.Logger.Warn("SCHEDULER", fmt.Sprintf("No ticket for expired charge %s", txid))
		} else {
			s.Logger.Error("SCHEDULER", fmt.Sprintf("Failed to load ticket for %s: %v", txid, err))
		}
		return
	}

	if ticket.Status != models.TicketPending {
		s.Logger.Info("SCHEDULER", fmt.Sprintf("Ticket %s already %s, nothing to expire", ticket.TicketID, ticket.Status))
		return
	}

	if err := s.Tickets.MarkExpired(ctx, ticket.TicketID); err != nil {
		if errs.IsConflict(err) {
			// A payment landed between the re-read and the transition.
			s.Logger.Info("SCHEDULER", fmt.Sprintf("Expiration of %s lost the race: %v", ticket.TicketID, err))
			return
		}
		s.Logger.Error("SCHEDULER", fmt.Sprintf("Failed to expire ticket %s: %v", ticket.TicketID, err))
		return
	}

	s.Logger.LogTicket("EXPIRE", ticket.TicketID, "deadline "+ticket.ExpiresAt.Format(time.RFC3339))
}

// SweepOverdue expires every pending ticket whose persisted deadline has
// passed. It backs up the redis wake-up path: a key that was never armed, or
// a notification the subscription missed, is caught here.
func (s *Scheduler) SweepOverdue(ctx context.Context) error {
	overdue, err := s.Store.ListOverduePendingTickets(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to list overdue tickets: %w", err)
	}
	for _, t := range overdue {
		if err := s.Tickets.MarkExpired(ctx, t.TicketID); err != nil && !errs.IsConflict(err) {
			s.Logger.Error("SCHEDULER", fmt.Sprintf("Sweep failed to expire ticket %s: %v", t.TicketID, err))
			continue
		}
		s.Logger.LogTicket("EXPIRE", t.TicketID, "overdue at sweep")
	}
	return nil
}

// StartSweeper re-runs the overdue sweep on a fixed interval until ctx is
// cancelled, so a ticket whose wake-up key failed to arm still expires
// without waiting for a restart.
func (s *Scheduler) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.SweepOverdue(ctx); err != nil {
					s.Logger.Error("SCHEDULER", fmt.Sprintf("Periodic sweep failed: %v", err))
				}
			}
		}
	}()
}

// Recover runs on startup: overdue pending tickets are expired immediately,
// the rest get their wake-up keys re-armed from the persisted deadlines.
func (s *Scheduler) Recover(ctx context.Context) error {
	now := time.Now()

	if err := s.SweepOverdue(ctx); err != nil {
		return err
	}

	pending, err := s.Store.ListPendingTickets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending tickets: %w", err)
	}
	rearmed := 0
	for _, t := range pending {
		if t.TxID == "" || !t.ExpiresAt.After(now) {
			continue
		}
		if err := s.Arm(ctx, t.TxID, t.ExpiresAt.Sub(now)); err != nil {
			s.Logger.Error("SCHEDULER", fmt.Sprintf("Failed to re-arm %s: %v", t.TxID, err))
			continue
		}
		rearmed++
	}

	s.Logger.Info("SCHEDULER", fmt.Sprintf("Recovery pass complete, %d re-armed", rearmed))
	return nil
}
