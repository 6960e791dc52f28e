package stats

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"ms-bolao/internal/models"
)

// Service aggregates ticket and reconciliation figures for the admin panel.
type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db: db}
}

// Overview is the top-level dashboard payload.
type Overview struct {
	ByStatus     []StatusMetrics     `json:"by_status"`
	DailySales   []DailySalesMetrics `json:"daily_sales"`
	ByContest    []ContestMetrics    `json:"by_contest"`
	Notification []OutcomeMetrics    `json:"notification_outcomes"`
}

// StatusMetrics counts tickets and the money they represent per state. Only
// paid tickets are realized revenue; pending amounts are still collectible.
type StatusMetrics struct {
	Status  models.TicketStatus `json:"status"`
	Tickets int                 `json:"tickets"`
	Amount  float64             `json:"amount"`
}

// DailySalesMetrics contains paid-ticket metrics for a single day.
type DailySalesMetrics struct {
	Date    string  `json:"date"`
	Tickets int     `json:"tickets"`
	Revenue float64 `json:"revenue"`
}

// ContestMetrics breaks paid bet lines down by contest round.
type ContestMetrics struct {
	ContestID string  `json:"contest_id"`
	Lines     int     `json:"lines"`
	Revenue   float64 `json:"revenue"`
}

// OutcomeMetrics counts notification-log entries per outcome, a quick health
// read on the reconciliation path.
type OutcomeMetrics struct {
	Outcome string `json:"outcome"`
	Count   int    `json:"count"`
}

func (s *Service) GetOverview(ctx context.Context, since time.Time) (*Overview, error) {
	byStatus, err := s.ticketsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	daily, err := s.dailySales(ctx, since)
	if err != nil {
		return nil, err
	}

	byContest, err := s.linesByContest(ctx)
	if err != nil {
		return nil, err
	}

	outcomes, err := s.notificationOutcomes(ctx)
	if err != nil {
		return nil, err
	}

	return &Overview{
		ByStatus:     byStatus,
		DailySales:   daily,
		ByContest:    byContest,
		Notification: outcomes,
	}, nil
}

func (s *Service) ticketsByStatus(ctx context.Context) ([]StatusMetrics, error) {
	var rows []StatusMetrics
	err := s.db.NewSelect().
		Model((*models.Ticket)(nil)).
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS tickets").
		ColumnExpr("COALESCE(SUM(amount), 0) AS amount").
		Group("status").
		Order("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) dailySales(ctx context.Context, since time.Time) ([]DailySalesMetrics, error) {
	type dailyRaw struct {
		Date    string  `bun:"date"`
		Tickets int     `bun:"tickets"`
		Revenue float64 `bun:"revenue"`
	}

	var raw []dailyRaw
	err := s.db.NewSelect().
		Model((*models.Ticket)(nil)).
		ColumnExpr("DATE(created_at) AS date").
		ColumnExpr("COUNT(*) AS tickets").
		ColumnExpr("COALESCE(SUM(amount), 0) AS revenue").
		Where("status = ?", models.TicketPaid).
		Where("created_at >= ?", since).
		Group("DATE(created_at)").
		Order("date").
		Scan(ctx, &raw)
	if err != nil {
		return nil, err
	}

	out := make([]DailySalesMetrics, len(raw))
	for i, r := range raw {
		out[i] = DailySalesMetrics{Date: r.Date, Tickets: r.Tickets, Revenue: r.Revenue}
	}
	return out, nil
}

func (s *Service) linesByContest(ctx context.Context) ([]ContestMetrics, error) {
	var rows []ContestMetrics
	err := s.db.NewSelect().
		Model((*models.BetLine)(nil)).
		ColumnExpr("g.contest_id AS contest_id").
		ColumnExpr("COUNT(*) AS lines").
		ColumnExpr("COALESCE(SUM(bet_line.price), 0) AS revenue").
		Join("JOIN games AS g ON g.game_id = bet_line.game_id").
		Where("bet_line.status = ?", models.BetLinePaid).
		Group("g.contest_id").
		Order("contest_id").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) notificationOutcomes(ctx context.Context) ([]OutcomeMetrics, error) {
	var rows []OutcomeMetrics
	err := s.db.NewSelect().
		Model((*models.NotificationLog)(nil)).
		ColumnExpr("outcome").
		ColumnExpr("COUNT(*) AS count").
		Group("outcome").
		Order("outcome").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
