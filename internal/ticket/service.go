package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-bolao/internal/errs"
	"ms-bolao/internal/events"
	"ms-bolao/internal/logger"
	"ms-bolao/internal/models"
	"ms-bolao/internal/pix"
	"ms-bolao/internal/ticket/db"
	"ms-bolao/internal/txid"
	"ms-bolao/internal/utils"
)

type DBLayer interface {
	CreateTicketWithLines(ctx context.Context, ticket models.Ticket, lines []models.BetLine) error
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketWithLines(ctx context.Context, id string) (*models.TicketWithLines, error)
	GetTicketByTxID(ctx context.Context, txid string) (*models.Ticket, error)
	AttachCharge(ctx context.Context, ticketID, txid string) error
	TransitionTicket(ctx context.Context, ticketID string, params db.TransitionParams) (bool, error)
	CreateCharge(ctx context.Context, charge models.Charge) error
	GetCharge(ctx context.Context, txid string) (*models.Charge, error)
	GetGamesByIDs(ctx context.Context, ids []string) ([]models.Game, error)
	ListOpenGames(ctx context.Context) ([]models.Game, error)
}

type Charger interface {
	CreateCharge(ctx context.Context, req pix.CreateChargeRequest) (*pix.ChargePayload, error)
	Environment() string
}

type KafkaPublisher interface {
	PublishTicketEvent(topic, eventType string, ticket models.Ticket, source string) error
}

// DeadlineArmer arms the expiration wake-up for a charge.
type DeadlineArmer interface {
	Arm(ctx context.Context, txid string, ttl time.Duration) error
}

// Service owns the bilhete state machine. It is the only writer permitted to
// move a ticket out of Pending.
type Service struct {
	DB        DBLayer
	Pix       Charger
	Kafka     KafkaPublisher
	Scheduler DeadlineArmer
	Logger    *logger.Logger

	LinePrice float64
	ChargeTTL time.Duration
}

func NewService(dbl DBLayer, charger Charger, kafka KafkaPublisher, scheduler DeadlineArmer, log *logger.Logger, linePrice float64, chargeTTL time.Duration) *Service {
	return &Service{
		DB:        dbl,
		Pix:       charger,
		Kafka:     kafka,
		Scheduler: scheduler,
		Logger:    log,
		LinePrice: linePrice,
		ChargeTTL: chargeTTL,
	}
}

// CreateTicket validates the predictions, allocates the ticket and bet lines
// in Pending, issues the PIX charge under a fresh txid and arms the
// expiration deadline.
func (s *Service) CreateTicket(ctx context.Context, req models.TicketRequest, clientIP, userAgent string) (*models.TicketResponse, error) {
	if len(req.Lines) == 0 {
		return nil, &errs.ValidationError{Field: "lines", Reason: "a ticket needs at least one prediction"}
	}
	if req.OwnerName == "" {
		return nil, &errs.ValidationError{Field: "owner_name", Reason: "required"}
	}

	gameIDs := make([]string, len(req.Lines))
	for i, line := range req.Lines {
		if line.GameID == "" || line.Prediction == "" {
			return nil, &errs.ValidationError{Field: "lines", Reason: "every prediction needs a game and a value"}
		}
		gameIDs[i] = line.GameID
	}

	games, err := s.DB.GetGamesByIDs(ctx, gameIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load games: %w", err)
	}
	open := make(map[string]bool, len(games))
	for _, g := range games {
		open[g.GameID] = g.Open
	}
	for _, id := range gameIDs {
		isOpen, found := open[id]
		if !found {
			return nil, &errs.ValidationError{Field: "lines", Reason: "game " + id + " does not exist"}
		}
		if !isOpen {
			return nil, &errs.ValidationError{Field: "lines", Reason: "game " + id + " is not in the open contest window"}
		}
	}

	now := time.Now()
	ticket := models.Ticket{
		TicketID:   uuid.NewString(),
		OwnerName:  req.OwnerName,
		OwnerPhone: req.OwnerPhone,
		Amount:     s.LinePrice * float64(len(req.Lines)),
		LineCount:  len(req.Lines),
		Status:     models.TicketPending,
		OrderRef:   utils.GenerateOrderRef(),
		ClientIP:   clientIP,
		UserAgent:  userAgent,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ChargeTTL),
	}

	lines := make([]models.BetLine, len(req.Lines))
	for i, line := range req.Lines {
		lines[i] = models.BetLine{
			LineID:     uuid.NewString(),
			TicketID:   ticket.TicketID,
			GameID:     line.GameID,
			Prediction: line.Prediction,
			Price:      s.LinePrice,
			Status:     models.BetLinePendingPayment,
			CreatedAt:  now,
		}
	}

	if err := s.DB.CreateTicketWithLines(ctx, ticket, lines); err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	s.Logger.LogTicket("CREATE", ticket.TicketID, fmt.Sprintf("%d lines, R$ %.2f", ticket.LineCount, ticket.Amount))

	id := txid.Generate()
	payload, err := s.Pix.CreateCharge(ctx, pix.CreateChargeRequest{
		TxID:           id,
		Amount:         ticket.Amount,
		ExpirationSecs: int(s.ChargeTTL.Seconds()),
		PayerName:      req.OwnerName,
		PayerPhone:     req.OwnerPhone,
	})
	if err != nil {
		// No charge, no way to collect: cancel the ticket so it does not
		// linger as an unpayable pending bilhete.
		s.Logger.Error("PIX", fmt.Sprintf("Charge creation failed for ticket %s: %v", ticket.TicketID, err))
		if _, cancelErr := s.DB.TransitionTicket(ctx, ticket.TicketID, db.TransitionParams{
			TicketStatus: models.TicketCancelled,
			LineStatus:   models.BetLineCancelled,
			ChargeStatus: models.ChargeCancelled,
		}); cancelErr != nil {
			s.Logger.Error("TICKET", fmt.Sprintf("Failed to cancel ticket %s after charge failure: %v", ticket.TicketID, cancelErr))
		}
		return nil, err
	}

	if err := s.DB.AttachCharge(ctx, ticket.TicketID, id); err != nil {
		return nil, err
	}

	charge := models.Charge{
		TxID:        id,
		TicketID:    ticket.TicketID,
		Amount:      ticket.Amount,
		Status:      models.ChargeActive,
		CopiaECola:  payload.CopiaECola,
		Location:    payload.Location,
		Environment: s.Pix.Environment(),
		ExpiresAt:   ticket.ExpiresAt,
		CreatedAt:   now,
	}
	if err := s.DB.CreateCharge(ctx, charge); err != nil {
		return nil, fmt.Errorf("failed to persist charge mirror: %w", err)
	}

	if err := s.Scheduler.Arm(ctx, id, s.ChargeTTL); err != nil {
		// The persisted deadline still covers us via the periodic sweep.
		s.Logger.Warn("SCHEDULER", fmt.Sprintf("Failed to arm expiration for %s: %v", id, err))
	}

	ticket.TxID = id
	if s.Kafka != nil {
		if err := s.Kafka.PublishTicketEvent(events.TopicTicketCreated, "ticket.created", ticket, "api"); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish ticket created event: %v", err))
		}
	}

	return &models.TicketResponse{
		TicketID:   ticket.TicketID,
		TxID:       id,
		Status:     ticket.Status,
		Amount:     ticket.Amount,
		LineCount:  ticket.LineCount,
		CopiaECola: payload.CopiaECola,
		ExpiresAt:  ticket.ExpiresAt,
	}, nil
}

func (s *Service) GetTicket(ctx context.Context, id string) (*models.TicketWithLines, error) {
	return s.DB.GetTicketWithLines(ctx, id)
}

func (s *Service) GetCharge(ctx context.Context, id string) (*models.Charge, error) {
	if !txid.Validate(id) {
		return nil, &errs.ValidationError{Field: "txid", Reason: "malformed identifier"}
	}
	return s.DB.GetCharge(ctx, id)
}

func (s *Service) ListOpenGames(ctx context.Context) ([]models.Game, error) {
	return s.DB.ListOpenGames(ctx)
}

// MarkPaid moves a pending ticket, its bet lines and its charge to Paid in
// one atomic unit. Calling it on an already-Paid ticket is a successful
// no-op: duplicate confirmations are expected from webhook and poll racing.
func (s *Service) MarkPaid(ctx context.Context, ticketID, source string) error {
	return s.markPaid(ctx, ticketID, source, "", "")
}

// ForceMarkPaid is the administrative override: same contract as MarkPaid
// but records who did it and why. It is the only transition allowed to
// bypass gateway confirmation.
func (s *Service) ForceMarkPaid(ctx context.Context, ticketID, operator, reason string) error {
	if operator == "" {
		return &errs.ValidationError{Field: "operator", Reason: "required"}
	}
	if reason == "" {
		return &errs.ValidationError{Field: "reason", Reason: "a justification is required for manual overrides"}
	}
	s.Logger.LogAudit(operator, "FORCE_PAID", fmt.Sprintf("ticket %s: %s", ticketID, reason))
	return s.markPaid(ctx, ticketID, "manual", operator, reason)
}

func (s *Service) markPaid(ctx context.Context, ticketID, source, operator, reason string) error {
	ticket, err := s.DB.GetTicketByID(ctx, ticketID)
	if err != nil {
		return err
	}

	if ticket.Status == models.TicketPaid {
		return nil
	}
	if ticket.Status.Terminal() {
		return &errs.ConflictError{
			Resource: "ticket",
			ID:       ticketID,
			Reason:   fmt.Sprintf("cannot mark %s ticket as paid", ticket.Status),
		}
	}

	won, err := s.DB.TransitionTicket(ctx, ticketID, db.TransitionParams{
		TicketStatus: models.TicketPaid,
		LineStatus:   models.BetLinePaid,
		ChargeStatus: models.ChargePaid,
		Source:       source,
		Operator:     operator,
		Reason:       reason,
	})
	if err != nil {
		return err
	}
	if !won {
		// Another writer got there first; re-read to tell apart the
		// duplicate-confirmation no-op from a real conflict.
		current, err := s.DB.GetTicketByID(ctx, ticketID)
		if err != nil {
			return err
		}
		if current.Status == models.TicketPaid {
			return nil
		}
		return &errs.ConflictError{
			Resource: "ticket",
			ID:       ticketID,
			Reason:   fmt.Sprintf("cannot mark %s ticket as paid", current.Status),
		}
	}

	s.Logger.LogTicket("PAID", ticketID, "source="+source)

	ticket.Status = models.TicketPaid
	if s.Kafka != nil {
		if err := s.Kafka.PublishTicketEvent(events.TopicTicketPaid, "ticket.paid", *ticket, source); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish ticket paid event: %v", err))
		}
	}
	return nil
}

// MarkCancelled moves a pending ticket to Cancelled. A cancel attempt on a
// ticket that is already Cancelled is a no-op; on any other terminal state
// it is rejected to protect monotonicity.
func (s *Service) MarkCancelled(ctx context.Context, ticketID, reason string) error {
	return s.terminate(ctx, ticketID, models.TicketCancelled, models.BetLineCancelled, models.ChargeCancelled, reason)
}

// MarkExpired moves a pending ticket past its deadline to Expired. Safe to
// call redundantly; firing on an already-Expired ticket is a no-op.
func (s *Service) MarkExpired(ctx context.Context, ticketID string) error {
	return s.terminate(ctx, ticketID, models.TicketExpired, models.BetLineExpired, models.ChargeExpired, "deadline passed")
}

func (s *Service) terminate(ctx context.Context, ticketID string, status models.TicketStatus, lineStatus models.BetLineStatus, chargeStatus models.ChargeStatus, reason string) error {
	ticket, err := s.DB.GetTicketByID(ctx, ticketID)
	if err != nil {
		return err
	}

	if ticket.Status == status {
		return nil
	}
	if ticket.Status.Terminal() {
		s.Logger.Warn("TICKET", fmt.Sprintf("Rejected %s on ticket %s: already %s", status, ticketID, ticket.Status))
		return &errs.ConflictError{
			Resource: "ticket",
			ID:       ticketID,
			Reason:   fmt.Sprintf("cannot mark %s ticket as %s", ticket.Status, status),
		}
	}

	won, err := s.DB.TransitionTicket(ctx, ticketID, db.TransitionParams{
		TicketStatus: status,
		LineStatus:   lineStatus,
		ChargeStatus: chargeStatus,
	})
	if err != nil {
		return err
	}
	if !won {
		current, err := s.DB.GetTicketByID(ctx, ticketID)
		if err != nil {
			return err
		}
		if current.Status == status {
			return nil
		}
		s.Logger.Warn("TICKET", fmt.Sprintf("Rejected %s on ticket %s: already %s", status, ticketID, current.Status))
		return &errs.ConflictError{
			Resource: "ticket",
			ID:       ticketID,
			Reason:   fmt.Sprintf("cannot mark %s ticket as %s", current.Status, status),
		}
	}

	s.Logger.LogTicket(string(status), ticketID, reason)

	topic := events.TopicTicketCancelled
	eventType := "ticket.cancelled"
	if status == models.TicketExpired {
		topic = events.TopicTicketExpired
		eventType = "ticket.expired"
	}
	ticket.Status = status
	if s.Kafka != nil {
		if err := s.Kafka.PublishTicketEvent(topic, eventType, *ticket, reason); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish %s event: %v", eventType, err))
		}
	}
	return nil
}
