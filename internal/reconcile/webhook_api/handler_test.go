package webhook_api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"ms-bolao/internal/errs"
	"ms-bolao/internal/logger"
	"ms-bolao/internal/models"
	"ms-bolao/internal/pix"
	"ms-bolao/internal/reconcile"
	"ms-bolao/internal/reconcile/webhook_api"
	"ms-bolao/internal/utils"
)

const testTxID = "a1B2c3D4e5F6g7H8i9J0k1L2m3N4o5P6"

// Mock implementations
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetCharge(ctx context.Context, id string) (*models.Charge, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Charge), args.Error(1)
}

func (m *MockStore) GetTicketByTxID(ctx context.Context, id string) (*models.Ticket, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockStore) UpdateChargeRawStatus(ctx context.Context, id, raw string) error {
	args := m.Called(ctx, id, raw)
	return args.Error(0)
}

func (m *MockStore) AppendNotification(ctx context.Context, entry *models.NotificationLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockStore) MarkNotificationOutcome(ctx context.Context, id int64, outcome string, applied bool) error {
	args := m.Called(ctx, id, outcome, applied)
	return args.Error(0)
}

func (m *MockStore) ListNotificationsByTxID(ctx context.Context, id string) ([]models.NotificationLog, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.NotificationLog), args.Error(1)
}

type MockLifecycle struct {
	mock.Mock
}

func (m *MockLifecycle) MarkPaid(ctx context.Context, ticketID, source string) error {
	args := m.Called(ctx, ticketID, source)
	return args.Error(0)
}

func (m *MockLifecycle) MarkCancelled(ctx context.Context, ticketID, reason string) error {
	args := m.Called(ctx, ticketID, reason)
	return args.Error(0)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) QueryCharge(ctx context.Context, id string) (*pix.ChargePayload, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pix.ChargePayload), args.Error(1)
}

func newTestHandler(store *MockStore, tickets *MockLifecycle, gw *MockGateway) *webhook_api.Handler {
	log := logger.NewLogger()
	engine := reconcile.NewEngine(store, tickets, gw, log)
	return webhook_api.NewHandler(engine, log)
}

func newRouter(h *webhook_api.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/api/bolao/pix/webhook", h.HandleWebhook)
	r.Post("/api/bolao/charge/{txid}/check", h.CheckCharge)
	r.Get("/api/bolao/admin/notifications/{txid}", h.ListNotifications)
	return r
}

func expectChargeAndTicket(store *MockStore, status models.TicketStatus) {
	store.On("GetCharge", mock.Anything, testTxID).Return(&models.Charge{TxID: testTxID, TicketID: "t1"}, nil)
	store.On("GetTicketByTxID", mock.Anything, testTxID).Return(&models.Ticket{TicketID: "t1", Status: status}, nil)
	store.On("AppendNotification", mock.Anything, mock.Anything).Return(nil)
}

// Tests start here
func TestWebhookSettledPayment(t *testing.T) {
	store := new(MockStore)
	tickets := new(MockLifecycle)
	gw := new(MockGateway)
	handler := newTestHandler(store, tickets, gw)

	expectChargeAndTicket(store, models.TicketPending)
	gw.On("QueryCharge", mock.Anything, testTxID).Return(&pix.ChargePayload{
		TxID: testTxID, Status: pix.StatusSettled, RawStatus: "CONCLUIDA",
	}, nil)
	tickets.On("MarkPaid", mock.Anything, "t1", "webhook").Return(nil)
	store.On("MarkNotificationOutcome", mock.Anything, mock.Anything, models.NotificationApplied, true).Return(nil)

	body := fmt.Sprintf(`{"pix":[{"txid":%q,"endToEndId":"E123","valor":"20.00"}]}`, testTxID)
	req := httptest.NewRequest(http.MethodPost, "/api/bolao/pix/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp utils.APIResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	store.AssertExpectations(t)
	tickets.AssertExpectations(t)
}

func TestWebhookMalformedBody(t *testing.T) {
	handler := newTestHandler(new(MockStore), new(MockLifecycle), new(MockGateway))

	req := httptest.NewRequest(http.MethodPost, "/api/bolao/pix/webhook", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	newRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookWithoutTxIDs(t *testing.T) {
	handler := newTestHandler(new(MockStore), new(MockLifecycle), new(MockGateway))

	req := httptest.NewRequest(http.MethodPost, "/api/bolao/pix/webhook", strings.NewReader(`{"pix":[]}`))
	rec := httptest.NewRecorder()
	newRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookUnknownCharge(t *testing.T) {
	store := new(MockStore)
	handler := newTestHandler(store, new(MockLifecycle), new(MockGateway))

	store.On("GetCharge", mock.Anything, testTxID).Return(nil, &errs.NotFoundError{Resource: "charge", ID: testTxID})

	body := fmt.Sprintf(`{"txid":%q}`, testTxID)
	req := httptest.NewRequest(http.MethodPost, "/api/bolao/pix/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookLateSettlementConflict(t *testing.T) {
	store := new(MockStore)
	tickets := new(MockLifecycle)
	gw := new(MockGateway)
	handler := newTestHandler(store, tickets, gw)

	expectChargeAndTicket(store, models.TicketExpired)
	gw.On("QueryCharge", mock.Anything, testTxID).Return(&pix.ChargePayload{
		TxID: testTxID, Status: pix.StatusSettled, RawStatus: "CONCLUIDA",
	}, nil)
	tickets.On("MarkPaid", mock.Anything, "t1", "webhook").Return(&errs.ConflictError{
		Resource: "ticket", ID: "t1", Reason: "cannot mark expired ticket as paid",
	})
	store.On("MarkNotificationOutcome", mock.Anything, mock.Anything, models.NotificationRejected, false).Return(nil)

	body := fmt.Sprintf(`{"txid":%q}`, testTxID)
	req := httptest.NewRequest(http.MethodPost, "/api/bolao/pix/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWebhookGatewayDown(t *testing.T) {
	store := new(MockStore)
	gw := new(MockGateway)
	handler := newTestHandler(store, new(MockLifecycle), gw)

	expectChargeAndTicket(store, models.TicketPending)
	gw.On("QueryCharge", mock.Anything, testTxID).Return(nil, &errs.GatewayError{
		Op: "query charge", Err: fmt.Errorf("connection refused"),
	})

	body := fmt.Sprintf(`{"txid":%q}`, testTxID)
	req := httptest.NewRequest(http.MethodPost, "/api/bolao/pix/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCheckChargeNoOpWhenPaid(t *testing.T) {
	store := new(MockStore)
	tickets := new(MockLifecycle)
	handler := newTestHandler(store, tickets, new(MockGateway))

	// Polling an already-paid ticket reports the no-op rather than erroring.
	expectChargeAndTicket(store, models.TicketPaid)
	store.On("MarkNotificationOutcome", mock.Anything, mock.Anything, models.NotificationNoop, true).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/bolao/charge/"+testTxID+"/check", nil)
	rec := httptest.NewRecorder()
	newRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	tickets.AssertNotCalled(t, "MarkPaid", mock.Anything, mock.Anything, mock.Anything)
}

func TestListNotifications(t *testing.T) {
	store := new(MockStore)
	handler := newTestHandler(store, new(MockLifecycle), new(MockGateway))

	store.On("ListNotificationsByTxID", mock.Anything, testTxID).Return([]models.NotificationLog{
		{TxID: testTxID, Source: "webhook", Outcome: models.NotificationApplied, Applied: true},
		{TxID: testTxID, Source: "poll", Outcome: models.NotificationNoop, Applied: true},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/bolao/admin/notifications/"+testTxID, nil)
	rec := httptest.NewRecorder()
	newRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp utils.APIResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}
