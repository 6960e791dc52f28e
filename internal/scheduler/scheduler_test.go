package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-bolao/internal/errs"
	"ms-bolao/internal/logger"
	"ms-bolao/internal/models"
	"ms-bolao/internal/scheduler"
)

const testTxID = "a1B2c3D4e5F6g7H8i9J0k1L2m3N4o5P6"

// setupTestRedis creates a Redis client backed by miniredis, so no real
// Redis server is needed.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}
	return client, mr
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetTicketByTxID(ctx context.Context, id string) (*models.Ticket, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockStore) ListOverduePendingTickets(ctx context.Context, now time.Time) ([]models.Ticket, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Ticket), args.Error(1)
}

func (m *MockStore) ListPendingTickets(ctx context.Context) ([]models.Ticket, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Ticket), args.Error(1)
}

type MockExpirer struct {
	mock.Mock
}

func (m *MockExpirer) MarkExpired(ctx context.Context, ticketID string) error {
	args := m.Called(ctx, ticketID)
	return args.Error(0)
}

func TestArmAndDisarm(t *testing.T) {
	client, mr := setupTestRedis(t)
	sched := scheduler.New(client, new(MockStore), new(MockExpirer), logger.NewLogger())
	ctx := context.Background()

	err := sched.Arm(ctx, testTxID, 5*time.Minute)
	require.NoError(t, err)

	ttl := client.TTL(ctx, "charge_ttl:"+testTxID).Val()
	assert.Greater(t, ttl, 4*time.Minute)

	sched.Disarm(ctx, testTxID)
	exists := client.Exists(ctx, "charge_ttl:"+testTxID).Val()
	assert.Zero(t, exists)

	// Non-positive TTLs are clamped instead of creating immortal keys.
	err = sched.Arm(ctx, testTxID, -time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("charge_ttl:"+testTxID))
	assert.Greater(t, client.TTL(ctx, "charge_ttl:"+testTxID).Val(), time.Duration(0))
}

func TestOnFireExpiresPendingTicket(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := new(MockStore)
	expirer := new(MockExpirer)
	sched := scheduler.New(client, store, expirer, logger.NewLogger())

	store.On("GetTicketByTxID", mock.Anything, testTxID).Return(&models.Ticket{
		TicketID:  "t1",
		Status:    models.TicketPending,
		TxID:      testTxID,
		ExpiresAt: time.Now().Add(-time.Second),
	}, nil)
	expirer.On("MarkExpired", mock.Anything, "t1").Return(nil)

	sched.OnFire(context.Background(), testTxID)

	store.AssertExpectations(t)
	expirer.AssertExpectations(t)
}

func TestOnFireSkipsTerminalTicket(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := new(MockStore)
	expirer := new(MockExpirer)
	sched := scheduler.New(client, store, expirer, logger.NewLogger())

	store.On("GetTicketByTxID", mock.Anything, testTxID).Return(&models.Ticket{
		TicketID: "t1",
		Status:   models.TicketPaid,
		TxID:     testTxID,
	}, nil)

	sched.OnFire(context.Background(), testTxID)

	expirer.AssertNotCalled(t, "MarkExpired", mock.Anything, mock.Anything)
}

func TestOnFireToleratesLostRace(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := new(MockStore)
	expirer := new(MockExpirer)
	sched := scheduler.New(client, store, expirer, logger.NewLogger())

	// Pending at the re-read, but a payment wins the transition underneath.
	store.On("GetTicketByTxID", mock.Anything, testTxID).Return(&models.Ticket{
		TicketID: "t1",
		Status:   models.TicketPending,
		TxID:     testTxID,
	}, nil)
	expirer.On("MarkExpired", mock.Anything, "t1").Return(&errs.ConflictError{
		Resource: "ticket", ID: "t1", Reason: "cannot mark paid ticket as expired",
	})

	sched.OnFire(context.Background(), testTxID)

	expirer.AssertExpectations(t)
}

func TestSweepOverdueExpiresPendingTickets(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := new(MockStore)
	expirer := new(MockExpirer)
	sched := scheduler.New(client, store, expirer, logger.NewLogger())

	overdue := models.Ticket{TicketID: "t-overdue", Status: models.TicketPending, TxID: testTxID, ExpiresAt: time.Now().Add(-time.Minute)}
	store.On("ListOverduePendingTickets", mock.Anything, mock.Anything).Return([]models.Ticket{overdue}, nil)
	expirer.On("MarkExpired", mock.Anything, "t-overdue").Return(nil)

	err := sched.SweepOverdue(context.Background())

	require.NoError(t, err)
	expirer.AssertExpectations(t)
}

func TestStartSweeperExpiresWithoutRestart(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := new(MockStore)
	expirer := new(MockExpirer)
	sched := scheduler.New(client, store, expirer, logger.NewLogger())

	// A ticket whose wake-up key never armed must still expire while the
	// process keeps running.
	overdue := models.Ticket{TicketID: "t-unarmed", Status: models.TicketPending, TxID: testTxID, ExpiresAt: time.Now().Add(-time.Minute)}
	expired := make(chan string, 1)

	store.On("ListOverduePendingTickets", mock.Anything, mock.Anything).Return([]models.Ticket{overdue}, nil)
	expirer.On("MarkExpired", mock.Anything, "t-unarmed").
		Run(func(args mock.Arguments) {
			select {
			case expired <- args.String(1):
			default:
			}
		}).
		Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.StartSweeper(ctx, 10*time.Millisecond)

	select {
	case ticketID := <-expired:
		assert.Equal(t, "t-unarmed", ticketID)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the periodic sweep")
	}
}

func TestRecoverExpiresOverdueAndRearmsRest(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := new(MockStore)
	expirer := new(MockExpirer)
	sched := scheduler.New(client, store, expirer, logger.NewLogger())

	futureTxID := "z9Y8x7W6v5U4t3S2r1Q0p9O8n7M6l5K4"
	overdue := models.Ticket{TicketID: "t-overdue", Status: models.TicketPending, TxID: testTxID, ExpiresAt: time.Now().Add(-time.Minute)}
	upcoming := models.Ticket{TicketID: "t-upcoming", Status: models.TicketPending, TxID: futureTxID, ExpiresAt: time.Now().Add(3 * time.Minute)}

	store.On("ListOverduePendingTickets", mock.Anything, mock.Anything).Return([]models.Ticket{overdue}, nil)
	store.On("ListPendingTickets", mock.Anything).Return([]models.Ticket{overdue, upcoming}, nil)
	expirer.On("MarkExpired", mock.Anything, "t-overdue").Return(nil)

	err := sched.Recover(context.Background())

	require.NoError(t, err)
	expirer.AssertExpectations(t)
	// Only the upcoming deadline got a wake-up key.
	assert.True(t, mr.Exists("charge_ttl:"+futureTxID))
	assert.False(t, mr.Exists("charge_ttl:"+testTxID))
}
