package order_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"marketplace/internal/ledger"
	"marketplace/internal/order"
	"marketplace/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// MockStorage реализует order.Storage поверх одной записи заказа
type MockStorage struct {
	order   *models.Order
	users   map[int]*models.User
	entries []*models.LedgerEntry

	activeDispute bool
	candidates    []models.Order

	UpdateOrderStatusFunc func(ctx context.Context, o *models.Order) error
}

func newMockStorage() *MockStorage {
	return &MockStorage{
		users: map[int]*models.User{
			1: {ID: 1, Role: "buyer", Active: true},
			2: {ID: 2, Role: "seller", Active: true},
		},
	}
}

func (m *MockStorage) GetUser(ctx context.Context, id int) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return u, nil
}

func (m *MockStorage) GetOrder(ctx context.Context, id int) (*models.Order, error) {
	if m.order == nil || m.order.ID != id {
		return nil, models.ErrNotFound
	}
	copied := *m.order
	return &copied, nil
}

func (m *MockStorage) CreateOrderWithEntries(ctx context.Context, o *models.Order, entries []*models.LedgerEntry) error {
	o.ID = 10
	o.Version = 1
	copied := *o
	m.order = &copied
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *MockStorage) UpdateOrderStatus(ctx context.Context, o *models.Order) error {
	if m.UpdateOrderStatusFunc != nil {
		return m.UpdateOrderStatusFunc(ctx, o)
	}
	if o.Version != m.order.Version {
		return models.ErrVersionConflict
	}
	o.Version++
	copied := *o
	m.order = &copied
	return nil
}

func (m *MockStorage) FinalizeOrder(ctx context.Context, o *models.Order, entryStatus string) error {
	if o.Version != m.order.Version {
		return models.ErrVersionConflict
	}
	o.Version++
	copied := *o
	m.order = &copied
	for _, e := range m.entries {
		if e.Status == models.EntryPending {
			e.Status = entryStatus
		}
	}
	return nil
}

func (m *MockStorage) ActiveDisputeExists(ctx context.Context, orderID int) (bool, error) {
	return m.activeDispute, nil
}

func (m *MockStorage) ListAutoCloseCandidates(ctx context.Context, deliveredBefore time.Time) ([]models.Order, error) {
	return m.candidates, nil
}

// MockNotifier собирает отправленные события
type MockNotifier struct {
	events []string
}

func (m *MockNotifier) Notify(ctx context.Context, userID int, eventType, priority string, payload map[string]any) {
	m.events = append(m.events, eventType)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newEngine(store *MockStorage, notifier *MockNotifier) *order.Engine {
	return order.NewEngine(store, notifier, ledger.DefaultRates(), 7*24*time.Hour, slog.Default())
}

func sampleOrder() *models.Order {
	return &models.Order{
		BuyerID:  1,
		SellerID: 2,
		Category: "featured",
		Items: []models.OrderItem{
			{ProductID: 1, Quantity: 2, UnitPrice: dec("30")},
			{ProductID: 2, Quantity: 1, UnitPrice: dec("40")},
		},
	}
}

// Build только оценивает заказ; запись остаётся за вызывающим.
func TestBuildDoesNotPersist(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockNotifier{})

	o := sampleOrder()
	entries, err := e.Build(context.Background(), o)
	require.NoError(t, err)
	require.Equal(t, models.OrderPlaced, o.Status)
	require.Len(t, entries, 2)
	require.Nil(t, store.order)
	require.Empty(t, store.entries)
}

func TestPlacePostsPendingEntries(t *testing.T) {
	store := newMockStorage()
	notifier := &MockNotifier{}
	e := newEngine(store, notifier)

	o := sampleOrder()
	require.NoError(t, e.Place(context.Background(), o))
	require.Equal(t, models.OrderPlaced, o.Status)
	require.True(t, dec("100").Equal(o.Total))

	require.Len(t, store.entries, 2)
	sale, commission := store.entries[0], store.entries[1]
	require.Equal(t, models.EntrySale, sale.Kind)
	require.True(t, dec("95").Equal(sale.Amount), "sale net of 5%% commission, got %s", sale.Amount)
	require.Equal(t, models.EntryPending, sale.Status)
	require.Equal(t, models.EntryCommission, commission.Kind)
	require.True(t, dec("5").Equal(commission.Amount))
	require.Contains(t, notifier.events, "order.placed")
}

func TestPlaceTotalMismatch(t *testing.T) {
	e := newEngine(newMockStorage(), &MockNotifier{})

	o := sampleOrder()
	o.Total = dec("99")
	err := e.Place(context.Background(), o)
	require.Equal(t, models.CodeAmountMismatch, models.CodeOf(err))
}

func TestPlaceRejectsInactiveSeller(t *testing.T) {
	store := newMockStorage()
	store.users[2].Active = false
	e := newEngine(store, &MockNotifier{})

	err := e.Place(context.Background(), sampleOrder())
	require.Equal(t, models.CodeForbidden, models.CodeOf(err))
}

func TestPlaceRejectsEmptyOrder(t *testing.T) {
	e := newEngine(newMockStorage(), &MockNotifier{})

	err := e.Place(context.Background(), &models.Order{BuyerID: 1, SellerID: 2})
	require.Equal(t, models.CodeValidation, models.CodeOf(err))
}

// Полный счастливый путь: после закрытия доступный баланс равен
// сумме заказа минус комиссия.
func TestFullLifecycleSettlesBalance(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockNotifier{})
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, e.Place(ctx, o))

	_, err := e.Confirm(ctx, o.ID, 2)
	require.NoError(t, err)
	_, err = e.Prepare(ctx, o.ID, 2)
	require.NoError(t, err)
	_, err = e.Ship(ctx, o.ID, 2, "TRACK-123")
	require.NoError(t, err)
	delivered, err := e.MarkDelivered(ctx, o.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, delivered.DeliveredAt)

	closed, err := e.Close(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderClosed, closed.Status)

	entries := make([]models.LedgerEntry, 0, len(store.entries))
	for _, le := range store.entries {
		entries = append(entries, *le)
	}
	b := ledger.Fold(entries)
	require.True(t, dec("95").Equal(b.Available))
	require.True(t, b.PendingSettlement.IsZero())
}

func TestCannotSkipStates(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockNotifier{})
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, e.Place(ctx, o))

	// Placed -> Shipped без Confirmed/Preparing
	_, err := e.Ship(ctx, o.ID, 2, "TRACK-1")
	require.Equal(t, models.CodeInvalidTransition, models.CodeOf(err))
}

func TestBuyerCannotConfirm(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockNotifier{})
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, e.Place(ctx, o))

	_, err := e.Confirm(ctx, o.ID, 1)
	require.ErrorIs(t, err, models.ErrForbidden)
}

func TestShipRequiresTrackingRef(t *testing.T) {
	e := newEngine(newMockStorage(), &MockNotifier{})

	_, err := e.Ship(context.Background(), 10, 2, "")
	require.Equal(t, models.CodeValidation, models.CodeOf(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockNotifier{})
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, e.Place(ctx, o))
	store.order.Status = models.OrderDelivered

	first, err := e.Close(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderClosed, first.Status)

	second, err := e.Close(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderClosed, second.Status)
}

func TestCloseBlockedByActiveDispute(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockNotifier{})
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, e.Place(ctx, o))
	store.order.Status = models.OrderDelivered
	store.activeDispute = true

	_, err := e.Close(ctx, o.ID)
	require.Equal(t, models.CodeConflict, models.CodeOf(err))
}

func TestCancelBeforeShipmentFailsEntries(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockNotifier{})
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, e.Place(ctx, o))

	cancelled, err := e.Cancel(ctx, o.ID, 1, "changed my mind")
	require.NoError(t, err)
	require.Equal(t, models.OrderCancelled, cancelled.Status)
	for _, le := range store.entries {
		require.Equal(t, models.EntryFailed, le.Status)
	}
}

func TestCancelAfterShipmentRejected(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockNotifier{})
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, e.Place(ctx, o))
	store.order.Status = models.OrderShipped

	_, err := e.Cancel(ctx, o.ID, 1, "too late")
	require.Equal(t, models.CodeInvalidTransition, models.CodeOf(err))
}

func TestSweepAutoClose(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockNotifier{})
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, e.Place(ctx, o))
	store.order.Status = models.OrderDelivered
	store.candidates = []models.Order{*store.order}

	require.NoError(t, e.SweepAutoClose(ctx))
	require.Equal(t, models.OrderClosed, store.order.Status)
}

func TestSweepAutoCloseSkipsDisputed(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockNotifier{})
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, e.Place(ctx, o))
	store.order.Status = models.OrderDelivered
	store.activeDispute = true
	store.candidates = []models.Order{*store.order}

	require.NoError(t, e.SweepAutoClose(ctx))
	require.Equal(t, models.OrderDelivered, store.order.Status)
}
