package rfq_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"marketplace/internal/rfq"
	"marketplace/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// MockStorage реализует rfq.Storage; мьютекс нужен тесту на гонку
// одновременных принятий.
type MockStorage struct {
	mu      sync.Mutex
	rfq     *models.RFQ
	offers  map[int]*models.Offer
	users   map[int]*models.User
	nextID  int
	expired []models.RFQ
	spawned []*models.Order
}

func newMockStorage() *MockStorage {
	return &MockStorage{
		offers: map[int]*models.Offer{},
		users: map[int]*models.User{
			1: {ID: 1, Role: "buyer", Active: true},
			2: {ID: 2, Role: "seller", Active: true},
			3: {ID: 3, Role: "seller", Active: true},
			4: {ID: 4, Role: "seller", Active: true},
		},
	}
}

func (m *MockStorage) GetUser(ctx context.Context, id int) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return u, nil
}

func (m *MockStorage) CreateRFQ(ctx context.Context, r *models.RFQ) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = 100
	r.Version = 1
	copied := *r
	m.rfq = &copied
	return nil
}

func (m *MockStorage) GetRFQ(ctx context.Context, id int) (*models.RFQ, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rfq == nil || m.rfq.ID != id {
		return nil, models.ErrNotFound
	}
	copied := *m.rfq
	return &copied, nil
}

func (m *MockStorage) UpdateRFQStatus(ctx context.Context, r *models.RFQ) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Version != m.rfq.Version {
		return models.ErrVersionConflict
	}
	r.Version++
	copied := *r
	m.rfq = &copied
	return nil
}

func (m *MockStorage) CreateOffer(ctx context.Context, o *models.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.offers {
		if existing.RFQID == o.RFQID && existing.SellerID == o.SellerID && existing.Status == models.OfferActive {
			return models.Errf(models.CodeConflict, "seller %d already has an active offer", o.SellerID)
		}
	}
	m.nextID++
	o.ID = m.nextID
	copied := *o
	m.offers[o.ID] = &copied
	return nil
}

func (m *MockStorage) GetOffer(ctx context.Context, id int) (*models.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *o
	return &copied, nil
}

func (m *MockStorage) SetOfferStatus(ctx context.Context, offerID int, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[offerID]
	if !ok {
		return models.ErrNotFound
	}
	o.Status = status
	return nil
}

func (m *MockStorage) AcceptOffer(ctx context.Context, r *models.RFQ, offerID int, o *models.Order, entries []*models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Version != m.rfq.Version {
		return models.ErrVersionConflict
	}
	if o != nil {
		o.ID = 500 + len(m.spawned)
		m.spawned = append(m.spawned, o)
		r.OrderID = &o.ID
	}
	r.Version++
	r.AcceptedOfferID = &offerID
	copied := *r
	m.rfq = &copied
	for id, off := range m.offers {
		if id == offerID {
			off.Status = models.OfferWinning
		} else if off.Status == models.OfferActive {
			off.Status = models.OfferNonWinning
		}
	}
	return nil
}

func (m *MockStorage) CompleteRFQWithOrder(ctx context.Context, r *models.RFQ, o *models.Order, entries []*models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Version != m.rfq.Version {
		return models.ErrVersionConflict
	}
	o.ID = 500 + len(m.spawned)
	m.spawned = append(m.spawned, o)
	r.OrderID = &o.ID
	r.Version++
	copied := *r
	m.rfq = &copied
	return nil
}

func (m *MockStorage) ListExpiredRFQs(ctx context.Context, now time.Time) ([]models.RFQ, error) {
	return m.expired, nil
}

// MockOrderPlacer оценивает заказ; сохранение делает MockStorage.
type MockOrderPlacer struct {
	mu       sync.Mutex
	buildErr error
	built    []*models.Order
}

func (m *MockOrderPlacer) Build(ctx context.Context, o *models.Order) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buildErr != nil {
		return nil, m.buildErr
	}
	o.Status = models.OrderPlaced
	o.Total = o.ItemsTotal()
	m.built = append(m.built, o)
	return []*models.LedgerEntry{
		{SellerID: o.SellerID, Kind: models.EntrySale, Amount: o.Total, Status: models.EntryPending},
	}, nil
}

type MockNotifier struct {
	mu     sync.Mutex
	events []string
}

func (m *MockNotifier) Notify(ctx context.Context, userID int, eventType, priority string, payload map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newEngine(store *MockStorage, orders *MockOrderPlacer) *rfq.Engine {
	return rfq.NewEngine(store, orders, &MockNotifier{}, slog.Default())
}

func sampleRFQ() *models.RFQ {
	return &models.RFQ{
		BuyerID:     1,
		Type:        "volumeBuy",
		Description: "50kg of rice",
		Quantity:    dec("50"),
		Unit:        "kg",
		Deadline:    time.Now().Add(48 * time.Hour),
	}
}

func publish(t *testing.T, e *rfq.Engine, store *MockStorage) *models.RFQ {
	t.Helper()
	r := sampleRFQ()
	require.NoError(t, e.Create(context.Background(), r))
	_, err := e.Publish(context.Background(), r.ID, 1)
	require.NoError(t, err)
	return r
}

func TestCreateRejectsPastDeadline(t *testing.T) {
	e := newEngine(newMockStorage(), &MockOrderPlacer{})

	r := sampleRFQ()
	r.Deadline = time.Now().Add(-time.Hour)
	err := e.Create(context.Background(), r)
	require.Equal(t, models.CodeDeadlinePassed, models.CodeOf(err))
}

func TestCreateProformaNeedsDeposit(t *testing.T) {
	e := newEngine(newMockStorage(), &MockOrderPlacer{})

	r := sampleRFQ()
	r.ProformaRequired = true
	err := e.Create(context.Background(), r)
	require.Equal(t, models.CodeValidation, models.CodeOf(err))
}

func TestFirstOfferMovesToOffersReceived(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockOrderPlacer{})
	r := publish(t, e, store)

	_, err := e.SubmitOffer(context.Background(), r.ID, 2, &models.Offer{Price: dec("90")})
	require.NoError(t, err)
	require.Equal(t, models.RFQOffersReceived, store.rfq.Status)
}

func TestDuplicateActiveOfferRejected(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockOrderPlacer{})
	r := publish(t, e, store)
	ctx := context.Background()

	_, err := e.SubmitOffer(ctx, r.ID, 2, &models.Offer{Price: dec("90")})
	require.NoError(t, err)
	_, err = e.SubmitOffer(ctx, r.ID, 2, &models.Offer{Price: dec("85")})
	require.Equal(t, models.CodeConflict, models.CodeOf(err))
}

func TestWithdrawOfferFreesSlot(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockOrderPlacer{})
	r := publish(t, e, store)
	ctx := context.Background()

	offer, err := e.SubmitOffer(ctx, r.ID, 2, &models.Offer{Price: dec("90")})
	require.NoError(t, err)
	require.NoError(t, e.WithdrawOffer(ctx, r.ID, offer.ID, 2))

	_, err = e.SubmitOffer(ctx, r.ID, 2, &models.Offer{Price: dec("85")})
	require.NoError(t, err)
}

// Сценарий: три предложения, покупатель выбирает не самое дешёвое,
// остальные демотируются, из RFQ рождается заказ.
func TestAcceptOfferSpawnsOrder(t *testing.T) {
	store := newMockStorage()
	orders := &MockOrderPlacer{}
	e := newEngine(store, orders)
	r := publish(t, e, store)
	ctx := context.Background()

	_, err := e.SubmitOffer(ctx, r.ID, 2, &models.Offer{Price: dec("80")})
	require.NoError(t, err)
	chosen, err := e.SubmitOffer(ctx, r.ID, 3, &models.Offer{Price: dec("95")})
	require.NoError(t, err)
	_, err = e.SubmitOffer(ctx, r.ID, 4, &models.Offer{Price: dec("90")})
	require.NoError(t, err)

	updated, err := e.AcceptOffer(ctx, r.ID, chosen.ID, 1)
	require.NoError(t, err)
	require.Equal(t, models.RFQCompleted, updated.Status)
	require.NotNil(t, updated.OrderID)

	require.Len(t, store.spawned, 1)
	o := store.spawned[0]
	require.Equal(t, 3, o.SellerID)
	require.True(t, dec("95").Equal(o.ItemsTotal()))

	require.Equal(t, models.OfferWinning, store.offers[chosen.ID].Status)
	for id, off := range store.offers {
		if id != chosen.ID {
			require.Equal(t, models.OfferNonWinning, off.Status)
		}
	}
}

func TestAcceptOfferOnlyBuyer(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockOrderPlacer{})
	r := publish(t, e, store)
	ctx := context.Background()

	offer, err := e.SubmitOffer(ctx, r.ID, 2, &models.Offer{Price: dec("80")})
	require.NoError(t, err)

	_, err = e.AcceptOffer(ctx, r.ID, offer.ID, 2)
	require.ErrorIs(t, err, models.ErrForbidden)
}

// Ровно один победитель при одновременном принятии двух предложений.
func TestConcurrentAcceptSingleWinner(t *testing.T) {
	store := newMockStorage()
	orders := &MockOrderPlacer{}
	e := newEngine(store, orders)
	r := publish(t, e, store)
	ctx := context.Background()

	first, err := e.SubmitOffer(ctx, r.ID, 2, &models.Offer{Price: dec("80")})
	require.NoError(t, err)
	second, err := e.SubmitOffer(ctx, r.ID, 3, &models.Offer{Price: dec("85")})
	require.NoError(t, err)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, offerID := range []int{first.ID, second.ID} {
		offerID := offerID
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.AcceptOffer(ctx, r.ID, offerID, 1)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		losses++
		switch models.CodeOf(err) {
		case models.CodeConflict, models.CodeAlreadyFinal, models.CodeInvalidTransition:
		default:
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, losses)
	require.Len(t, store.spawned, 1)
}

// Сценарий customProduct: проформа, точный депозит, производство, заказ.
func TestProformaFlow(t *testing.T) {
	store := newMockStorage()
	orders := &MockOrderPlacer{}
	e := newEngine(store, orders)
	ctx := context.Background()

	r := sampleRFQ()
	r.Type = "customProduct"
	r.ProformaRequired = true
	r.DepositPercent = 30
	require.NoError(t, e.Create(ctx, r))
	_, err := e.Publish(ctx, r.ID, 1)
	require.NoError(t, err)

	offer, err := e.SubmitOffer(ctx, r.ID, 2, &models.Offer{Price: dec("200")})
	require.NoError(t, err)

	accepted, err := e.AcceptOffer(ctx, r.ID, offer.ID, 1)
	require.NoError(t, err)
	require.Equal(t, models.RFQProformaSent, accepted.Status)
	require.Empty(t, store.spawned, "order must not spawn before production completes")

	_, err = e.IssueProforma(ctx, r.ID, 2)
	require.NoError(t, err)

	// неточный депозит отклоняется
	_, err = e.RecordDeposit(ctx, r.ID, 1, dec("59.99"))
	require.Equal(t, models.CodeAmountMismatch, models.CodeOf(err))

	inProduction, err := e.RecordDeposit(ctx, r.ID, 1, dec("60"))
	require.NoError(t, err)
	require.Equal(t, models.RFQInProduction, inProduction.Status)

	done, err := e.CompleteProduction(ctx, r.ID, 2)
	require.NoError(t, err)
	require.Equal(t, models.RFQCompleted, done.Status)
	require.Len(t, store.spawned, 1)
}

// Сбой сборки заказа не должен трогать RFQ: принятие и заказ фиксируются
// одной единицей хранения.
func TestFailedOrderSpawnLeavesRFQUntouched(t *testing.T) {
	store := newMockStorage()
	orders := &MockOrderPlacer{buildErr: errors.New("pricing unavailable")}
	e := newEngine(store, orders)
	r := publish(t, e, store)
	ctx := context.Background()

	offer, err := e.SubmitOffer(ctx, r.ID, 2, &models.Offer{Price: dec("90")})
	require.NoError(t, err)

	_, err = e.AcceptOffer(ctx, r.ID, offer.ID, 1)
	require.Error(t, err)
	require.Equal(t, models.RFQOffersReceived, store.rfq.Status)
	require.Nil(t, store.rfq.AcceptedOfferID)
	require.Equal(t, models.OfferActive, store.offers[offer.ID].Status)
	require.Empty(t, store.spawned)

	// повторное принятие после восстановления проходит
	orders.buildErr = nil
	updated, err := e.AcceptOffer(ctx, r.ID, offer.ID, 1)
	require.NoError(t, err)
	require.Equal(t, models.RFQCompleted, updated.Status)
	require.Len(t, store.spawned, 1)
}

func TestFailedSpawnKeepsProductionRetryable(t *testing.T) {
	store := newMockStorage()
	orders := &MockOrderPlacer{buildErr: errors.New("pricing unavailable")}
	e := newEngine(store, orders)
	ctx := context.Background()

	offerID := 1
	store.offers[1] = &models.Offer{ID: 1, RFQID: 100, SellerID: 2, Price: dec("200"), Status: models.OfferWinning}
	store.rfq = &models.RFQ{
		ID:              100,
		BuyerID:         1,
		Status:          models.RFQInProduction,
		AcceptedOfferID: &offerID,
		Deadline:        time.Now().Add(48 * time.Hour),
		Version:         1,
	}

	_, err := e.CompleteProduction(ctx, 100, 2)
	require.Error(t, err)
	require.Equal(t, models.RFQInProduction, store.rfq.Status)
	require.Empty(t, store.spawned)

	orders.buildErr = nil
	done, err := e.CompleteProduction(ctx, 100, 2)
	require.NoError(t, err)
	require.Equal(t, models.RFQCompleted, done.Status)
	require.Len(t, store.spawned, 1)
}

func TestExpireIsIdempotent(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockOrderPlacer{})
	ctx := context.Background()

	store.rfq = &models.RFQ{
		ID:       100,
		BuyerID:  1,
		Status:   models.RFQPublished,
		Deadline: time.Now().Add(-time.Hour),
		Version:  1,
	}

	first, err := e.Expire(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, models.RFQExpired, first.Status)

	second, err := e.Expire(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, models.RFQExpired, second.Status)
}

func TestExpireBeforeDeadlineRejected(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockOrderPlacer{})

	store.rfq = &models.RFQ{
		ID:       100,
		BuyerID:  1,
		Status:   models.RFQPublished,
		Deadline: time.Now().Add(time.Hour),
		Version:  1,
	}
	_, err := e.Expire(context.Background(), 100)
	require.Equal(t, models.CodeInvalidTransition, models.CodeOf(err))
}

// Draft не терминален, поэтому просроченный черновик — это неверный
// переход, а не финальное состояние.
func TestExpireDraftRejected(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockOrderPlacer{})

	store.rfq = &models.RFQ{
		ID:       100,
		BuyerID:  1,
		Status:   models.RFQDraft,
		Deadline: time.Now().Add(-time.Hour),
		Version:  1,
	}
	_, err := e.Expire(context.Background(), 100)
	require.Equal(t, models.CodeInvalidTransition, models.CodeOf(err))
}

func TestExpireAfterAcceptanceRejected(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockOrderPlacer{})

	store.rfq = &models.RFQ{
		ID:       100,
		BuyerID:  1,
		Status:   models.RFQInProduction,
		Deadline: time.Now().Add(-time.Hour),
		Version:  1,
	}
	_, err := e.Expire(context.Background(), 100)
	require.Equal(t, models.CodeInvalidTransition, models.CodeOf(err))
}

func TestWithdrawOfferAfterAcceptanceRejected(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockOrderPlacer{})

	offerID := 1
	store.offers[1] = &models.Offer{ID: 1, RFQID: 100, SellerID: 2, Status: models.OfferWinning}
	store.rfq = &models.RFQ{
		ID:              100,
		BuyerID:         1,
		Status:          models.RFQProformaSent,
		AcceptedOfferID: &offerID,
		Deadline:        time.Now().Add(time.Hour),
		Version:         1,
	}
	err := e.WithdrawOffer(context.Background(), 100, 1, 2)
	require.Equal(t, models.CodeInvalidTransition, models.CodeOf(err))
}

func TestSweepExpired(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockOrderPlacer{})

	store.rfq = &models.RFQ{
		ID:       100,
		BuyerID:  1,
		Status:   models.RFQOffersReceived,
		Deadline: time.Now().Add(-time.Hour),
		Version:  1,
	}
	store.expired = []models.RFQ{*store.rfq}

	require.NoError(t, e.SweepExpired(context.Background()))
	require.Equal(t, models.RFQExpired, store.rfq.Status)
}

func TestCancelOnlyBeforeAccept(t *testing.T) {
	store := newMockStorage()
	e := newEngine(store, &MockOrderPlacer{})
	ctx := context.Background()

	store.rfq = &models.RFQ{
		ID:       100,
		BuyerID:  1,
		Status:   models.RFQProformaSent,
		Deadline: time.Now().Add(time.Hour),
		Version:  1,
	}
	_, err := e.Cancel(ctx, 100, 1)
	require.Equal(t, models.CodeInvalidTransition, models.CodeOf(err))
}
