package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"order-svc/clients"
	"order-svc/models"
	"order-svc/repository"
)

type memState struct {
	orders      map[int64]models.Order
	payments    map[int64]models.OrderPayment
	nextOrderID int64
	nextItemID  int64
	nextPayID   int64
}

func (st *memState) clone() *memState {
	c := &memState{
		orders:      make(map[int64]models.Order, len(st.orders)),
		payments:    make(map[int64]models.OrderPayment, len(st.payments)),
		nextOrderID: st.nextOrderID,
		nextItemID:  st.nextItemID,
		nextPayID:   st.nextPayID,
	}
	for id, o := range st.orders {
		c.orders[id] = copyOrder(o)
	}
	for id, p := range st.payments {
		c.payments[id] = p
	}
	return c
}

func copyOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderItem(nil), o.Items...)
	if o.LockedAt != nil {
		t := *o.LockedAt
		o.LockedAt = &t
	}
	return o
}

// memStore is an in-memory repository.Store. Transactions work on a copy of
// the state that is swapped in only when fn succeeds.
type memStore struct {
	mu    sync.Mutex
	state *memState
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		orders:   make(map[int64]models.Order),
		payments: make(map[int64]models.OrderPayment),
	}}
}

func (s *memStore) InTx(ctx context.Context, fn func(repo repository.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.state.clone()
	if err := fn(&memRepo{st: tx}); err != nil {
		return err
	}
	s.state = tx
	return nil
}

func (s *memStore) repo() *memRepo { return &memRepo{st: s.state} }

func (s *memStore) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo().CreateOrder(ctx, order)
}

func (s *memStore) GetOrderByID(ctx context.Context, id int64, forUpdate bool) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo().GetOrderByID(ctx, id, forUpdate)
}

func (s *memStore) GetOrderByNumber(ctx context.Context, orderNumber string, forUpdate bool) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo().GetOrderByNumber(ctx, orderNumber, forUpdate)
}

func (s *memStore) ListOrdersByUser(ctx context.Context, userID int64, page, size int) ([]models.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo().ListOrdersByUser(ctx, userID, page, size)
}

func (s *memStore) UpdateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo().UpdateOrder(ctx, order)
}

func (s *memStore) ExpirePendingOrders(ctx context.Context, cutoff, now time.Time) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo().ExpirePendingOrders(ctx, cutoff, now)
}

func (s *memStore) CreatePayment(ctx context.Context, payment *models.OrderPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo().CreatePayment(ctx, payment)
}

func (s *memStore) GetPaymentByPaymentID(ctx context.Context, paymentID int64, forUpdate bool) (*models.OrderPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo().GetPaymentByPaymentID(ctx, paymentID, forUpdate)
}

func (s *memStore) UpdatePayment(ctx context.Context, payment *models.OrderPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo().UpdatePayment(ctx, payment)
}

func (s *memStore) order(number string) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.state.orders {
		if o.OrderNumber == number {
			return copyOrder(o)
		}
	}
	return models.Order{}
}

func (s *memStore) payment(paymentID int64) models.OrderPayment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.payments[paymentID]
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

// setUpdatedAt backdates an order, standing in for time passing.
func (s *memStore) setUpdatedAt(number string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.state.orders {
		if o.OrderNumber == number {
			o.UpdatedAt = t
			s.state.orders[id] = o
		}
	}
}

type memRepo struct {
	st *memState
}

func (r *memRepo) CreateOrder(_ context.Context, order *models.Order) error {
	for _, o := range r.st.orders {
		if o.OrderNumber == order.OrderNumber {
			return repository.ErrDuplicateOrderNumber
		}
	}
	r.st.nextOrderID++
	order.ID = r.st.nextOrderID
	order.Version = 0
	for i := range order.Items {
		r.st.nextItemID++
		order.Items[i].ID = r.st.nextItemID
		order.Items[i].OrderID = order.ID
	}
	r.st.orders[order.ID] = copyOrder(*order)
	return nil
}

func (r *memRepo) GetOrderByID(_ context.Context, id int64, _ bool) (*models.Order, error) {
	o, ok := r.st.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := copyOrder(o)
	return &c, nil
}

func (r *memRepo) GetOrderByNumber(_ context.Context, orderNumber string, _ bool) (*models.Order, error) {
	for _, o := range r.st.orders {
		if o.OrderNumber == orderNumber {
			c := copyOrder(o)
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memRepo) ListOrdersByUser(_ context.Context, userID int64, page, size int) ([]models.Order, int, error) {
	var all []models.Order
	for _, o := range r.st.orders {
		if o.UserID == userID {
			all = append(all, copyOrder(o))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	start := page * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (r *memRepo) UpdateOrder(_ context.Context, order *models.Order) error {
	current, ok := r.st.orders[order.ID]
	if !ok || current.Version != order.Version {
		return repository.ErrConcurrentUpdate
	}
	order.Version++
	r.st.orders[order.ID] = copyOrder(*order)
	return nil
}

func (r *memRepo) ExpirePendingOrders(_ context.Context, cutoff, now time.Time) ([]models.Order, error) {
	expired := []models.Order{}
	for id, o := range r.st.orders {
		if o.Status != models.OrderStatusPending || !o.UpdatedAt.Before(cutoff) {
			continue
		}
		o.Status = models.OrderStatusCancelled
		o.PaymentStatus = models.PaymentStatusFailed
		o.Unlock()
		o.Version++
		o.UpdatedAt = now
		r.st.orders[id] = o
		expired = append(expired, copyOrder(o))
	}
	return expired, nil
}

func (r *memRepo) CreatePayment(_ context.Context, payment *models.OrderPayment) error {
	if _, ok := r.st.payments[payment.PaymentID]; ok {
		return repository.ErrDuplicatePayment
	}
	r.st.nextPayID++
	payment.ID = r.st.nextPayID
	r.st.payments[payment.PaymentID] = *payment
	return nil
}

func (r *memRepo) GetPaymentByPaymentID(_ context.Context, paymentID int64, _ bool) (*models.OrderPayment, error) {
	p, ok := r.st.payments[paymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *memRepo) UpdatePayment(_ context.Context, payment *models.OrderPayment) error {
	if _, ok := r.st.payments[payment.PaymentID]; !ok {
		return repository.ErrNotFound
	}
	r.st.payments[payment.PaymentID] = *payment
	return nil
}

type fakeProducts struct {
	mu         sync.Mutex
	products   map[int64]models.Product
	err        error
	reduceErr  error
	reductions [][]models.StockReduction
}

func newFakeProducts(products ...models.Product) *fakeProducts {
	f := &fakeProducts{products: make(map[int64]models.Product)}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeProducts) GetProduct(_ context.Context, productID int64) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.products[productID]
	if !ok {
		return nil, clients.ErrNotFound
	}
	return &p, nil
}

func (f *fakeProducts) ReduceStockBatch(_ context.Context, reductions []models.StockReduction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reductions = append(f.reductions, reductions)
	return f.reduceErr
}

func (f *fakeProducts) setPrice(id int64, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.products[id]
	p.Price = mustDecimal(price)
	f.products[id] = p
}

type fakeCart struct {
	cart     *models.Cart
	err      error
	clearErr error
	cleared  int
}

func (f *fakeCart) GetCart(context.Context) (*models.Cart, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cart, nil
}

func (f *fakeCart) ClearCart(context.Context) error {
	f.cleared++
	return f.clearErr
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.NotificationEvent
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, event models.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *fakeNotifier) count(t models.NotificationType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.OrderEvent
	err    error
}

func (f *fakePublisher) PublishOrderEvent(_ context.Context, event models.OrderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.EventType
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeLocker struct {
	acquired bool
	err      error
	calls    int
}

func (f *fakeLocker) AcquireSweepLock(context.Context, time.Duration) (bool, error) {
	f.calls++
	return f.acquired, f.err
}

type countingProcessor struct {
	calls int
	err   error
}

func (p *countingProcessor) ProcessExpiredOrders(context.Context) (int, error) {
	p.calls++
	return 0, p.err
}

var errBoom = errors.New("boom")
