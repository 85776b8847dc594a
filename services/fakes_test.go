package services_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"reconciliation-service/invoice"
	"reconciliation-service/models"
	"reconciliation-service/pricing"
	"reconciliation-service/providers"
	"reconciliation-service/repository"
	"reconciliation-service/services"
)

// memDB is an in-memory stand-in for Postgres. A transaction holds the
// lock for its whole duration and restores a snapshot on error.
type memDB struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]*models.Order
	txns    map[uuid.UUID]*models.PaymentTransaction
	sales   []models.Sale
	coupons map[string]*models.Coupon

	// transientReads fails that many FindByID calls with a connection error.
	transientReads int32
	// onUpdate runs before each guarded order update.
	onUpdate func(o *models.Order)

	resolves int32
}

func newMemDB() *memDB {
	return &memDB{
		orders:  map[uuid.UUID]*models.Order{},
		txns:    map[uuid.UUID]*models.PaymentTransaction{},
		coupons: map[string]*models.Coupon{},
	}
}

type memStore struct {
	db   *memDB
	inTx bool
}

func (s *memStore) run(fn func()) {
	if !s.inTx {
		s.db.mu.Lock()
		defer s.db.mu.Unlock()
	}
	fn()
}

func (s *memStore) Orders() repository.OrderRepository         { return memOrders{s} }
func (s *memStore) Payments() repository.PaymentRepository     { return memPayments{s} }
func (s *memStore) Promotions() repository.PromotionRepository { return memPromotions{s} }

func (s *memStore) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	orders := make(map[uuid.UUID]*models.Order, len(s.db.orders))
	for k, v := range s.db.orders {
		orders[k] = v.Clone()
	}
	txns := make(map[uuid.UUID]*models.PaymentTransaction, len(s.db.txns))
	for k, v := range s.db.txns {
		cp := *v
		txns[k] = &cp
	}
	coupons := make(map[string]*models.Coupon, len(s.db.coupons))
	for k, v := range s.db.coupons {
		cp := *v
		coupons[k] = &cp
	}

	if err := fn(&memStore{db: s.db, inTx: true}); err != nil {
		s.db.orders, s.db.txns, s.db.coupons = orders, txns, coupons
		return err
	}
	return nil
}

type memOrders struct{ s *memStore }

func (r memOrders) Create(ctx context.Context, o *models.Order) (err error) {
	r.s.run(func() {
		if _, ok := r.s.db.orders[o.ID]; ok {
			err = repository.ErrDuplicate
			return
		}
		if o.Version == 0 {
			o.Version = 1
		}
		r.s.db.orders[o.ID] = o.Clone()
	})
	return err
}

func (r memOrders) FindByID(ctx context.Context, id uuid.UUID) (o *models.Order, err error) {
	if atomic.AddInt32(&r.s.db.transientReads, -1) >= 0 {
		return nil, &pgconn.PgError{Code: pgerrcode.ConnectionFailure}
	}
	r.s.run(func() {
		stored, ok := r.s.db.orders[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		o = stored.Clone()
	})
	return o, err
}

func (r memOrders) List(ctx context.Context, f repository.OrderFilter) (out []models.Order, total int64, err error) {
	r.s.run(func() {
		for _, o := range r.s.db.orders {
			if f.CustomerID != uuid.Nil && o.CustomerID != f.CustomerID {
				continue
			}
			if f.Status != "" && o.Status != f.Status {
				continue
			}
			out = append(out, *o.Clone())
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total = int64(len(out))
	start := (f.Page - 1) * f.Limit
	if start > len(out) {
		start = len(out)
	}
	end := start + f.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (r memOrders) UpdateGuarded(ctx context.Context, o *models.Order) (err error) {
	r.s.run(func() {
		stored, ok := r.s.db.orders[o.ID]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		if r.s.db.onUpdate != nil {
			r.s.db.onUpdate(stored)
		}
		if stored.Version != o.Version {
			err = repository.ErrVersionConflict
			return
		}
		next := o.Clone()
		next.Version++
		next.InvoiceURL, next.InvoiceNumber = stored.InvoiceURL, stored.InvoiceNumber
		r.s.db.orders[o.ID] = next
		o.Version = next.Version
	})
	return err
}

func (r memOrders) SetInvoiceURL(ctx context.Context, id uuid.UUID, number, url string) (won bool, err error) {
	r.s.run(func() {
		stored, ok := r.s.db.orders[id]
		if !ok || stored.InvoiceURL != "" {
			return
		}
		stored.InvoiceURL, stored.InvoiceNumber = url, number
		won = true
	})
	return won, nil
}

type memPayments struct{ s *memStore }

func (r memPayments) Create(ctx context.Context, t *models.PaymentTransaction) (err error) {
	r.s.run(func() {
		for _, existing := range r.s.db.txns {
			if existing.ProviderOrderID == t.ProviderOrderID {
				err = repository.ErrDuplicate
				return
			}
		}
		cp := *t
		r.s.db.txns[t.ID] = &cp
	})
	return err
}

func (r memPayments) FindByID(ctx context.Context, id uuid.UUID) (t *models.PaymentTransaction, err error) {
	r.s.run(func() {
		stored, ok := r.s.db.txns[id]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		cp := *stored
		t = &cp
	})
	return t, err
}

func (r memPayments) FindByProviderOrderID(ctx context.Context, ref string) (t *models.PaymentTransaction, err error) {
	err = repository.ErrNotFound
	r.s.run(func() {
		for _, stored := range r.s.db.txns {
			if stored.ProviderOrderID == ref {
				cp := *stored
				t, err = &cp, nil
				return
			}
		}
	})
	return t, err
}

func (r memPayments) ListByOrderID(ctx context.Context, orderID uuid.UUID) (out []models.PaymentTransaction, err error) {
	r.s.run(func() {
		for _, stored := range r.s.db.txns {
			if stored.OrderID == orderID {
				out = append(out, *stored)
			}
		}
	})
	return out, nil
}

func (r memPayments) Resolve(ctx context.Context, t *models.PaymentTransaction) (won bool, err error) {
	r.s.run(func() {
		atomic.AddInt32(&r.s.db.resolves, 1)
		stored, ok := r.s.db.txns[t.ID]
		if !ok || stored.Status != models.TransactionCreated {
			return
		}
		cp := *t
		r.s.db.txns[t.ID] = &cp
		won = true
	})
	return won, nil
}

type memPromotions struct{ s *memStore }

func (r memPromotions) ActiveSales(ctx context.Context, now time.Time) (out []models.Sale, err error) {
	r.s.run(func() { out = append(out, r.s.db.sales...) })
	return out, nil
}

func (r memPromotions) FindCouponByCode(ctx context.Context, code string) (c *models.Coupon, err error) {
	r.s.run(func() {
		stored, ok := r.s.db.coupons[strings.ToUpper(code)]
		if !ok {
			err = repository.ErrNotFound
			return
		}
		cp := *stored
		c = &cp
	})
	return c, err
}

func (r memPromotions) RedeemCoupon(ctx context.Context, id uuid.UUID) (ok bool, err error) {
	r.s.run(func() {
		for _, c := range r.s.db.coupons {
			if c.ID == id && (c.UsageLimit == 0 || c.UsedCount < c.UsageLimit) {
				c.UsedCount++
				ok = true
			}
		}
	})
	return ok, nil
}

func (r memPromotions) ReleaseCoupon(ctx context.Context, code string) error {
	r.s.run(func() {
		if c, ok := r.s.db.coupons[strings.ToUpper(strings.TrimSpace(code))]; ok && c.UsedCount > 0 {
			c.UsedCount--
		}
	})
	return nil
}

type fakeCatalog map[uuid.UUID]services.Product

func (c fakeCatalog) FetchProduct(ctx context.Context, id uuid.UUID) (*services.Product, error) {
	p, ok := c[id]
	if !ok {
		return nil, fmt.Errorf("no product %s", id)
	}
	return &p, nil
}

// fakeRazorpay signs like Razorpay but creates orders locally.
type fakeRazorpay struct {
	*providers.RazorpayClient
	intents int32
	fail    error
}

func (g *fakeRazorpay) CreateIntent(ctx context.Context, orderID uuid.UUID, amount int64, currency string) (*providers.Intent, error) {
	if g.fail != nil {
		return nil, g.fail
	}
	n := atomic.AddInt32(&g.intents, 1)
	return &providers.Intent{
		Gateway:         models.GatewayRazorpay,
		ProviderOrderID: fmt.Sprintf("order_%d", n),
		Amount:          amount,
		Currency:        currency,
		KeyID:           "rzp_test",
	}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, evt models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type memObjects struct {
	mu   sync.Mutex
	docs map[string][]byte
	puts int
}

func (m *memObjects) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = body
	m.puts++
	return "https://cdn.test/" + key, nil
}

func (m *memObjects) Exists(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[key]; ok {
		return "https://cdn.test/" + key, true, nil
	}
	return "", false, nil
}

type harness struct {
	db        *memDB
	store     *memStore
	catalog   fakeCatalog
	gateway   *fakeRazorpay
	publisher *recordingPublisher
	objects   *memObjects
	svc       *services.ReconciliationService
	orders    *services.OrderService
	invoices  *services.InvoiceService
	verifier  *services.PaymentVerifier
}

func newHarness() *harness {
	db := newMemDB()
	store := &memStore{db: db}
	locker := repository.NewLocalOrderLocker()
	retry := services.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
	logger := zap.NewNop()

	gw := &fakeRazorpay{RazorpayClient: providers.NewRazorpayClient("rzp_test", "rzp_secret", "")}
	registry := providers.NewRegistry(gw, providers.NewPayPalClient())
	pub := &recordingPublisher{}
	objects := &memObjects{docs: map[string][]byte{}}

	calc, err := pricing.NewCalculator(pricing.Policy{
		Stacking:              pricing.SaleThenCoupon,
		TaxRatePercent:        8,
		ShippingFlatFee:       5000,
		FreeShippingThreshold: 50000,
	})
	if err != nil {
		panic(err)
	}

	verifier := services.NewPaymentVerifier(store, locker, registry, retry, logger)
	orders := services.NewOrderService(store, locker, retry, pub, nil, logger)
	invoices := services.NewInvoiceService(store, locker, objects, invoice.Seller{Name: "Acme Stores"}, retry, pub, nil, logger)
	catalog := fakeCatalog{}

	svc := services.NewReconciliationService(services.Deps{
		Store:      store,
		Calculator: calc,
		Catalog:    catalog,
		Gateways:   registry,
		Verifier:   verifier,
		Orders:     orders,
		Invoices:   invoices,
		Publisher:  pub,
		Retry:      retry,
		Logger:     logger,
	}, services.Options{Currency: "INR", DeliveryLead: 7 * 24 * time.Hour})

	return &harness{
		db: db, store: store, catalog: catalog, gateway: gw, publisher: pub, objects: objects,
		svc: svc, orders: orders, invoices: invoices, verifier: verifier,
	}
}

// product registers a catalog product priced in major units.
func (h *harness) product(name string, price float64, stock int) uuid.UUID {
	id := uuid.New()
	h.catalog[id] = services.Product{ID: id, Name: name, Price: price, Stock: stock}
	return id
}

func (h *harness) stored(id uuid.UUID) *models.Order {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	return h.db.orders[id].Clone()
}

func (h *harness) storedTxn(id uuid.UUID) models.PaymentTransaction {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	return *h.db.txns[id]
}

var address = models.Address{Name: "Asha Rao", Line1: "12 MG Road", City: "Pune", PostalCode: "411001", Country: "IN"}
