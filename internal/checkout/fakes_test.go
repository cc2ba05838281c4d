package checkout_test

import (
	"context"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/partshub/go-parts-market/internal/inventory"
	"github.com/partshub/go-parts-market/internal/orders"
)

// fakeLedger mirrors the real ledger's contract: atomic check-then-decrement
// per product, reservations keyed by (order, product), idempotent release,
// and a fence refusing reserves for any order already released.
type fakeLedger struct {
	mu        sync.Mutex
	prods     map[string]*fakeProduct
	res       map[string]map[string]int // orderID -> productID -> qty
	closed    map[string]bool           // order ids fenced by ReleaseOrder
	errOn     map[string]error          // productID -> injected failure
	lastOrder string
}

type fakeProduct struct {
	name  string
	price int
	stock int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		prods:  make(map[string]*fakeProduct),
		res:    make(map[string]map[string]int),
		closed: make(map[string]bool),
		errOn:  make(map[string]error),
	}
}

func (f *fakeLedger) addProduct(id, name string, price, stock int) {
	f.prods[id] = &fakeProduct{name: name, price: price, stock: stock}
}

func (f *fakeLedger) stockOf(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prods[id].stock
}

func (f *fakeLedger) Reserve(_ context.Context, orderID, productID string, qty int) (*inventory.Reserved, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOrder = orderID
	if err := f.errOn[productID]; err != nil {
		return nil, err
	}
	if f.closed[orderID] {
		return nil, inventory.ErrOrderClosed
	}
	p, ok := f.prods[productID]
	if !ok {
		return nil, inventory.ErrProductNotFound
	}
	if m := f.res[orderID]; m != nil {
		if _, ok := m[productID]; ok {
			return &inventory.Reserved{ProductID: productID, ProductName: p.name, PriceCents: p.price, Remaining: p.stock}, nil
		}
	}
	if p.stock < qty {
		return nil, &inventory.InsufficientStockError{
			ProductID: productID, ProductName: p.name, Available: p.stock, Requested: qty,
		}
	}
	p.stock -= qty
	if f.res[orderID] == nil {
		f.res[orderID] = make(map[string]int)
	}
	f.res[orderID][productID] = qty
	return &inventory.Reserved{ProductID: productID, ProductName: p.name, PriceCents: p.price, Remaining: p.stock}, nil
}

func (f *fakeLedger) ReleaseOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[orderID] = true
	for pid, qty := range f.res[orderID] {
		f.prods[pid].stock += qty
	}
	delete(f.res, orderID)
	return nil
}

func (f *fakeLedger) clearErr(productID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errOn, productID)
}

func (f *fakeLedger) lastOrderID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOrder
}

func (f *fakeLedger) heldBy(orderID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.res[orderID])
}

// fakeStore mimics the repo: unique external_id, force-PENDING insert,
// transition validation under a single lock.
type fakeStore struct {
	mu    sync.Mutex
	byID  map[string]*orders.Order
	byExt map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: make(map[string]*orders.Order), byExt: make(map[string]string)}
}

func (f *fakeStore) Insert(_ context.Context, o *orders.Order) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byExt[o.ExternalID]; ok {
		return false, nil
	}
	o.Status = orders.StatusPending
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	f.byID[o.ID] = &cp
	f.byExt[o.ExternalID] = o.ID
	return true, nil
}

func (f *fakeStore) Get(_ context.Context, orderID string) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[orderID]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) FindByExternalID(_ context.Context, externalID string) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byExt[externalID]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	cp := *f.byID[id]
	return &cp, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, orderID string, next orders.Status) (orders.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[orderID]
	if !ok {
		return "", orders.ErrOrderNotFound
	}
	prev := o.Status
	if !orders.CanTransition(prev, next) {
		return "", &orders.IllegalTransitionError{From: prev, To: next}
	}
	o.Status = next
	o.UpdatedAt = time.Now()
	return prev, nil
}

func (f *fakeStore) Delete(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[orderID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if o.Status != orders.StatusCompleted {
		return orders.ErrNotCompleted
	}
	delete(f.byExt, o.ExternalID)
	delete(f.byID, orderID)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (f *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
}

func (f *fakePublisher) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}
