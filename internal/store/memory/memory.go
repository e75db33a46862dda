// Package memory is the in-process store dialect. It backs tests and lets
// the API run without a database; mutations are serialized behind a single
// mutex and a unit of work rolls back by restoring a snapshot.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"fiado.app/internal/sales"
)

type state struct {
	products     map[string]sales.Product
	customers    map[string]sales.Customer
	sales        map[string]sales.Sale
	items        map[string][]sales.LineItem
	installments map[string][]sales.Installment
	payments     []sales.Payment
}

func newState() *state {
	return &state{
		products:     make(map[string]sales.Product),
		customers:    make(map[string]sales.Customer),
		sales:        make(map[string]sales.Sale),
		items:        make(map[string][]sales.LineItem),
		installments: make(map[string][]sales.Installment),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.customers {
		c.customers[k] = v
	}
	for k, v := range st.sales {
		c.sales[k] = v
	}
	for k, v := range st.items {
		c.items[k] = append([]sales.LineItem(nil), v...)
	}
	for k, v := range st.installments {
		c.installments[k] = append([]sales.Installment(nil), v...)
	}
	c.payments = append([]sales.Payment(nil), st.payments...)
	return c
}

// Store implements sales.Store in memory.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ sales.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

// --- Catalog ---

func (s *Store) CreateProduct(ctx context.Context, p sales.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (sales.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	if !ok {
		return sales.Product{}, sales.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]sales.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sales.Product, 0, len(s.st.products))
	for _, p := range s.st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p sales.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.st.products[p.ID]
	if !ok {
		return sales.ErrNotFound
	}
	p.CreatedAt = existing.CreatedAt
	s.st.products[p.ID] = p
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.products[id]; !ok {
		return sales.ErrNotFound
	}
	for _, items := range s.st.items {
		for _, li := range items {
			if li.ProductID == id {
				return sales.ErrInUse
			}
		}
	}
	delete(s.st.products, id)
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, c sales.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.customers[c.ID] = c
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (sales.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.customers[id]
	if !ok {
		return sales.Customer{}, sales.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]sales.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sales.Customer, 0, len(s.st.customers))
	for _, c := range s.st.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		return out[i].FirstName < out[j].FirstName
	})
	return out, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, c sales.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.st.customers[c.ID]
	if !ok {
		return sales.ErrNotFound
	}
	c.CreatedAt = existing.CreatedAt
	s.st.customers[c.ID] = c
	return nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.customers[id]; !ok {
		return sales.ErrNotFound
	}
	for _, sale := range s.st.sales {
		if sale.CustomerID == id {
			return sales.ErrInUse
		}
	}
	delete(s.st.customers, id)
	return nil
}

// --- Sale reads ---

func (s *Store) GetSale(ctx context.Context, id string) (sales.SaleDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.st.sales[id]
	if !ok {
		return sales.SaleDetail{}, sales.ErrNotFound
	}
	detail := sales.SaleDetail{
		Sale:         sale,
		Items:        append([]sales.LineItem(nil), s.st.items[id]...),
		Installments: append([]sales.Installment(nil), s.st.installments[id]...),
	}
	for _, p := range s.st.payments {
		if p.SaleID == id {
			detail.Payments = append(detail.Payments, p)
		}
	}
	return detail, nil
}

func (s *Store) ListSales(ctx context.Context, limit int, afterID string) ([]sales.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sales.Sale, 0, len(s.st.sales))
	for _, sale := range s.st.sales {
		if afterID != "" && sale.ID <= afterID {
			continue
		}
		out = append(out, sale)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Unit of work ---

// Begin locks the store for the duration of the transaction and keeps a
// snapshot to restore on rollback.
func (s *Store) Begin(ctx context.Context) (sales.Tx, error) {
	s.mu.Lock()
	return &tx{store: s, snapshot: s.st.clone()}, nil
}

type tx struct {
	store    *Store
	snapshot *state
	done     bool
}

var _ sales.Tx = (*tx)(nil)

func (t *tx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.snapshot = nil
	t.store.mu.Unlock()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.st = t.snapshot
	t.snapshot = nil
	t.store.mu.Unlock()
	return nil
}

func (t *tx) CustomerExists(ctx context.Context, id string) (bool, error) {
	_, ok := t.store.st.customers[id]
	return ok, nil
}

func (t *tx) ProductQuantityForUpdate(ctx context.Context, id string) (int64, error) {
	p, ok := t.store.st.products[id]
	if !ok {
		return 0, sales.ErrNotFound
	}
	return p.Quantity, nil
}

func (t *tx) DecrementProduct(ctx context.Context, id string, qty int64) error {
	p, ok := t.store.st.products[id]
	if !ok {
		return sales.ErrNotFound
	}
	p.Quantity -= qty
	t.store.st.products[id] = p
	return nil
}

func (t *tx) InsertSale(ctx context.Context, sale sales.Sale) error {
	t.store.st.sales[sale.ID] = sale
	return nil
}

func (t *tx) UpdateSaleTotals(ctx context.Context, id string, total, balance decimal.Decimal) error {
	sale, ok := t.store.st.sales[id]
	if !ok {
		return sales.ErrNotFound
	}
	sale.Total = total
	sale.Balance = balance
	t.store.st.sales[id] = sale
	return nil
}

func (t *tx) InsertLineItem(ctx context.Context, li sales.LineItem) error {
	t.store.st.items[li.SaleID] = append(t.store.st.items[li.SaleID], li)
	return nil
}

func (t *tx) InsertInstallment(ctx context.Context, ins sales.Installment) error {
	list := append(t.store.st.installments[ins.SaleID], ins)
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	t.store.st.installments[ins.SaleID] = list
	return nil
}

func (t *tx) InsertPayment(ctx context.Context, p sales.Payment) error {
	t.store.st.payments = append(t.store.st.payments, p)
	return nil
}

func (t *tx) SaleForUpdate(ctx context.Context, id string) (sales.Sale, error) {
	sale, ok := t.store.st.sales[id]
	if !ok {
		return sales.Sale{}, sales.ErrNotFound
	}
	return sale, nil
}

func (t *tx) InstallmentsForSale(ctx context.Context, saleID string) ([]sales.Installment, error) {
	return append([]sales.Installment(nil), t.store.st.installments[saleID]...), nil
}

func (t *tx) ApplyToInstallment(ctx context.Context, installmentID string, amount decimal.Decimal) error {
	for saleID, list := range t.store.st.installments {
		for i := range list {
			if list[i].ID == installmentID {
				list[i].Paid = list[i].Paid.Add(amount)
				list[i].Outstanding = list[i].Outstanding.Sub(amount)
				t.store.st.installments[saleID] = list
				return nil
			}
		}
	}
	return sales.ErrNotFound
}

func (t *tx) UpdateSaleBalance(ctx context.Context, saleID string, balance decimal.Decimal) error {
	sale, ok := t.store.st.sales[saleID]
	if !ok {
		return sales.ErrNotFound
	}
	sale.Balance = balance
	t.store.st.sales[saleID] = sale
	return nil
}

func (t *tx) PaymentsByIdempotencyKey(ctx context.Context, key string) ([]sales.Payment, error) {
	var out []sales.Payment
	for _, p := range t.store.st.payments {
		if p.IdempotencyKey == key {
			out = append(out, p)
		}
	}
	return out, nil
}
