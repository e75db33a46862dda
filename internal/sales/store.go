package sales

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the storage contract the ledger rules run against. Dialects
// (Postgres, in-memory) supply query translation only; every business rule
// lives in Service.
type Store interface {
	// Catalog operations run in their own implicit transactions.
	CreateProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	UpdateProduct(ctx context.Context, p Product) error
	// DeleteProduct returns ErrInUse while any sale line references the product.
	DeleteProduct(ctx context.Context, id string) error

	CreateCustomer(ctx context.Context, c Customer) error
	GetCustomer(ctx context.Context, id string) (Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
	UpdateCustomer(ctx context.Context, c Customer) error
	// DeleteCustomer returns ErrInUse while the customer has sales.
	DeleteCustomer(ctx context.Context, id string) error

	GetSale(ctx context.Context, id string) (SaleDetail, error)
	ListSales(ctx context.Context, limit int, afterID string) ([]Sale, error)

	// Begin opens the unit of work all mutating ledger operations run in.
	Begin(ctx context.Context) (Tx, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx is a single all-or-nothing unit of work. Every read inside it is
// transaction-scoped; Rollback after Commit is a no-op.
type Tx interface {
	CustomerExists(ctx context.Context, id string) (bool, error)

	// ProductQuantityForUpdate reads the on-hand quantity while holding the
	// product row against concurrent reservations. ErrNotFound when absent.
	ProductQuantityForUpdate(ctx context.Context, id string) (int64, error)
	DecrementProduct(ctx context.Context, id string, qty int64) error

	InsertSale(ctx context.Context, s Sale) error
	UpdateSaleTotals(ctx context.Context, id string, total, balance decimal.Decimal) error
	InsertLineItem(ctx context.Context, li LineItem) error
	InsertInstallment(ctx context.Context, ins Installment) error
	InsertPayment(ctx context.Context, p Payment) error

	// SaleForUpdate loads the header while holding the sale row.
	SaleForUpdate(ctx context.Context, id string) (Sale, error)
	// InstallmentsForSale returns all installments of a sale in ascending
	// sequence order. Sequence is authoritative, not due date.
	InstallmentsForSale(ctx context.Context, saleID string) ([]Installment, error)
	// ApplyToInstallment moves amount from outstanding to paid.
	ApplyToInstallment(ctx context.Context, installmentID string, amount decimal.Decimal) error
	UpdateSaleBalance(ctx context.Context, saleID string, balance decimal.Decimal) error

	// PaymentsByIdempotencyKey returns the recorded payment batch for a key,
	// oldest first. Empty result means the key is unused.
	PaymentsByIdempotencyKey(ctx context.Context, key string) ([]Payment, error)

	Commit() error
	Rollback() error
}

// nowFunc lets tests pin time.
type nowFunc func() time.Time
