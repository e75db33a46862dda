// Package pg is the PostgreSQL store dialect. It translates the sales.Store
// contract into SQL; no business rule lives here.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"fiado.app/internal/sales"
)

type Store struct {
	db *sql.DB
}

var _ sales.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests use this with sqlmock).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// --- Catalog ---

func (s *Store) CreateProduct(ctx context.Context, p sales.Product) error {
	_, err := s.db.ExecContext(ctx, `
		insert into products(id, name, detail, brand, expires_at, cost, price, quantity, created_at)
		values ($1, $2, nullif($3,''), nullif($4,''), $5, $6, $7, $8, $9)
	`, p.ID, p.Name, p.Detail, p.Brand, p.ExpiresAt, p.Cost, p.Price, p.Quantity, p.CreatedAt)
	return err
}

const productColumns = `id, name, coalesce(detail,''), coalesce(brand,''), expires_at, cost, price, quantity, created_at`

func scanProduct(row interface{ Scan(...any) error }) (sales.Product, error) {
	var (
		p       sales.Product
		expires sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Name, &p.Detail, &p.Brand, &expires, &p.Cost, &p.Price, &p.Quantity, &p.CreatedAt)
	if err != nil {
		return sales.Product{}, err
	}
	if expires.Valid {
		d := sales.NormalizeDate(expires.Time)
		p.ExpiresAt = &d
	}
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (sales.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx,
		`select `+productColumns+` from products where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return sales.Product{}, sales.ErrNotFound
	}
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]sales.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+productColumns+` from products order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sales.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProduct(ctx context.Context, p sales.Product) error {
	res, err := s.db.ExecContext(ctx, `
		update products
		set name=$2, detail=nullif($3,''), brand=nullif($4,''), expires_at=$5, cost=$6, price=$7, quantity=$8
		where id=$1
	`, p.ID, p.Name, p.Detail, p.Brand, p.ExpiresAt, p.Cost, p.Price, p.Quantity)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	var ref int
	err := s.db.QueryRowContext(ctx,
		`select 1 from sale_items where product_id=$1 limit 1`, id).Scan(&ref)
	if err == nil {
		return sales.ErrInUse
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	res, err := s.db.ExecContext(ctx, `delete from products where id=$1`, id)
	if err != nil {
		// a sale can start referencing the row after the check above
		if isFKViolation(err) {
			return sales.ErrInUse
		}
		return err
	}
	return requireRow(res)
}

// isFKViolation reports a Postgres foreign_key_violation (23503).
func isFKViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func (s *Store) CreateCustomer(ctx context.Context, c sales.Customer) error {
	_, err := s.db.ExecContext(ctx, `
		insert into customers(id, first_name, last_name, phone, email, address, city, notes, created_at)
		values ($1, $2, nullif($3,''), nullif($4,''), nullif($5,''), nullif($6,''), nullif($7,''), nullif($8,''), $9)
	`, c.ID, c.FirstName, c.LastName, c.Phone, c.Email, c.Address, c.City, c.Notes, c.CreatedAt)
	return err
}

const customerColumns = `id, first_name, coalesce(last_name,''), coalesce(phone,''), coalesce(email,''),
	coalesce(address,''), coalesce(city,''), coalesce(notes,''), created_at`

func scanCustomer(row interface{ Scan(...any) error }) (sales.Customer, error) {
	var c sales.Customer
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Phone, &c.Email, &c.Address, &c.City, &c.Notes, &c.CreatedAt)
	return c, err
}

func (s *Store) GetCustomer(ctx context.Context, id string) (sales.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx,
		`select `+customerColumns+` from customers where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return sales.Customer{}, sales.ErrNotFound
	}
	return c, err
}

func (s *Store) ListCustomers(ctx context.Context) ([]sales.Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+customerColumns+` from customers order by last_name nulls last, first_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sales.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCustomer(ctx context.Context, c sales.Customer) error {
	res, err := s.db.ExecContext(ctx, `
		update customers
		set first_name=$2, last_name=nullif($3,''), phone=nullif($4,''), email=nullif($5,''),
		    address=nullif($6,''), city=nullif($7,''), notes=nullif($8,'')
		where id=$1
	`, c.ID, c.FirstName, c.LastName, c.Phone, c.Email, c.Address, c.City, c.Notes)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	var ref int
	err := s.db.QueryRowContext(ctx,
		`select 1 from sales where customer_id=$1 limit 1`, id).Scan(&ref)
	if err == nil {
		return sales.ErrInUse
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	res, err := s.db.ExecContext(ctx, `delete from customers where id=$1`, id)
	if err != nil {
		if isFKViolation(err) {
			return sales.ErrInUse
		}
		return err
	}
	return requireRow(res)
}

// --- Sale reads ---

const saleColumns = `id, sale_date, customer_id, mode, interest_rate, total, balance, created_at`

func scanSale(row interface{ Scan(...any) error }) (sales.Sale, error) {
	var (
		sale sales.Sale
		date time.Time
	)
	err := row.Scan(&sale.ID, &date, &sale.CustomerID, &sale.Mode, &sale.InterestRate,
		&sale.Total, &sale.Balance, &sale.CreatedAt)
	if err != nil {
		return sales.Sale{}, err
	}
	sale.Date = sales.NormalizeDate(date)
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (sales.SaleDetail, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx,
		`select `+saleColumns+` from sales where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return sales.SaleDetail{}, sales.ErrNotFound
	}
	if err != nil {
		return sales.SaleDetail{}, err
	}
	detail := sales.SaleDetail{Sale: sale}

	itemRows, err := s.db.QueryContext(ctx, `
		select id, sale_id, product_id, quantity, unit_price
		from sale_items where sale_id=$1 order by id
	`, id)
	if err != nil {
		return sales.SaleDetail{}, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var li sales.LineItem
		if err := itemRows.Scan(&li.ID, &li.SaleID, &li.ProductID, &li.Quantity, &li.UnitPrice); err != nil {
			return sales.SaleDetail{}, err
		}
		detail.Items = append(detail.Items, li)
	}
	if err := itemRows.Err(); err != nil {
		return sales.SaleDetail{}, err
	}

	insRows, err := s.db.QueryContext(ctx, `
		select id, sale_id, seq, due_date, amount, paid, outstanding
		from installments where sale_id=$1 order by seq
	`, id)
	if err != nil {
		return sales.SaleDetail{}, err
	}
	defer insRows.Close()
	for insRows.Next() {
		ins, err := scanInstallment(insRows)
		if err != nil {
			return sales.SaleDetail{}, err
		}
		detail.Installments = append(detail.Installments, ins)
	}
	if err := insRows.Err(); err != nil {
		return sales.SaleDetail{}, err
	}

	payRows, err := s.db.QueryContext(ctx, `
		select id, sale_id, installment_id, paid_at, amount, coalesce(idempotency_key,'')
		from payments where sale_id=$1 order by id
	`, id)
	if err != nil {
		return sales.SaleDetail{}, err
	}
	defer payRows.Close()
	for payRows.Next() {
		p, err := scanPayment(payRows)
		if err != nil {
			return sales.SaleDetail{}, err
		}
		detail.Payments = append(detail.Payments, p)
	}
	return detail, payRows.Err()
}

func (s *Store) ListSales(ctx context.Context, limit int, afterID string) ([]sales.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+saleColumns+` from sales
		where id > $1 order by id asc limit $2
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sales.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, rows.Err()
}

func scanInstallment(row interface{ Scan(...any) error }) (sales.Installment, error) {
	var (
		ins sales.Installment
		due time.Time
	)
	err := row.Scan(&ins.ID, &ins.SaleID, &ins.Seq, &due, &ins.Amount, &ins.Paid, &ins.Outstanding)
	if err != nil {
		return sales.Installment{}, err
	}
	ins.DueDate = sales.NormalizeDate(due)
	return ins, nil
}

func scanPayment(row interface{ Scan(...any) error }) (sales.Payment, error) {
	var (
		p     sales.Payment
		insID sql.NullString
		date  time.Time
	)
	err := row.Scan(&p.ID, &p.SaleID, &insID, &date, &p.Amount, &p.IdempotencyKey)
	if err != nil {
		return sales.Payment{}, err
	}
	if insID.Valid {
		p.InstallmentID = &insID.String
	}
	p.Date = sales.NormalizeDate(date)
	return p, nil
}

// --- Unit of work ---

func (s *Store) Begin(ctx context.Context) (sales.Tx, error) {
	t, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &tx{tx: t}, nil
}

type tx struct {
	tx *sql.Tx
}

var _ sales.Tx = (*tx)(nil)

func (t *tx) Commit() error   { return t.tx.Commit() }
func (t *tx) Rollback() error { return t.tx.Rollback() }

func (t *tx) CustomerExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, `select 1 from customers where id=$1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *tx) ProductQuantityForUpdate(ctx context.Context, id string) (int64, error) {
	var qty int64
	err := t.tx.QueryRowContext(ctx,
		`select quantity from products where id=$1 for update`, id).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, sales.ErrNotFound
	}
	return qty, err
}

func (t *tx) DecrementProduct(ctx context.Context, id string, qty int64) error {
	res, err := t.tx.ExecContext(ctx,
		`update products set quantity = quantity - $2 where id=$1`, id, qty)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *tx) InsertSale(ctx context.Context, sale sales.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into sales(id, sale_date, customer_id, mode, interest_rate, total, balance, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sale.ID, sale.Date, sale.CustomerID, sale.Mode, sale.InterestRate, sale.Total, sale.Balance, sale.CreatedAt)
	return err
}

func (t *tx) UpdateSaleTotals(ctx context.Context, id string, total, balance decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx,
		`update sales set total=$2, balance=$3 where id=$1`, id, total, balance)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *tx) InsertLineItem(ctx context.Context, li sales.LineItem) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into sale_items(id, sale_id, product_id, quantity, unit_price)
		values ($1, $2, $3, $4, $5)
	`, li.ID, li.SaleID, li.ProductID, li.Quantity, li.UnitPrice)
	return err
}

func (t *tx) InsertInstallment(ctx context.Context, ins sales.Installment) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into installments(id, sale_id, seq, due_date, amount, paid, outstanding)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, ins.ID, ins.SaleID, ins.Seq, ins.DueDate, ins.Amount, ins.Paid, ins.Outstanding)
	return err
}

func (t *tx) InsertPayment(ctx context.Context, p sales.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into payments(id, sale_id, installment_id, paid_at, amount, idempotency_key)
		values ($1, $2, $3, $4, $5, nullif($6,''))
	`, p.ID, p.SaleID, p.InstallmentID, p.Date, p.Amount, p.IdempotencyKey)
	return err
}

func (t *tx) SaleForUpdate(ctx context.Context, id string) (sales.Sale, error) {
	sale, err := scanSale(t.tx.QueryRowContext(ctx,
		`select `+saleColumns+` from sales where id=$1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return sales.Sale{}, sales.ErrNotFound
	}
	return sale, err
}

func (t *tx) InstallmentsForSale(ctx context.Context, saleID string) ([]sales.Installment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select id, sale_id, seq, due_date, amount, paid, outstanding
		from installments where sale_id=$1 order by seq
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sales.Installment
	for rows.Next() {
		ins, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

func (t *tx) ApplyToInstallment(ctx context.Context, installmentID string, amount decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		update installments set paid = paid + $2, outstanding = outstanding - $2 where id=$1
	`, installmentID, amount)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *tx) UpdateSaleBalance(ctx context.Context, saleID string, balance decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx,
		`update sales set balance=$2 where id=$1`, saleID, balance)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *tx) PaymentsByIdempotencyKey(ctx context.Context, key string) ([]sales.Payment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select id, sale_id, installment_id, paid_at, amount, coalesce(idempotency_key,'')
		from payments where idempotency_key=$1 order by id
	`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sales.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- helpers ---

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sales.ErrNotFound
	}
	return nil
}
