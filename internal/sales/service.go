package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fiado.app/internal/ids"
)

// Service implements the ledger rules exactly once, against any Store
// dialect. All mutating operations run inside a single unit of work: they
// commit as a whole or leave no trace.
type Service struct {
	store Store
	now   nowFunc
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Store exposes the underlying store for read-only wiring (health probes).
func (s *Service) Store() Store { return s.store }

// --- Catalog ---

func (s *Service) CreateProduct(ctx context.Context, p Product) (Product, error) {
	if err := validateProduct(p); err != nil {
		return Product{}, err
	}
	p.ID = ids.New()
	p.CreatedAt = s.now().UTC()
	if p.ExpiresAt != nil {
		d := NormalizeDate(*p.ExpiresAt)
		p.ExpiresAt = &d
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return Product{}, err
	}
	return p, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	return s.store.GetProduct(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.store.ListProducts(ctx)
}

func (s *Service) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	if p.ID == "" {
		return Product{}, validationErr("id", "is required")
	}
	if err := validateProduct(p); err != nil {
		return Product{}, err
	}
	if p.ExpiresAt != nil {
		d := NormalizeDate(*p.ExpiresAt)
		p.ExpiresAt = &d
	}
	if err := s.store.UpdateProduct(ctx, p); err != nil {
		return Product{}, err
	}
	return s.store.GetProduct(ctx, p.ID)
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	return s.store.DeleteProduct(ctx, id)
}

func (s *Service) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	if c.FirstName == "" {
		return Customer{}, validationErr("first_name", "is required")
	}
	c.ID = ids.New()
	c.CreatedAt = s.now().UTC()
	if err := s.store.CreateCustomer(ctx, c); err != nil {
		return Customer{}, err
	}
	return c, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (Customer, error) {
	return s.store.GetCustomer(ctx, id)
}

func (s *Service) ListCustomers(ctx context.Context) ([]Customer, error) {
	return s.store.ListCustomers(ctx)
}

func (s *Service) UpdateCustomer(ctx context.Context, c Customer) (Customer, error) {
	if c.ID == "" {
		return Customer{}, validationErr("id", "is required")
	}
	if c.FirstName == "" {
		return Customer{}, validationErr("first_name", "is required")
	}
	if err := s.store.UpdateCustomer(ctx, c); err != nil {
		return Customer{}, err
	}
	return s.store.GetCustomer(ctx, c.ID)
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	return s.store.DeleteCustomer(ctx, id)
}

func validateProduct(p Product) error {
	if p.Name == "" {
		return validationErr("name", "is required")
	}
	if p.Cost.IsNegative() || p.Price.IsNegative() {
		return validationErr("cost/price", "must not be negative")
	}
	if p.Quantity < 0 {
		return validationErr("quantity", "must not be negative")
	}
	return nil
}

// --- Sale reads ---

func (s *Service) GetSale(ctx context.Context, id string) (SaleDetail, error) {
	return s.store.GetSale(ctx, id)
}

func (s *Service) ListSales(ctx context.Context, limit int, afterID string) ([]Sale, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.store.ListSales(ctx, limit, afterID)
}

// --- Sale creation ---

// CreateSale validates the request, opens a unit of work, reserves stock per
// line item, computes totals and either records the implicit full payment
// (cash) or persists the installment schedule and any down payment (credit).
// Any failure rolls the whole transaction back.
func (s *Service) CreateSale(ctx context.Context, input CreateSaleInput) (SaleDetail, error) {
	saleDate := input.Date
	if saleDate.IsZero() {
		saleDate = s.now()
	}
	saleDate = NormalizeDate(saleDate)

	if err := validateCreateSale(input); err != nil {
		return SaleDetail{}, err
	}

	rate := input.InterestRate
	if input.Mode == PaymentModeCash {
		rate = decimal.Zero
	}

	itemsTotal := decimal.Zero
	for _, it := range input.Items {
		itemsTotal = itemsTotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)))
	}

	total := Round2(itemsTotal)
	if input.Mode == PaymentModeCredit {
		total = Round2(itemsTotal.Add(Percent(itemsTotal, rate)))
	}

	downPayment := input.DownPayment
	if input.Mode == PaymentModeCredit {
		if downPayment.IsNegative() {
			return SaleDetail{}, validationErr("down_payment", "must not be negative")
		}
		if downPayment.GreaterThan(total) {
			return SaleDetail{}, validationErr("down_payment", "must not exceed the sale total")
		}
	}

	var specs []InstallmentSpec
	if input.Mode == PaymentModeCredit {
		financed := Round2(total.Sub(downPayment))
		var err error
		specs, err = resolveSchedule(input, financed)
		if err != nil {
			return SaleDetail{}, err
		}
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return SaleDetail{}, err
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := tx.CustomerExists(ctx, input.CustomerID)
	if err != nil {
		return SaleDetail{}, err
	}
	if !ok {
		return SaleDetail{}, fmt.Errorf("customer %s: %w", input.CustomerID, ErrNotFound)
	}

	sale := Sale{
		ID:           ids.New(),
		Date:         saleDate,
		CustomerID:   input.CustomerID,
		Mode:         input.Mode,
		InterestRate: rate,
		Total:        decimal.Zero,
		Balance:      decimal.Zero,
		CreatedAt:    s.now().UTC(),
	}
	if err := tx.InsertSale(ctx, sale); err != nil {
		return SaleDetail{}, err
	}

	items := make([]LineItem, 0, len(input.Items))
	for _, it := range input.Items {
		available, err := tx.ProductQuantityForUpdate(ctx, it.ProductID)
		if err != nil {
			return SaleDetail{}, fmt.Errorf("product %s: %w", it.ProductID, err)
		}
		if available < it.Quantity {
			return SaleDetail{}, &InsufficientStockError{
				ProductID: it.ProductID,
				Available: available,
				Requested: it.Quantity,
			}
		}
		li := LineItem{
			ID:        ids.New(),
			SaleID:    sale.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
		if err := tx.InsertLineItem(ctx, li); err != nil {
			return SaleDetail{}, err
		}
		if err := tx.DecrementProduct(ctx, it.ProductID, it.Quantity); err != nil {
			return SaleDetail{}, err
		}
		items = append(items, li)
	}

	var (
		installments []Installment
		payments     []Payment
		balance      = decimal.Zero
	)

	switch input.Mode {
	case PaymentModeCash:
		// Settled in full at creation. A zero-priced sale settles with no
		// payment row at all; payment rows carry strictly positive amounts.
		if total.IsPositive() {
			p := Payment{
				ID:     ids.New(),
				SaleID: sale.ID,
				Date:   saleDate,
				Amount: total,
			}
			if err := tx.InsertPayment(ctx, p); err != nil {
				return SaleDetail{}, err
			}
			payments = append(payments, p)
		}

	case PaymentModeCredit:
		balance = total
		installments = make([]Installment, 0, len(specs))
		for _, spec := range specs {
			ins := Installment{
				ID:          ids.New(),
				SaleID:      sale.ID,
				Seq:         spec.Seq,
				DueDate:     NormalizeDate(spec.DueDate),
				Amount:      spec.Amount,
				Paid:        decimal.Zero,
				Outstanding: spec.Amount,
			}
			if err := tx.InsertInstallment(ctx, ins); err != nil {
				return SaleDetail{}, err
			}
			installments = append(installments, ins)
		}
		if downPayment.IsPositive() {
			// The down payment settles the unfinanced slice of the total; the
			// schedule only ever covered the financed remainder, so it is
			// recorded like the cash auto-payment, against no installment.
			p := Payment{
				ID:     ids.New(),
				SaleID: sale.ID,
				Date:   saleDate,
				Amount: downPayment,
			}
			if err := tx.InsertPayment(ctx, p); err != nil {
				return SaleDetail{}, err
			}
			payments = append(payments, p)
			balance = Round2(total.Sub(downPayment))
			if balance.IsNegative() {
				balance = decimal.Zero
			}
		}
	}

	if err := tx.UpdateSaleTotals(ctx, sale.ID, total, balance); err != nil {
		return SaleDetail{}, err
	}
	if err := tx.Commit(); err != nil {
		return SaleDetail{}, err
	}

	sale.Total = total
	sale.Balance = balance
	return SaleDetail{
		Sale:         sale,
		Items:        items,
		Installments: installments,
		Payments:     payments,
	}, nil
}

func validateCreateSale(input CreateSaleInput) error {
	if input.CustomerID == "" {
		return validationErr("customer_id", "is required")
	}
	if !input.Mode.Valid() {
		return ErrInvalidPaymentMode
	}
	if len(input.Items) == 0 {
		return validationErr("items", "must not be empty")
	}
	for i, it := range input.Items {
		if it.ProductID == "" {
			return validationErr(fmt.Sprintf("items[%d].product_id", i), "is required")
		}
		if it.Quantity <= 0 {
			return validationErr(fmt.Sprintf("items[%d].quantity", i), "must be > 0")
		}
		if it.UnitPrice.IsNegative() {
			return validationErr(fmt.Sprintf("items[%d].unit_price", i), "must not be negative")
		}
	}
	if input.InterestRate.IsNegative() {
		return validationErr("interest_rate", "must not be negative")
	}
	if input.Mode == PaymentModeCash {
		if !input.DownPayment.IsZero() {
			return validationErr("down_payment", "not applicable to cash sales")
		}
		return nil
	}
	if len(input.Installments) == 0 && input.InstallmentCount <= 0 {
		return ErrMissingInstallments
	}
	if input.InstallmentCount > maxInstallmentCount {
		return validationErr("installment_count", "too large")
	}
	return nil
}

const maxInstallmentCount = 120

// resolveSchedule returns the installment specs to persist: the caller's
// schedule after validation, or a generated one.
func resolveSchedule(input CreateSaleInput, financed decimal.Decimal) ([]InstallmentSpec, error) {
	if len(input.Installments) == 0 {
		if input.FirstDueDate.IsZero() {
			return nil, validationErr("first_due_date", "is required to generate a schedule")
		}
		return GenerateSchedule(financed, input.InstallmentCount, input.FirstDueDate), nil
	}

	seen := make(map[int]bool, len(input.Installments))
	sum := decimal.Zero
	for i, spec := range input.Installments {
		if spec.Seq <= 0 {
			return nil, validationErr(fmt.Sprintf("installments[%d].seq", i), "must be > 0")
		}
		if seen[spec.Seq] {
			return nil, validationErr(fmt.Sprintf("installments[%d].seq", i), "is duplicated")
		}
		seen[spec.Seq] = true
		if spec.Amount.IsNegative() {
			return nil, validationErr(fmt.Sprintf("installments[%d].amount", i), "must not be negative")
		}
		if spec.DueDate.IsZero() {
			return nil, validationErr(fmt.Sprintf("installments[%d].due_date", i), "is required")
		}
		sum = sum.Add(spec.Amount)
	}
	// Exact match only. Even a one-cent gap leaves a balance that the
	// installments can never account for.
	if !sum.Equal(financed) {
		return nil, fmt.Errorf("schedule sums to %s, financed amount is %s: %w",
			sum.StringFixed(2), financed.StringFixed(2), ErrScheduleMismatch)
	}
	return input.Installments, nil
}

// --- Payment application ---

// ApplyPayment distributes an amount across a credit sale's outstanding
// installments, oldest sequence first, inside a single unit of work.
// With an idempotency key, a replay returns the recorded result untouched.
func (s *Service) ApplyPayment(ctx context.Context, input PaymentInput) (PaymentResult, error) {
	if input.SaleID == "" {
		return PaymentResult{}, validationErr("sale_id", "is required")
	}
	if !input.Amount.IsPositive() {
		return PaymentResult{}, validationErr("amount", "must be > 0")
	}
	payDate := input.Date
	if payDate.IsZero() {
		payDate = s.now()
	}
	payDate = NormalizeDate(payDate)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return PaymentResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if input.IdempotencyKey != "" {
		recorded, err := tx.PaymentsByIdempotencyKey(ctx, input.IdempotencyKey)
		if err != nil {
			return PaymentResult{}, err
		}
		if len(recorded) > 0 {
			if recorded[0].SaleID != input.SaleID {
				return PaymentResult{}, validationErr("idempotency_key", "was already used for a different sale")
			}
			return s.replayResult(ctx, tx, recorded)
		}
	}

	sale, err := tx.SaleForUpdate(ctx, input.SaleID)
	if err != nil {
		return PaymentResult{}, err
	}
	if sale.Mode != PaymentModeCredit {
		return PaymentResult{}, ErrNotPayable
	}
	if input.Amount.GreaterThan(sale.Balance) {
		return PaymentResult{}, fmt.Errorf("amount %s, balance %s: %w",
			input.Amount.StringFixed(2), sale.Balance.StringFixed(2), ErrExceedsBalance)
	}

	installments, err := tx.InstallmentsForSale(ctx, sale.ID)
	if err != nil {
		return PaymentResult{}, err
	}

	allocations, err := s.allocate(tx, ctx, sale.ID, installments, input.Amount, payDate, input.IdempotencyKey)
	if err != nil {
		return PaymentResult{}, err
	}

	newBalance := Round2(sale.Balance.Sub(input.Amount))
	if newBalance.IsNegative() {
		newBalance = decimal.Zero
	}
	if err := tx.UpdateSaleBalance(ctx, sale.ID, newBalance); err != nil {
		return PaymentResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return PaymentResult{}, err
	}

	return PaymentResult{
		SaleID:      sale.ID,
		Allocations: allocations,
		NewBalance:  newBalance,
	}, nil
}

// allocate walks installments in sequence order and applies amount against
// each outstanding balance until it is used up, appending one payment row per
// touched installment. The installments slice is updated in place.
func (s *Service) allocate(tx Tx, ctx context.Context, saleID string, installments []Installment, amount decimal.Decimal, date time.Time, idemKey string) ([]Allocation, error) {
	remaining := amount
	var allocations []Allocation
	for i := range installments {
		if !remaining.IsPositive() {
			break
		}
		ins := &installments[i]
		if !ins.Outstanding.IsPositive() {
			continue
		}
		applied := minDecimal(ins.Outstanding, remaining)
		installmentID := ins.ID
		p := Payment{
			ID:             ids.New(),
			SaleID:         saleID,
			InstallmentID:  &installmentID,
			Date:           date,
			Amount:         applied,
			IdempotencyKey: idemKey,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return nil, err
		}
		if err := tx.ApplyToInstallment(ctx, ins.ID, applied); err != nil {
			return nil, err
		}
		ins.Paid = ins.Paid.Add(applied)
		ins.Outstanding = ins.Outstanding.Sub(applied)
		allocations = append(allocations, Allocation{
			InstallmentID: ins.ID,
			Seq:           ins.Seq,
			Amount:        applied,
		})
		remaining = remaining.Sub(applied)
	}
	return allocations, nil
}

// replayResult rebuilds the original ApplyPayment response from the recorded
// payment batch without touching any balance.
func (s *Service) replayResult(ctx context.Context, tx Tx, recorded []Payment) (PaymentResult, error) {
	saleID := recorded[0].SaleID
	sale, err := tx.SaleForUpdate(ctx, saleID)
	if err != nil {
		return PaymentResult{}, err
	}
	installments, err := tx.InstallmentsForSale(ctx, saleID)
	if err != nil {
		return PaymentResult{}, err
	}
	seqByID := make(map[string]int, len(installments))
	for _, ins := range installments {
		seqByID[ins.ID] = ins.Seq
	}
	allocations := make([]Allocation, 0, len(recorded))
	for _, p := range recorded {
		if p.InstallmentID == nil {
			continue
		}
		allocations = append(allocations, Allocation{
			InstallmentID: *p.InstallmentID,
			Seq:           seqByID[*p.InstallmentID],
			Amount:        p.Amount,
		})
	}
	return PaymentResult{
		SaleID:      saleID,
		Allocations: allocations,
		NewBalance:  sale.Balance,
		Replayed:    true,
	}, nil
}
