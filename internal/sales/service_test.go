package sales_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fiado.app/internal/sales"
	"fiado.app/internal/store/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func newService(t *testing.T) *sales.Service {
	t.Helper()
	return sales.NewService(memory.New())
}

func seedProduct(t *testing.T, svc *sales.Service, name, price string, qty int64) sales.Product {
	t.Helper()
	p, err := svc.CreateProduct(context.Background(), sales.Product{
		Name:     name,
		Cost:     dec("0"),
		Price:    dec(price),
		Quantity: qty,
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func seedCustomer(t *testing.T, svc *sales.Service) sales.Customer {
	t.Helper()
	c, err := svc.CreateCustomer(context.Background(), sales.Customer{FirstName: "Ana", LastName: "Paredes"})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCashSaleSettlesImmediately(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, "yerba 1kg", "120", 5)
	c := seedCustomer(t, svc)

	detail, err := svc.CreateSale(ctx, sales.CreateSaleInput{
		CustomerID: c.ID,
		Mode:       sales.PaymentModeCash,
		Items:      []sales.LineItemInput{{ProductID: p.ID, Quantity: 3, UnitPrice: dec("120")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !detail.Total.Equal(dec("360")) || !detail.Balance.IsZero() {
		t.Fatalf("total=%s balance=%s", detail.Total, detail.Balance)
	}
	if len(detail.Installments) != 0 {
		t.Fatalf("cash sale grew %d installments", len(detail.Installments))
	}
	if len(detail.Payments) != 1 {
		t.Fatalf("expected the implicit payment, got %d payments", len(detail.Payments))
	}
	if pay := detail.Payments[0]; pay.InstallmentID != nil || !pay.Amount.Equal(dec("360")) {
		t.Fatalf("unexpected implicit payment %+v", pay)
	}

	got, err := svc.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Quantity != 2 {
		t.Fatalf("stock after sale = %d, want 2", got.Quantity)
	}
}

func TestCashSaleForcesZeroInterest(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, "azucar", "50", 10)
	c := seedCustomer(t, svc)

	detail, err := svc.CreateSale(ctx, sales.CreateSaleInput{
		CustomerID:   c.ID,
		Mode:         sales.PaymentModeCash,
		InterestRate: dec("10"),
		Items:        []sales.LineItemInput{{ProductID: p.ID, Quantity: 2, UnitPrice: dec("50")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !detail.InterestRate.IsZero() || !detail.Total.Equal(dec("100")) {
		t.Fatalf("rate=%s total=%s", detail.InterestRate, detail.Total)
	}
}

func TestCashSaleWithZeroTotalRecordsNoPayment(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, "muestra gratis", "0", 5)
	c := seedCustomer(t, svc)

	detail, err := svc.CreateSale(ctx, sales.CreateSaleInput{
		CustomerID: c.ID,
		Mode:       sales.PaymentModeCash,
		Items:      []sales.LineItemInput{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("0")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !detail.Total.IsZero() || !detail.Balance.IsZero() {
		t.Fatalf("total=%s balance=%s", detail.Total, detail.Balance)
	}
	// every payment row carries a positive amount, so a zero sale gets none
	if len(detail.Payments) != 0 {
		t.Fatalf("zero-total sale recorded %d payments", len(detail.Payments))
	}

	got, err := svc.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Quantity != 4 {
		t.Fatalf("stock after sale = %d, want 4", got.Quantity)
	}
}

func TestCreditSaleGeneratesSchedule(t *testing.T) {
	svc := newService(t)
	detail := createCreditSale(t, svc)

	if !detail.Total.Equal(dec("1100")) || !detail.Balance.Equal(dec("1100")) {
		t.Fatalf("total=%s balance=%s", detail.Total, detail.Balance)
	}
	want := []string{"366.67", "366.67", "366.66"}
	if len(detail.Installments) != len(want) {
		t.Fatalf("got %d installments", len(detail.Installments))
	}
	for i, ins := range detail.Installments {
		if ins.Seq != i+1 {
			t.Fatalf("installment %d has seq %d", i, ins.Seq)
		}
		if !ins.Amount.Equal(dec(want[i])) || !ins.Outstanding.Equal(dec(want[i])) || !ins.Paid.IsZero() {
			t.Fatalf("installment %d: amount=%s paid=%s outstanding=%s", ins.Seq, ins.Amount, ins.Paid, ins.Outstanding)
		}
		if !ins.DueDate.Equal(day(2024, time.January+time.Month(i), 1)) {
			t.Fatalf("installment %d due %s", ins.Seq, ins.DueDate)
		}
	}
	if len(detail.Payments) != 0 {
		t.Fatalf("credit sale without down payment recorded %d payments", len(detail.Payments))
	}
}

// createCreditSale seeds a 1000 items-total sale at 10% interest over three
// monthly installments starting 2024-01-01: total 1100, schedule
// 366.67 / 366.67 / 366.66.
func createCreditSale(t *testing.T, svc *sales.Service) sales.SaleDetail {
	t.Helper()
	ctx := context.Background()
	p := seedProduct(t, svc, "heladera", "500", 10)
	c := seedCustomer(t, svc)
	detail, err := svc.CreateSale(ctx, sales.CreateSaleInput{
		Date:             day(2023, time.December, 1),
		CustomerID:       c.ID,
		Mode:             sales.PaymentModeCredit,
		InterestRate:     dec("10"),
		Items:            []sales.LineItemInput{{ProductID: p.ID, Quantity: 2, UnitPrice: dec("500")}},
		InstallmentCount: 3,
		FirstDueDate:     day(2024, time.January, 1),
	})
	if err != nil {
		t.Fatal(err)
	}
	return detail
}

func TestCreditSaleRequiresSchedule(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, "ventilador", "200", 3)
	c := seedCustomer(t, svc)

	_, err := svc.CreateSale(ctx, sales.CreateSaleInput{
		CustomerID: c.ID,
		Mode:       sales.PaymentModeCredit,
		Items:      []sales.LineItemInput{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("200")}},
	})
	if !errors.Is(err, sales.ErrMissingInstallments) {
		t.Fatalf("expected ErrMissingInstallments, got %v", err)
	}
}

func TestInsufficientStockRollsBackEverything(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	a := seedProduct(t, svc, "arroz", "30", 5)
	b := seedProduct(t, svc, "fideos", "20", 4)
	c := seedCustomer(t, svc)

	_, err := svc.CreateSale(ctx, sales.CreateSaleInput{
		CustomerID: c.ID,
		Mode:       sales.PaymentModeCash,
		Items: []sales.LineItemInput{
			{ProductID: a.ID, Quantity: 2, UnitPrice: dec("30")},
			{ProductID: b.ID, Quantity: 10, UnitPrice: dec("20")},
		},
	})
	var stockErr *sales.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.ProductID != b.ID || stockErr.Available != 4 || stockErr.Requested != 10 {
		t.Fatalf("unexpected error detail %+v", stockErr)
	}

	for _, p := range []sales.Product{a, b} {
		got, err := svc.GetProduct(ctx, p.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Quantity != p.Quantity {
			t.Fatalf("product %s stock changed: %d -> %d", p.Name, p.Quantity, got.Quantity)
		}
	}
	list, err := svc.ListSales(ctx, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("aborted sale was persisted: %d rows", len(list))
	}
}

func TestCreateSaleUnknownCustomer(t *testing.T) {
	svc := newService(t)
	p := seedProduct(t, svc, "pan", "10", 5)

	_, err := svc.CreateSale(context.Background(), sales.CreateSaleInput{
		CustomerID: "no-such-customer",
		Mode:       sales.PaymentModeCash,
		Items:      []sales.LineItemInput{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("10")}},
	})
	if !errors.Is(err, sales.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyPaymentAllocatesOldestFirst(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	detail := createCreditSale(t, svc)

	res, err := svc.ApplyPayment(ctx, sales.PaymentInput{
		SaleID: detail.ID,
		Amount: dec("500"),
		Date:   day(2024, time.January, 15),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.NewBalance.Equal(dec("600")) {
		t.Fatalf("new balance = %s, want 600", res.NewBalance)
	}
	if len(res.Allocations) != 2 {
		t.Fatalf("got %d allocations", len(res.Allocations))
	}
	if res.Allocations[0].Seq != 1 || !res.Allocations[0].Amount.Equal(dec("366.67")) {
		t.Fatalf("first allocation %+v", res.Allocations[0])
	}
	if res.Allocations[1].Seq != 2 || !res.Allocations[1].Amount.Equal(dec("133.33")) {
		t.Fatalf("second allocation %+v", res.Allocations[1])
	}

	after, err := svc.GetSale(ctx, detail.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !after.Balance.Equal(dec("600")) {
		t.Fatalf("stored balance = %s", after.Balance)
	}
	first, second := after.Installments[0], after.Installments[1]
	if !first.Outstanding.IsZero() || !first.Paid.Equal(dec("366.67")) {
		t.Fatalf("installment 1: paid=%s outstanding=%s", first.Paid, first.Outstanding)
	}
	if !second.Outstanding.Equal(dec("233.34")) || !second.Paid.Equal(dec("133.33")) {
		t.Fatalf("installment 2: paid=%s outstanding=%s", second.Paid, second.Outstanding)
	}
	if len(after.Payments) != 2 {
		t.Fatalf("expected 2 payment rows, got %d", len(after.Payments))
	}
}

func TestApplyPaymentFullPayoffConserves(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	detail := createCreditSale(t, svc)

	if _, err := svc.ApplyPayment(ctx, sales.PaymentInput{SaleID: detail.ID, Amount: dec("500")}); err != nil {
		t.Fatal(err)
	}
	res, err := svc.ApplyPayment(ctx, sales.PaymentInput{SaleID: detail.ID, Amount: dec("600")})
	if err != nil {
		t.Fatal(err)
	}
	if !res.NewBalance.IsZero() {
		t.Fatalf("balance after payoff = %s", res.NewBalance)
	}

	after, err := svc.GetSale(ctx, detail.ID)
	if err != nil {
		t.Fatal(err)
	}
	paid := decimal.Zero
	for _, p := range after.Payments {
		paid = paid.Add(p.Amount)
	}
	if !paid.Equal(after.Total) {
		t.Fatalf("payments sum to %s, total is %s", paid, after.Total)
	}
	for _, ins := range after.Installments {
		if !ins.Outstanding.IsZero() {
			t.Fatalf("installment %d still outstanding %s", ins.Seq, ins.Outstanding)
		}
		if !ins.Paid.Equal(ins.Amount) {
			t.Fatalf("installment %d paid %s of %s", ins.Seq, ins.Paid, ins.Amount)
		}
	}
}

func TestApplyPaymentRejections(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, "aceite", "80", 10)
	c := seedCustomer(t, svc)

	cash, err := svc.CreateSale(ctx, sales.CreateSaleInput{
		CustomerID: c.ID,
		Mode:       sales.PaymentModeCash,
		Items:      []sales.LineItemInput{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("80")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ApplyPayment(ctx, sales.PaymentInput{SaleID: cash.ID, Amount: dec("10")}); !errors.Is(err, sales.ErrNotPayable) {
		t.Fatalf("cash sale: expected ErrNotPayable, got %v", err)
	}

	credit := createCreditSale(t, svc)
	if _, err := svc.ApplyPayment(ctx, sales.PaymentInput{SaleID: credit.ID, Amount: dec("1100.01")}); !errors.Is(err, sales.ErrExceedsBalance) {
		t.Fatalf("expected ErrExceedsBalance, got %v", err)
	}

	var ve *sales.ValidationError
	if _, err := svc.ApplyPayment(ctx, sales.PaymentInput{SaleID: credit.ID, Amount: dec("0")}); !errors.As(err, &ve) {
		t.Fatalf("zero amount: expected validation error, got %v", err)
	}

	if _, err := svc.ApplyPayment(ctx, sales.PaymentInput{SaleID: "missing", Amount: dec("10")}); !errors.Is(err, sales.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyPaymentIdempotentReplay(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	detail := createCreditSale(t, svc)

	first, err := svc.ApplyPayment(ctx, sales.PaymentInput{SaleID: detail.ID, Amount: dec("500"), IdempotencyKey: "pay-1"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.ApplyPayment(ctx, sales.PaymentInput{SaleID: detail.ID, Amount: dec("500"), IdempotencyKey: "pay-1"})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Replayed {
		t.Fatal("replay not flagged")
	}
	if !second.NewBalance.Equal(first.NewBalance) {
		t.Fatalf("replay balance %s, original %s", second.NewBalance, first.NewBalance)
	}
	if len(second.Allocations) != len(first.Allocations) {
		t.Fatalf("replay returned %d allocations, original %d", len(second.Allocations), len(first.Allocations))
	}

	after, err := svc.GetSale(ctx, detail.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !after.Balance.Equal(dec("600")) {
		t.Fatalf("balance moved on replay: %s", after.Balance)
	}
	if len(after.Payments) != 2 {
		t.Fatalf("replay wrote payment rows: %d", len(after.Payments))
	}
}

func TestIdempotencyKeyScopedToSale(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	first := createCreditSale(t, svc)
	second := createCreditSale(t, svc)

	if _, err := svc.ApplyPayment(ctx, sales.PaymentInput{SaleID: first.ID, Amount: dec("100"), IdempotencyKey: "pay-1"}); err != nil {
		t.Fatal(err)
	}

	// reusing the key against another sale must not replay the first result
	var ve *sales.ValidationError
	if _, err := svc.ApplyPayment(ctx, sales.PaymentInput{SaleID: second.ID, Amount: dec("100"), IdempotencyKey: "pay-1"}); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}

	after, err := svc.GetSale(ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !after.Balance.Equal(dec("1100")) {
		t.Fatalf("second sale balance moved: %s", after.Balance)
	}
}

func TestSuppliedScheduleMismatchRejected(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, "cocina", "1000", 2)
	c := seedCustomer(t, svc)

	_, err := svc.CreateSale(ctx, sales.CreateSaleInput{
		CustomerID:   c.ID,
		Mode:         sales.PaymentModeCredit,
		InterestRate: dec("10"),
		Items:        []sales.LineItemInput{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("1000")}},
		Installments: []sales.InstallmentSpec{
			{Seq: 1, DueDate: day(2024, time.January, 1), Amount: dec("500")},
			{Seq: 2, DueDate: day(2024, time.February, 1), Amount: dec("500")},
		},
	})
	if !errors.Is(err, sales.ErrScheduleMismatch) {
		t.Fatalf("expected ErrScheduleMismatch, got %v", err)
	}

	got, err := svc.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Quantity != 2 {
		t.Fatalf("stock changed on rejected sale: %d", got.Quantity)
	}
}

func TestSuppliedScheduleExactSumAccepted(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, "lavarropas", "1000", 2)
	c := seedCustomer(t, svc)

	detail, err := svc.CreateSale(ctx, sales.CreateSaleInput{
		CustomerID:   c.ID,
		Mode:         sales.PaymentModeCredit,
		InterestRate: dec("10"),
		Items:        []sales.LineItemInput{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("1000")}},
		Installments: []sales.InstallmentSpec{
			{Seq: 1, DueDate: day(2024, time.January, 1), Amount: dec("550")},
			{Seq: 2, DueDate: day(2024, time.February, 1), Amount: dec("550")},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Installments) != 2 || !detail.Balance.Equal(dec("1100")) {
		t.Fatalf("installments=%d balance=%s", len(detail.Installments), detail.Balance)
	}
}

func TestSuppliedScheduleOneCentShortRejected(t *testing.T) {
	svc := newService(t)
	p := seedProduct(t, svc, "secarropas", "1000", 2)
	c := seedCustomer(t, svc)

	// A schedule one cent short would leave a sliver of balance no
	// installment can absorb, so a full payoff could never allocate it.
	_, err := svc.CreateSale(context.Background(), sales.CreateSaleInput{
		CustomerID:   c.ID,
		Mode:         sales.PaymentModeCredit,
		InterestRate: dec("10"),
		Items:        []sales.LineItemInput{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("1000")}},
		Installments: []sales.InstallmentSpec{
			{Seq: 1, DueDate: day(2024, time.January, 1), Amount: dec("550")},
			{Seq: 2, DueDate: day(2024, time.February, 1), Amount: dec("549.99")},
		},
	})
	if !errors.Is(err, sales.ErrScheduleMismatch) {
		t.Fatalf("expected ErrScheduleMismatch, got %v", err)
	}
}

func TestDownPaymentReducesOpeningBalance(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, "televisor", "1000", 2)
	c := seedCustomer(t, svc)

	detail, err := svc.CreateSale(ctx, sales.CreateSaleInput{
		CustomerID:       c.ID,
		Mode:             sales.PaymentModeCredit,
		InterestRate:     dec("10"),
		Items:            []sales.LineItemInput{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("1000")}},
		InstallmentCount: 3,
		FirstDueDate:     day(2024, time.January, 1),
		DownPayment:      dec("200"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !detail.Balance.Equal(dec("900")) {
		t.Fatalf("opening balance = %s, want 900", detail.Balance)
	}
	outstanding := decimal.Zero
	for _, ins := range detail.Installments {
		if !ins.Amount.Equal(dec("300")) {
			t.Fatalf("installment %d amount %s, want 300", ins.Seq, ins.Amount)
		}
		outstanding = outstanding.Add(ins.Outstanding)
	}
	if !outstanding.Equal(detail.Balance) {
		t.Fatalf("outstanding sum %s, balance %s", outstanding, detail.Balance)
	}
	if len(detail.Payments) != 1 {
		t.Fatalf("expected the down payment row, got %d", len(detail.Payments))
	}
	if pay := detail.Payments[0]; pay.InstallmentID != nil || !pay.Amount.Equal(dec("200")) {
		t.Fatalf("unexpected down payment %+v", pay)
	}
}

func TestDownPaymentOnCashSaleRejected(t *testing.T) {
	svc := newService(t)
	p := seedProduct(t, svc, "silla", "90", 4)
	c := seedCustomer(t, svc)

	var ve *sales.ValidationError
	_, err := svc.CreateSale(context.Background(), sales.CreateSaleInput{
		CustomerID:  c.ID,
		Mode:        sales.PaymentModeCash,
		Items:       []sales.LineItemInput{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("90")}},
		DownPayment: dec("50"),
	})
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteReferencedRecordsRejected(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, "mesa", "150", 3)
	c := seedCustomer(t, svc)

	if _, err := svc.CreateSale(ctx, sales.CreateSaleInput{
		CustomerID: c.ID,
		Mode:       sales.PaymentModeCash,
		Items:      []sales.LineItemInput{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("150")}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteProduct(ctx, p.ID); !errors.Is(err, sales.ErrInUse) {
		t.Fatalf("product delete: expected ErrInUse, got %v", err)
	}
	if err := svc.DeleteCustomer(ctx, c.ID); !errors.Is(err, sales.ErrInUse) {
		t.Fatalf("customer delete: expected ErrInUse, got %v", err)
	}

	free := seedProduct(t, svc, "banco", "60", 1)
	if err := svc.DeleteProduct(ctx, free.ID); err != nil {
		t.Fatal(err)
	}
}

func TestListSalesPaginates(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, "jabon", "15", 100)
	c := seedCustomer(t, svc)

	for i := 0; i < 3; i++ {
		if _, err := svc.CreateSale(ctx, sales.CreateSaleInput{
			CustomerID: c.ID,
			Mode:       sales.PaymentModeCash,
			Items:      []sales.LineItemInput{{ProductID: p.ID, Quantity: 1, UnitPrice: dec("15")}},
		}); err != nil {
			t.Fatal(err)
		}
	}

	first, err := svc.ListSales(ctx, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 {
		t.Fatalf("page 1 has %d sales", len(first))
	}
	rest, err := svc.ListSales(ctx, 2, first[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 {
		t.Fatalf("page 2 has %d sales", len(rest))
	}
	if rest[0].ID <= first[1].ID {
		t.Fatalf("pagination order broken: %s after %s", rest[0].ID, first[1].ID)
	}
}
