// Command smoke exercises a running fiado API end to end: catalog setup, a
// cash sale, a credit sale with schedule, a payment with an idempotent retry.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fiado.app/internal/sales/remote"
)

func main() {
	base := os.Getenv("FIADO_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := remote.New(base)
	if err := c.Healthz(ctx); err != nil {
		log.Fatalf("api at %s not healthy: %v", base, err)
	}

	product, err := c.CreateProduct(ctx, map[string]any{
		"name": "smoke product", "cost": "80", "price": "120", "quantity": 10,
	})
	if err != nil {
		log.Fatalf("create product: %v", err)
	}
	customer, err := c.CreateCustomer(ctx, map[string]any{"first_name": "Smoke", "last_name": "Test"})
	if err != nil {
		log.Fatalf("create customer: %v", err)
	}

	cash, err := c.CreateSale(ctx, map[string]any{
		"customer_id": customer.ID,
		"mode":        "cash",
		"items":       []map[string]any{{"product_id": product.ID, "quantity": 3, "unit_price": "120"}},
	})
	if err != nil {
		log.Fatalf("cash sale: %v", err)
	}
	if !cash.Total.Equal(decimal.RequireFromString("360")) || !cash.Balance.IsZero() {
		log.Fatalf("cash sale totals wrong: total=%s balance=%s", cash.Total, cash.Balance)
	}

	credit, err := c.CreateSale(ctx, map[string]any{
		"customer_id":       customer.ID,
		"mode":              "credit",
		"interest_rate":     "10",
		"items":             []map[string]any{{"product_id": product.ID, "quantity": 5, "unit_price": "200"}},
		"installment_count": 3,
		"first_due_date":    time.Now().AddDate(0, 1, 0).Format("2006-01-02"),
	})
	if err != nil {
		log.Fatalf("credit sale: %v", err)
	}
	if !credit.Total.Equal(decimal.RequireFromString("1100")) {
		log.Fatalf("credit total = %s, want 1100", credit.Total)
	}
	if len(credit.Installments) != 3 {
		log.Fatalf("expected 3 installments, got %d", len(credit.Installments))
	}

	key := uuid.NewString()
	payment, err := c.ApplyPayment(ctx, credit.ID, map[string]any{"amount": "500"}, key)
	if err != nil {
		log.Fatalf("payment: %v", err)
	}
	replay, err := c.ApplyPayment(ctx, credit.ID, map[string]any{"amount": "500"}, key)
	if err != nil {
		log.Fatalf("payment retry: %v", err)
	}
	if !replay.Replayed || !replay.NewBalance.Equal(payment.NewBalance) {
		log.Fatalf("idempotent retry diverged: first=%s retry=%s replayed=%v",
			payment.NewBalance, replay.NewBalance, replay.Replayed)
	}

	detail, err := c.GetSale(ctx, credit.ID)
	if err != nil {
		log.Fatalf("sale detail: %v", err)
	}
	outstanding := decimal.Zero
	for _, ins := range detail.Installments {
		outstanding = outstanding.Add(ins.Outstanding)
	}
	if !outstanding.Equal(detail.Balance) {
		log.Fatalf("conservation failed: outstanding=%s balance=%s", outstanding, detail.Balance)
	}

	stock, err := c.GetProduct(ctx, product.ID)
	if err != nil {
		log.Fatalf("product: %v", err)
	}
	if stock.Quantity != 2 {
		log.Fatalf("stock after sales = %d, want 2", stock.Quantity)
	}

	fmt.Printf("smoke test passed: cash=%s credit=%s balance=%s\n",
		cash.ID, credit.ID, detail.Balance.StringFixed(2))
}
