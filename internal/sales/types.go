package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMode distinguishes sales settled at the counter from financed ones.
type PaymentMode string

const (
	PaymentModeCash   PaymentMode = "cash"
	PaymentModeCredit PaymentMode = "credit"
)

// Valid reports whether the mode is one of the known payment modes.
func (m PaymentMode) Valid() bool {
	return m == PaymentModeCash || m == PaymentModeCredit
}

// Product is a catalog entry. Quantity is on-hand stock; it is mutated only
// by sale creation and never goes negative.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Detail    string          `json:"detail,omitempty"`
	Brand     string          `json:"brand,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Cost      decimal.Decimal `json:"cost"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
}

// Customer is referenced by sales; it carries no ledger behavior.
type Customer struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	City      string    `json:"city,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sale is the ledger header. Created once, atomically, with its line items
// and (for credit) installments. Only Balance and the installments' paid and
// outstanding amounts change afterwards.
type Sale struct {
	ID           string          `json:"id"`
	Date         time.Time       `json:"date"`
	CustomerID   string          `json:"customer_id"`
	Mode         PaymentMode     `json:"mode"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	Total        decimal.Decimal `json:"total"`
	Balance      decimal.Decimal `json:"balance"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LineItem captures quantity and unit price at sale time, decoupled from the
// product's current price. Immutable after creation.
type LineItem struct {
	ID        string          `json:"id"`
	SaleID    string          `json:"sale_id"`
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal is quantity times the captured unit price.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(li.Quantity))
}

// Installment is one scheduled obligation of a credit sale.
// Invariant: Paid + Outstanding == Amount at all times.
type Installment struct {
	ID          string          `json:"id"`
	SaleID      string          `json:"sale_id"`
	Seq         int             `json:"seq"`
	DueDate     time.Time       `json:"due_date"`
	Amount      decimal.Decimal `json:"amount"`
	Paid        decimal.Decimal `json:"paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// Payment is an append-only ledger fact. InstallmentID is nil for payments
// not tied to a scheduled installment: the implicit full payment of a cash
// sale and the down payment of a credit sale.
type Payment struct {
	ID             string          `json:"id"`
	SaleID         string          `json:"sale_id"`
	InstallmentID  *string         `json:"installment_id,omitempty"`
	Date           time.Time       `json:"date"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// SaleDetail is the read-back aggregate: header plus everything it owns.
type SaleDetail struct {
	Sale
	Items        []LineItem    `json:"items"`
	Installments []Installment `json:"installments"`
	Payments     []Payment     `json:"payments"`
}

// LineItemInput is one requested sale line.
type LineItemInput struct {
	ProductID string
	Quantity  int64
	UnitPrice decimal.Decimal
}

// InstallmentSpec is a scheduled installment as supplied by the caller or
// produced by GenerateSchedule.
type InstallmentSpec struct {
	Seq     int
	DueDate time.Time
	Amount  decimal.Decimal
}

// CreateSaleInput carries everything needed to create a sale atomically.
// For credit sales either Installments is supplied verbatim, or
// InstallmentCount and FirstDueDate ask the service to generate the schedule.
type CreateSaleInput struct {
	Date             time.Time
	CustomerID       string
	Mode             PaymentMode
	InterestRate     decimal.Decimal
	Items            []LineItemInput
	Installments     []InstallmentSpec
	InstallmentCount int
	FirstDueDate     time.Time
	DownPayment      decimal.Decimal
}

// PaymentInput requests application of an amount against a credit sale.
// IdempotencyKey is optional; when set, a replay returns the recorded result.
type PaymentInput struct {
	SaleID         string
	Amount         decimal.Decimal
	Date           time.Time
	IdempotencyKey string
}

// Allocation records how much of a payment landed on one installment.
type Allocation struct {
	InstallmentID string          `json:"installment_id"`
	Seq           int             `json:"seq"`
	Amount        decimal.Decimal `json:"amount"`
}

// PaymentResult is the outcome of ApplyPayment.
type PaymentResult struct {
	SaleID      string          `json:"sale_id"`
	Allocations []Allocation    `json:"allocations"`
	NewBalance  decimal.Decimal `json:"new_balance"`
	Replayed    bool            `json:"replayed,omitempty"`
}
