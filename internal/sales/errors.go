package sales

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrNotPayable          = errors.New("sale was settled at creation and does not accept payments")
	ErrExceedsBalance      = errors.New("payment amount exceeds outstanding balance")
	ErrInvalidPaymentMode  = errors.New("invalid payment mode")
	ErrMissingInstallments = errors.New("credit sale requires an installment schedule")
	ErrScheduleMismatch    = errors.New("installment amounts do not sum to the financed amount")
	ErrInUse               = errors.New("record is referenced by existing sales")
)

// ValidationError reports malformed input, rejected before any transaction
// side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientStockError aborts the whole sale-creation transaction; no
// partial stock decrement survives it.
type InsufficientStockError struct {
	ProductID string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (available %d, requested %d)",
		e.ProductID, e.Available, e.Requested)
}
