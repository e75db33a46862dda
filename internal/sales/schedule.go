package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// GenerateSchedule splits a financed amount into count monthly installments.
// Every installment carries the rounded base amount except the last, which
// absorbs the rounding remainder so the schedule sums to the financed amount
// to the cent. Installment 1 is due at firstDue; installment k at
// firstDue + (k-1) months.
func GenerateSchedule(financed decimal.Decimal, count int, firstDue time.Time) []InstallmentSpec {
	if count < 1 {
		count = 1
	}
	financed = Round2(financed)
	n := decimal.NewFromInt(int64(count))
	base := Round2(financed.Div(n))
	// Rounding the base up can overshoot small amounts spread over many
	// installments, pushing the final one negative. Truncate instead so the
	// remainder stays non-negative; the last installment still absorbs it.
	if base.Mul(n.Sub(decimal.NewFromInt(1))).GreaterThan(financed) {
		base = financed.Div(n).Truncate(2)
	}
	last := Round2(financed.Sub(base.Mul(n.Sub(decimal.NewFromInt(1)))))

	specs := make([]InstallmentSpec, count)
	for i := range specs {
		amount := base
		if i == count-1 {
			amount = last
		}
		specs[i] = InstallmentSpec{
			Seq:     i + 1,
			DueDate: AddMonths(firstDue, i),
			Amount:  amount,
		}
	}
	return specs
}
