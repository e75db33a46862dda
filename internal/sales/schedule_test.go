package sales

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestGenerateScheduleLastAbsorbsRemainder(t *testing.T) {
	specs := GenerateSchedule(dec("1100"), 3, day(2024, time.January, 1))
	if len(specs) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(specs))
	}
	want := []string{"366.67", "366.67", "366.66"}
	for i, spec := range specs {
		if spec.Seq != i+1 {
			t.Fatalf("installment %d has seq %d", i, spec.Seq)
		}
		if !spec.Amount.Equal(dec(want[i])) {
			t.Fatalf("installment %d amount = %s, want %s", i+1, spec.Amount, want[i])
		}
		if !spec.DueDate.Equal(day(2024, time.January+time.Month(i), 1)) {
			t.Fatalf("installment %d due %s", i+1, spec.DueDate)
		}
	}
}

func TestGenerateScheduleSumsToTheCent(t *testing.T) {
	amounts := []string{"0.01", "1", "99.99", "1100", "1234.56", "100000.03"}
	counts := []int{1, 2, 3, 7, 12, 60, 120}
	for _, a := range amounts {
		for _, n := range counts {
			specs := GenerateSchedule(dec(a), n, day(2024, time.June, 15))
			sum := decimal.Zero
			for _, spec := range specs {
				if spec.Amount.IsNegative() {
					t.Fatalf("financed %s count %d: negative installment %s", a, n, spec.Amount)
				}
				sum = sum.Add(spec.Amount)
			}
			if !sum.Equal(dec(a)) {
				t.Fatalf("financed %s count %d: schedule sums to %s", a, n, sum)
			}
		}
	}
}

func TestGenerateScheduleSmallAmountManyInstallments(t *testing.T) {
	// Rounding 1/60 up to 0.02 would overshoot: 59 x 0.02 already exceeds the
	// financed amount and the final installment would come out negative. The
	// base falls back to the truncated quotient instead.
	specs := GenerateSchedule(dec("1"), 60, day(2024, time.June, 15))
	sum := decimal.Zero
	for i, spec := range specs {
		if spec.Amount.IsNegative() {
			t.Fatalf("installment %d is negative: %s", i+1, spec.Amount)
		}
		sum = sum.Add(spec.Amount)
	}
	if !specs[0].Amount.Equal(dec("0.01")) {
		t.Fatalf("base installment = %s, want 0.01", specs[0].Amount)
	}
	if !specs[59].Amount.Equal(dec("0.41")) {
		t.Fatalf("last installment = %s, want 0.41", specs[59].Amount)
	}
	if !sum.Equal(dec("1")) {
		t.Fatalf("schedule sums to %s", sum)
	}
}

func TestGenerateScheduleMonthEndOverflow(t *testing.T) {
	specs := GenerateSchedule(dec("300"), 3, day(2024, time.January, 31))
	// January 31 plus one month lands on the normalized March 2 in a leap
	// year; plus two months is a plain March 31.
	wantDue := []time.Time{
		day(2024, time.January, 31),
		day(2024, time.March, 2),
		day(2024, time.March, 31),
	}
	for i, spec := range specs {
		if !spec.DueDate.Equal(wantDue[i]) {
			t.Fatalf("installment %d due %s, want %s", i+1, spec.DueDate, wantDue[i])
		}
	}
}

func TestGenerateScheduleMinimumOneInstallment(t *testing.T) {
	specs := GenerateSchedule(dec("250"), 0, day(2025, time.March, 10))
	if len(specs) != 1 {
		t.Fatalf("expected a single installment, got %d", len(specs))
	}
	if !specs[0].Amount.Equal(dec("250")) {
		t.Fatalf("installment amount = %s", specs[0].Amount)
	}
}

func TestAddMonthsPinsNoon(t *testing.T) {
	in := time.Date(2024, time.May, 9, 23, 45, 0, 0, time.FixedZone("x", -3*3600))
	got := AddMonths(in, 1)
	if got.Hour() != 12 || got.Location() != time.UTC {
		t.Fatalf("AddMonths did not normalize: %s", got)
	}
}
