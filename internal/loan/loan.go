// Package loan holds the repayment arithmetic for the lending product. It
// is a pure calculation; disbursement and repayment move money through the
// wallet transfer engine, not through this package.
package loan

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Product terms.
var (
	MinAmount = decimal.NewFromInt(50_000)
	MaxAmount = decimal.NewFromInt(5_000_000)
)

const (
	MinDurationMonths = 3
	MaxDurationMonths = 24

	// AnnualRate is the flat 15% per-annum product rate.
	AnnualRate = 0.15
)

var (
	ErrAmountOutOfRange   = errors.New("loan amount out of range")
	ErrDurationOutOfRange = errors.New("loan duration out of range")
	ErrInvalidRate        = errors.New("annual rate must be positive")
)

// Quote is the repayment schedule summary for a prospective loan.
type Quote struct {
	Amount           decimal.Decimal `json:"amount"`
	AnnualRate       float64         `json:"annualRate"`
	DurationMonths   int             `json:"durationMonths"`
	MonthlyRepayment decimal.Decimal `json:"monthlyRepayment"`
	TotalRepayment   decimal.Decimal `json:"totalRepayment"`
	TotalInterest    decimal.Decimal `json:"totalInterest"`
}

// Installment is one row of an amortization schedule.
type Installment struct {
	Number    int             `json:"number"`
	DueDate   time.Time       `json:"dueDate"`
	Payment   decimal.Decimal `json:"payment"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Remaining decimal.Decimal `json:"remaining"`
}

// NewQuote computes the standard amortized monthly payment
//
//	P * r * (1+r)^n / ((1+r)^n - 1), r = annualRate/12
//
// rounded to two places, with the total as the rounded payment times the
// term.
func NewQuote(amount decimal.Decimal, annualRate float64, durationMonths int) (*Quote, error) {
	if amount.LessThan(MinAmount) || amount.GreaterThan(MaxAmount) {
		return nil, ErrAmountOutOfRange
	}
	if durationMonths < MinDurationMonths || durationMonths > MaxDurationMonths {
		return nil, ErrDurationOutOfRange
	}
	if annualRate <= 0 {
		return nil, ErrInvalidRate
	}

	principal, _ := amount.Float64()
	r := annualRate / 12
	growth := math.Pow(1+r, float64(durationMonths))
	payment := principal * r * growth / (growth - 1)

	monthly := decimal.NewFromFloat(payment).Round(2)
	total := monthly.Mul(decimal.NewFromInt(int64(durationMonths)))
	return &Quote{
		Amount:           amount,
		AnnualRate:       annualRate,
		DurationMonths:   durationMonths,
		MonthlyRepayment: monthly,
		TotalRepayment:   total,
		TotalInterest:    total.Sub(amount),
	}, nil
}

// Schedule expands a quote into per-month installments starting the month
// after disbursement. The last installment absorbs rounding drift so the
// principal column sums exactly to the loan amount.
func (q *Quote) Schedule(disbursedAt time.Time) []Installment {
	rows := make([]Installment, 0, q.DurationMonths)
	monthlyRate := decimal.NewFromFloat(q.AnnualRate / 12)
	remaining := q.Amount

	for i := 1; i <= q.DurationMonths; i++ {
		interest := remaining.Mul(monthlyRate).Round(2)
		principal := q.MonthlyRepayment.Sub(interest)
		payment := q.MonthlyRepayment
		if i == q.DurationMonths {
			principal = remaining
			payment = principal.Add(interest)
		}
		remaining = remaining.Sub(principal)
		rows = append(rows, Installment{
			Number:    i,
			DueDate:   disbursedAt.AddDate(0, i, 0),
			Payment:   payment,
			Principal: principal,
			Interest:  interest,
			Remaining: remaining,
		})
	}
	return rows
}
