package billing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// SplitFee divides an invoice amount into the owner's share and the
// management fee according to the unit's fee policy. A percentage fee takes
// precedence over a fixed fee; with neither set (or no unit) the whole amount
// goes to the owner. The fee never exceeds the amount, so
// owner + fee == amount always holds.
func SplitFee(amount decimal.Decimal, unit *Unit) (owner, fee decimal.Decimal) {
	fee = decimal.Zero
	if unit != nil {
		switch {
		case positive(unit.ManagementFeePercentage):
			fee = amount.Mul(*unit.ManagementFeePercentage).Div(hundred).Round(2)
		case positive(unit.ManagementFeeFixed):
			fee = *unit.ManagementFeeFixed
		}
	}
	if fee.GreaterThan(amount) {
		fee = amount
	}
	if fee.IsNegative() {
		fee = decimal.Zero
	}
	return amount.Sub(fee), fee
}

func positive(d *decimal.Decimal) bool {
	return d != nil && d.IsPositive()
}

// InvoiceStatusFor derives the status after a payment brings the paid total
// to paid. Paid and partial follow from the amounts; otherwise the current
// status is kept.
func InvoiceStatusFor(amount, paid decimal.Decimal, current InvoiceStatus) InvoiceStatus {
	switch {
	case paid.GreaterThanOrEqual(amount):
		return InvoicePaid
	case paid.IsPositive():
		return InvoicePartial
	}
	return current
}
