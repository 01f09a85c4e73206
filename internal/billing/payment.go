package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matthewbaird/rentroll/internal/event"
	"github.com/matthewbaird/rentroll/internal/types"
)

// ValidatePaymentAmount rejects non-positive payments and payments larger
// than the invoice's outstanding balance.
func ValidatePaymentAmount(inv *Invoice, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ValidationError("payment amount must be positive")
	}
	if bal := inv.Balance(); amount.GreaterThan(bal) {
		return ValidationError("payment amount %s exceeds the outstanding balance %s",
			amount.StringFixed(2), bal.StringFixed(2))
	}
	return nil
}

// RecordPayment applies a payment to an invoice in one transaction: the
// invoice balance and status are updated, the payment row is written and, when
// the invoice becomes paid, a draft lease it belongs to is activated.
func (e *Engine) RecordPayment(ctx context.Context, invoiceID string, in PaymentInput, actor string) (*PaymentReceipt, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	if actor == "" {
		return nil, ValidationError("recorded_by is required")
	}
	var (
		receipt   *PaymentReceipt
		activated *Lease
	)

	err := e.repo.WithTx(ctx, func(ctx context.Context) error {
		inv, err := e.repo.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		switch inv.Status {
		case InvoiceVoid:
			return ConflictError("invoice %s is void", inv.ID)
		case InvoicePaid:
			return ConflictError("invoice %s is already paid", inv.ID)
		}
		if err := ValidatePaymentAmount(inv, in.Amount); err != nil {
			return err
		}

		paid := inv.AmountPaid.Add(in.Amount)
		if paid.IsNegative() {
			paid = decimal.Zero
		}
		now := e.timestamp()
		inv.AmountPaid = paid
		inv.Status = InvoiceStatusFor(inv.Amount, paid, inv.Status)
		inv.UpdatedAt = now
		if err := e.repo.UpdateInvoice(ctx, inv); err != nil {
			return err
		}

		paidAt := now
		if in.PaidAt != nil {
			paidAt = in.PaidAt.UTC()
		}
		p := &Payment{
			ID:             uuid.New().String(),
			OrganizationID: inv.OrganizationID,
			InvoiceID:      inv.ID,
			TenantID:       inv.TenantID,
			Amount:         in.Amount,
			Method:         in.Method,
			Reference:      in.Reference,
			PaidAt:         paidAt,
			BankName:       in.BankName,
			AccountNumber:  in.AccountNumber,
			RecordedBy:     actor,
			ReceiptURL:     in.ReceiptURL,
			CreatedAt:      now,
		}
		if err := e.repo.InsertPayment(ctx, p); err != nil {
			return err
		}
		receipt = &PaymentReceipt{Invoice: inv, Payment: p}

		if inv.Status != InvoicePaid || inv.LeaseID == nil {
			return nil
		}
		l, err := e.repo.GetLease(ctx, *inv.LeaseID)
		if err != nil {
			return err
		}
		if l.Status != LeaseDraft {
			return nil
		}
		if activated, err = e.activateLease(ctx, l.ID); err != nil {
			return err
		}
		receipt.LeaseActivated = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	inv, p := receipt.Invoice, receipt.Payment
	pp := event.PaymentReceivedPayload{
		PaymentID:      p.ID,
		InvoiceID:      inv.ID,
		OrganizationID: inv.OrganizationID,
		TenantID:       inv.TenantID,
		Amount:         p.Amount,
		PaymentMethod:  string(p.Method),
		NewBalance:     inv.Balance(),
		InvoiceStatus:  string(inv.Status),
		RecordedBy:     p.RecordedBy,
	}
	if inv.LeaseID != nil {
		pp.LeaseID = *inv.LeaseID
	}
	if p.Reference != nil {
		pp.ReferenceNumber = *p.Reference
	}
	e.emit(ctx, event.NewPaymentReceived(pp))
	if activated != nil {
		lp := leasePayload(activated)
		lp.EffectiveDate = types.FormatDate(e.today())
		e.emit(ctx, event.NewLeaseActivated(lp))
	}
	return receipt, nil
}
