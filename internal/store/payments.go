package store

import (
	"context"
	"database/sql"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/matthewbaird/rentroll/internal/billing"
)

const paymentsTable = "payments"

var paymentColumns = []string{
	"id", "organization_id", "invoice_id", "tenant_id", "amount", "method",
	"reference", "paid_at", "bank_name", "account_number", "recorded_by",
	"receipt_url", "created_at",
}

func (s *Store) InsertPayment(ctx context.Context, p *billing.Payment) error {
	q, args := builder().Insert(paymentsTable).
		Columns(paymentColumns...).
		Values(
			p.ID, p.OrganizationID, p.InvoiceID, p.TenantID, p.Amount.String(), string(p.Method),
			optStr(p.Reference), tsArg(p.PaidAt), optStr(p.BankName), optStr(p.AccountNumber), p.RecordedBy,
			optStr(p.ReceiptURL), tsArg(p.CreatedAt),
		).
		Query()
	_, err := s.exec(ctx, "inserting payment", q, args)
	return err
}

// ListPayments returns the payments of an invoice in the order they were made.
func (s *Store) ListPayments(ctx context.Context, invoiceID string) ([]*billing.Payment, error) {
	sel := builder().Select(paymentColumns...).From(entsql.Table(paymentsTable)).
		Where(entsql.EQ("invoice_id", invoiceID)).
		OrderBy("paid_at", "created_at")
	var out []*billing.Payment
	err := s.query(ctx, "listing payments", sel, func(r entsql.ColumnScanner) error {
		var (
			p                                 billing.Payment
			method, paidAt, created           string
			reference, bank, account, receipt sql.NullString
		)
		err := r.Scan(
			&p.ID, &p.OrganizationID, &p.InvoiceID, &p.TenantID, &p.Amount, &method,
			&reference, &paidAt, &bank, &account, &p.RecordedBy,
			&receipt, &created,
		)
		if err != nil {
			return err
		}
		var d decoder
		p.Method = billing.PaymentMethod(method)
		p.Reference = optString(reference)
		p.BankName = optString(bank)
		p.AccountNumber = optString(account)
		p.ReceiptURL = optString(receipt)
		p.PaidAt = d.ts(paidAt)
		p.CreatedAt = d.ts(created)
		if d.err != nil {
			return d.err
		}
		out = append(out, &p)
		return nil
	})
	return out, err
}
