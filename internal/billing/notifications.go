package billing

import (
	"github.com/matthewbaird/rentroll/internal/event"
	"github.com/matthewbaird/rentroll/internal/types"
)

func leasePayload(l *Lease) event.LeasePayload {
	return event.LeasePayload{
		LeaseID:        l.ID,
		OrganizationID: l.OrganizationID,
		UnitID:         l.UnitID,
		TenantID:       l.TenantID,
		StartDate:      types.FormatDate(l.StartDate),
		EndDate:        types.FormatDate(l.EndDate),
		RentAmount:     l.RentAmount,
	}
}

func invoicePayload(inv *Invoice) event.InvoicePayload {
	p := event.InvoicePayload{
		InvoiceID:      inv.ID,
		OrganizationID: inv.OrganizationID,
		TenantID:       inv.TenantID,
		Type:           string(inv.Type),
		Amount:         inv.Amount,
		Balance:        inv.Balance(),
		DueDate:        types.FormatDate(inv.DueDate),
	}
	if inv.LeaseID != nil {
		p.LeaseID = *inv.LeaseID
	}
	return p
}

// InvoiceNotificationPayload builds the notification payload for an enriched
// invoice; days is the overdue or until-due count the reminder reports.
func InvoiceNotificationPayload(c *InvoiceContext, days int) event.InvoicePayload {
	p := invoicePayload(c.Invoice)
	p.UnitID = c.UnitID
	p.PropertyID = c.PropertyID
	p.Days = days
	return p
}
