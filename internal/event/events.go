package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matthewbaird/rentroll/internal/types"
)

// Notification types.
const (
	TypeLeaseCreated           = "lease_created"
	TypeLeaseActivated         = "lease_activated"
	TypeLeaseTerminated        = "lease_terminated"
	TypeLeaseExpired           = "lease_expired"
	TypeInvoiceGenerated       = "invoice_generated"
	TypeInvoiceOverdue         = "invoice_overdue"
	TypePaymentReceived        = "payment_received"
	TypeInvoiceDueReminder     = "invoice_due_reminder"
	TypeInvoiceOverdueReminder = "invoice_overdue_reminder"
)

func newID() string { return uuid.New().String() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ── Lease notifications ─────────────────────────────────────────────────────

// LeasePayload carries lease data for lease lifecycle notifications.
type LeasePayload struct {
	LeaseID        string           `json:"lease_id"`
	OrganizationID string           `json:"organization_id"`
	UnitID         string           `json:"unit_id"`
	TenantID       string           `json:"tenant_id"`
	StartDate      string           `json:"start_date"`
	EndDate        string           `json:"end_date"`
	RentAmount     decimal.Decimal  `json:"rent_amount"`
	SeedInvoiceID  string           `json:"seed_invoice_id,omitempty"`
	SeedAmount     *decimal.Decimal `json:"seed_amount,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	EffectiveDate  string           `json:"effective_date,omitempty"`
}

func leaseRefs(p LeasePayload) []types.SourceRef {
	return []types.SourceRef{
		{EntityType: "lease", EntityID: p.LeaseID, Role: "subject"},
		{EntityType: "unit", EntityID: p.UnitID, Role: "context"},
		{EntityType: "tenant", EntityID: p.TenantID, Role: "related"},
	}
}

func leaseNotification(typ, subject, message string, p LeasePayload) types.Notification {
	return types.Notification{
		ID:             newID(),
		Type:           typ,
		OrganizationID: p.OrganizationID,
		Subject:        subject,
		Message:        message,
		Refs:           leaseRefs(p),
		Metadata:       mustJSON(p),
		OccurredAt:     time.Now().UTC(),
	}
}

func NewLeaseCreated(p LeasePayload) types.Notification {
	msg := fmt.Sprintf("Lease %s created for unit %s from %s to %s", short(p.LeaseID), short(p.UnitID), p.StartDate, p.EndDate)
	if p.SeedAmount != nil {
		msg += fmt.Sprintf("; first invoice of %s due %s", p.SeedAmount.StringFixed(2), p.StartDate)
	}
	return leaseNotification(TypeLeaseCreated, "New lease created", msg, p)
}

func NewLeaseActivated(p LeasePayload) types.Notification {
	return leaseNotification(TypeLeaseActivated, "Lease activated",
		fmt.Sprintf("Lease %s is now active and unit %s is occupied", short(p.LeaseID), short(p.UnitID)), p)
}

func NewLeaseTerminated(p LeasePayload) types.Notification {
	return leaseNotification(TypeLeaseTerminated, "Lease terminated",
		fmt.Sprintf("Lease %s terminated on %s: %s", short(p.LeaseID), p.EffectiveDate, p.Reason), p)
}

func NewLeaseExpired(p LeasePayload) types.Notification {
	return leaseNotification(TypeLeaseExpired, "Lease expired",
		fmt.Sprintf("Lease %s ended on %s and unit %s is vacant", short(p.LeaseID), p.EndDate, short(p.UnitID)), p)
}

// ── Invoice notifications ───────────────────────────────────────────────────

// InvoicePayload carries invoice data for invoice notifications.
type InvoicePayload struct {
	InvoiceID      string          `json:"invoice_id"`
	OrganizationID string          `json:"organization_id"`
	LeaseID        string          `json:"lease_id,omitempty"`
	TenantID       string          `json:"tenant_id"`
	UnitID         string          `json:"unit_id,omitempty"`
	PropertyID     string          `json:"property_id,omitempty"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Balance        decimal.Decimal `json:"balance"`
	DueDate        string          `json:"due_date"`
	Days           int             `json:"days,omitempty"`
}

func invoiceRefs(p InvoicePayload) []types.SourceRef {
	refs := []types.SourceRef{
		{EntityType: "invoice", EntityID: p.InvoiceID, Role: "subject"},
		{EntityType: "tenant", EntityID: p.TenantID, Role: "related"},
	}
	if p.LeaseID != "" {
		refs = append(refs, types.SourceRef{EntityType: "lease", EntityID: p.LeaseID, Role: "context"})
	}
	if p.UnitID != "" {
		refs = append(refs, types.SourceRef{EntityType: "unit", EntityID: p.UnitID, Role: "context"})
	}
	return refs
}

func invoiceNotification(typ, subject, message string, p InvoicePayload) types.Notification {
	return types.Notification{
		ID:             newID(),
		Type:           typ,
		OrganizationID: p.OrganizationID,
		Subject:        subject,
		Message:        message,
		Refs:           invoiceRefs(p),
		Metadata:       mustJSON(p),
		OccurredAt:     time.Now().UTC(),
	}
}

func NewInvoiceGenerated(p InvoicePayload) types.Notification {
	return invoiceNotification(TypeInvoiceGenerated, "Rent invoice generated",
		fmt.Sprintf("Invoice %s of %s generated, due %s", short(p.InvoiceID), p.Amount.StringFixed(2), p.DueDate), p)
}

func NewInvoiceOverdue(p InvoicePayload) types.Notification {
	return invoiceNotification(TypeInvoiceOverdue, "Invoice overdue",
		fmt.Sprintf("Invoice %s with balance %s was due %s", short(p.InvoiceID), p.Balance.StringFixed(2), p.DueDate), p)
}

func NewInvoiceDueReminder(p InvoicePayload) types.Notification {
	unit := "days"
	if p.Days == 1 {
		unit = "day"
	}
	return invoiceNotification(TypeInvoiceDueReminder, fmt.Sprintf("Invoice due in %d %s", p.Days, unit),
		fmt.Sprintf("Invoice %s of %s is due on %s", short(p.InvoiceID), p.Balance.StringFixed(2), p.DueDate), p)
}

func NewInvoiceOverdueReminder(p InvoicePayload) types.Notification {
	return invoiceNotification(TypeInvoiceOverdueReminder, "Overdue invoice reminder",
		fmt.Sprintf("Invoice %s is %d days overdue with %s outstanding", short(p.InvoiceID), p.Days, p.Balance.StringFixed(2)), p)
}

// ── Payment notifications ───────────────────────────────────────────────────

// PaymentReceivedPayload carries event-specific data for PaymentReceived.
type PaymentReceivedPayload struct {
	PaymentID       string          `json:"payment_id"`
	InvoiceID       string          `json:"invoice_id"`
	OrganizationID  string          `json:"organization_id"`
	LeaseID         string          `json:"lease_id,omitempty"`
	TenantID        string          `json:"tenant_id"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   string          `json:"payment_method"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	InvoiceStatus   string          `json:"invoice_status"`
	RecordedBy      string          `json:"recorded_by"`
}

func NewPaymentReceived(p PaymentReceivedPayload) types.Notification {
	refs := []types.SourceRef{
		{EntityType: "payment", EntityID: p.PaymentID, Role: "subject"},
		{EntityType: "invoice", EntityID: p.InvoiceID, Role: "context"},
		{EntityType: "tenant", EntityID: p.TenantID, Role: "related"},
	}
	if p.LeaseID != "" {
		refs = append(refs, types.SourceRef{EntityType: "lease", EntityID: p.LeaseID, Role: "context"})
	}
	return types.Notification{
		ID:             newID(),
		Type:           TypePaymentReceived,
		OrganizationID: p.OrganizationID,
		Subject:        "Payment received",
		Message: fmt.Sprintf("Payment of %s received on invoice %s, balance %s",
			p.Amount.StringFixed(2), short(p.InvoiceID), p.NewBalance.StringFixed(2)),
		Refs:       refs,
		Metadata:   mustJSON(p),
		OccurredAt: time.Now().UTC(),
	}
}
