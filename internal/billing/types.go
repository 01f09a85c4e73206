package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// LeaseStatus is the lifecycle state of a lease.
type LeaseStatus string

const (
	LeaseDraft      LeaseStatus = "draft"
	LeaseActive     LeaseStatus = "active"
	LeasePending    LeaseStatus = "pending"
	LeaseTerminated LeaseStatus = "terminated"
	LeaseExpired    LeaseStatus = "expired"
)

// LeaseStatuses lists every lease status in display order.
var LeaseStatuses = []LeaseStatus{LeaseDraft, LeasePending, LeaseActive, LeaseTerminated, LeaseExpired}

// BillingCycle is the recurrence period of rent invoicing.
type BillingCycle string

const (
	CycleMonthly    BillingCycle = "monthly"
	CycleQuarterly  BillingCycle = "quarterly"
	CycleBiannually BillingCycle = "biannually"
	CycleAnnually   BillingCycle = "annually"
)

// InvoiceType classifies what an invoice bills for.
type InvoiceType string

const (
	InvoiceRent          InvoiceType = "rent"
	InvoiceServiceCharge InvoiceType = "service_charge"
	InvoiceLegalFee      InvoiceType = "legal_fee"
	InvoiceAgencyFee     InvoiceType = "agency_fee"
	InvoiceCautionFee    InvoiceType = "caution_fee"
	InvoiceMaintenance   InvoiceType = "maintenance"
	InvoicePenalty       InvoiceType = "penalty"
)

// InvoiceStatus is the payment state of an invoice.
type InvoiceStatus string

const (
	InvoiceDraft   InvoiceStatus = "draft"
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
	InvoicePartial InvoiceStatus = "partial"
	InvoiceOverdue InvoiceStatus = "overdue"
	InvoiceVoid    InvoiceStatus = "void"
)

// InvoiceStatuses lists every invoice status in display order.
var InvoiceStatuses = []InvoiceStatus{InvoiceDraft, InvoicePending, InvoicePartial, InvoicePaid, InvoiceOverdue, InvoiceVoid}

// PaymentMethod is how a payment was made.
type PaymentMethod string

const (
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCash         PaymentMethod = "cash"
	MethodCheque       PaymentMethod = "cheque"
	MethodPOS          PaymentMethod = "pos"
	MethodOnline       PaymentMethod = "online"
)

// UnitStatus is the occupancy state of a unit.
type UnitStatus string

const (
	UnitVacant   UnitStatus = "vacant"
	UnitOccupied UnitStatus = "occupied"
)

// Lease binds a tenant to a unit for a period at a rent.
type Lease struct {
	ID              string          `json:"id"`
	OrganizationID  string          `json:"organization_id"`
	UnitID          string          `json:"unit_id"`
	PropertyID      string          `json:"property_id,omitempty"`
	TenantID        string          `json:"tenant_id"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
	TerminationDate *time.Time      `json:"termination_date,omitempty"`
	RentAmount      decimal.Decimal `json:"rent_amount"`
	BillingCycle    BillingCycle    `json:"billing_cycle"`
	CautionDeposit  decimal.Decimal `json:"caution_deposit"`
	AgencyFee       decimal.Decimal `json:"agency_fee"`
	LegalFee        decimal.Decimal `json:"legal_fee"`
	Status          LeaseStatus     `json:"status"`
	Notes           string          `json:"notes,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SeedTotal is the amount of the first invoice of a lease: rent plus the
// one-time caution deposit, agency fee and legal fee.
func (l *Lease) SeedTotal() decimal.Decimal {
	return l.RentAmount.Add(l.CautionDeposit).Add(l.AgencyFee).Add(l.LegalFee)
}

// Invoice is a bill issued to a tenant.
type Invoice struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	LeaseID        *string          `json:"lease_id,omitempty"`
	TenantID       string           `json:"tenant_id"`
	Type           InvoiceType      `json:"type"`
	Description    string           `json:"description,omitempty"`
	Amount         decimal.Decimal  `json:"amount"`
	AmountPaid     decimal.Decimal  `json:"amount_paid"`
	OwnerAmount    *decimal.Decimal `json:"owner_amount,omitempty"`
	ManagementFee  *decimal.Decimal `json:"management_fee,omitempty"`
	DueDate        time.Time        `json:"due_date"`
	Status         InvoiceStatus    `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Balance is the amount still owed on the invoice.
func (i *Invoice) Balance() decimal.Decimal {
	b := i.Amount.Sub(i.AmountPaid)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// Payment is one recorded transaction against an invoice.
type Payment struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	InvoiceID      string          `json:"invoice_id"`
	TenantID       string          `json:"tenant_id"`
	Amount         decimal.Decimal `json:"amount"`
	Method         PaymentMethod   `json:"method"`
	Reference      *string         `json:"reference,omitempty"`
	PaidAt         time.Time       `json:"paid_at"`
	BankName       *string         `json:"bank_name,omitempty"`
	AccountNumber  *string         `json:"account_number,omitempty"`
	RecordedBy     string          `json:"recorded_by"`
	ReceiptURL     *string         `json:"receipt_url,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Unit is the slice of the unit directory the engine reads.
type Unit struct {
	ID                      string           `json:"id"`
	OrganizationID          string           `json:"organization_id"`
	PropertyID              string           `json:"property_id"`
	Label                   string           `json:"label"`
	Status                  UnitStatus       `json:"status"`
	ManagementFeePercentage *decimal.Decimal `json:"management_fee_percentage,omitempty"`
	ManagementFeeFixed      *decimal.Decimal `json:"management_fee_fixed,omitempty"`
}

// ── Inputs ──────────────────────────────────────────────────────────────────

// CreateLeaseInput is the payload of CreateLease.
type CreateLeaseInput struct {
	OrganizationID string          `json:"organization_id" validate:"required"`
	UnitID         string          `json:"unit_id" validate:"required"`
	TenantID       string          `json:"tenant_id" validate:"required"`
	StartDate      time.Time       `json:"start_date" validate:"required"`
	EndDate        time.Time       `json:"end_date" validate:"required,gtfield=StartDate"`
	RentAmount     decimal.Decimal `json:"rent_amount"`
	BillingCycle   BillingCycle    `json:"billing_cycle" validate:"required,oneof=monthly quarterly biannually annually"`
	CautionDeposit decimal.Decimal `json:"caution_deposit"`
	AgencyFee      decimal.Decimal `json:"agency_fee"`
	LegalFee       decimal.Decimal `json:"legal_fee"`
	Notes          string          `json:"notes,omitempty"`
	CreatedBy      string          `json:"created_by" validate:"required"`
}

// UpdateLeaseInput carries the mutable lease fields; nil means unchanged.
type UpdateLeaseInput struct {
	StartDate      *time.Time       `json:"start_date,omitempty"`
	EndDate        *time.Time       `json:"end_date,omitempty"`
	RentAmount     *decimal.Decimal `json:"rent_amount,omitempty"`
	BillingCycle   *BillingCycle    `json:"billing_cycle,omitempty" validate:"omitempty,oneof=monthly quarterly biannually annually"`
	CautionDeposit *decimal.Decimal `json:"caution_deposit,omitempty"`
	AgencyFee      *decimal.Decimal `json:"agency_fee,omitempty"`
	LegalFee       *decimal.Decimal `json:"legal_fee,omitempty"`
	Notes          *string          `json:"notes,omitempty"`
}

// TerminateLeaseInput is the payload of TerminateLease.
type TerminateLeaseInput struct {
	TerminationDate time.Time `json:"termination_date" validate:"required"`
	Reason          string    `json:"reason" validate:"required"`
}

// CreateInvoiceInput is the payload of CreateInvoice.
type CreateInvoiceInput struct {
	OrganizationID string           `json:"organization_id" validate:"required"`
	LeaseID        *string          `json:"lease_id,omitempty"`
	TenantID       string           `json:"tenant_id" validate:"required"`
	Type           InvoiceType      `json:"type" validate:"required,oneof=rent service_charge legal_fee agency_fee caution_fee maintenance penalty"`
	Description    string           `json:"description,omitempty"`
	Amount         decimal.Decimal  `json:"amount"`
	OwnerAmount    *decimal.Decimal `json:"owner_amount,omitempty"`
	ManagementFee  *decimal.Decimal `json:"management_fee,omitempty"`
	DueDate        time.Time        `json:"due_date" validate:"required"`
	Status         InvoiceStatus    `json:"status,omitempty" validate:"omitempty,oneof=draft pending"`
}

// UpdateInvoiceInput carries the mutable invoice fields; nil means unchanged.
type UpdateInvoiceInput struct {
	Type          *InvoiceType     `json:"type,omitempty" validate:"omitempty,oneof=rent service_charge legal_fee agency_fee caution_fee maintenance penalty"`
	Description   *string          `json:"description,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	OwnerAmount   *decimal.Decimal `json:"owner_amount,omitempty"`
	ManagementFee *decimal.Decimal `json:"management_fee,omitempty"`
	DueDate       *time.Time       `json:"due_date,omitempty"`
	Status        *InvoiceStatus   `json:"status,omitempty" validate:"omitempty,oneof=draft pending overdue void"`
}

// PaymentInput is the payload of RecordPayment.
type PaymentInput struct {
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"method" validate:"required,oneof=bank_transfer cash cheque pos online"`
	Reference     *string         `json:"reference,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	BankName      *string         `json:"bank_name,omitempty"`
	AccountNumber *string         `json:"account_number,omitempty"`
	ReceiptURL    *string         `json:"receipt_url,omitempty" validate:"omitempty,url"`
}

// ── Filters and pages ───────────────────────────────────────────────────────

// LeaseFilter narrows ListLeases.
type LeaseFilter struct {
	OrganizationID string
	Status         LeaseStatus
	TenantID       string
	UnitID         string
	PropertyID     string
	Limit          int
	Offset         int
}

// InvoiceFilter narrows ListInvoices and GetInvoiceStats.
type InvoiceFilter struct {
	OrganizationID string
	LeaseID        string
	TenantID       string
	Type           InvoiceType
	Status         InvoiceStatus
	DueFrom        *time.Time
	DueTo          *time.Time
	Limit          int
	Offset         int
}

// LeasePage is one page of leases plus the unpaginated total.
type LeasePage struct {
	Leases []*Lease `json:"leases"`
	Total  int      `json:"total"`
}

// InvoicePage is one page of invoices plus the unpaginated total.
type InvoicePage struct {
	Invoices []*Invoice `json:"invoices"`
	Total    int        `json:"total"`
}

// ── Results ─────────────────────────────────────────────────────────────────

// LeaseWithInvoice is returned by CreateLease.
type LeaseWithInvoice struct {
	Lease   *Lease   `json:"lease"`
	Invoice *Invoice `json:"invoice"`
}

// PaymentReceipt is returned by RecordPayment.
type PaymentReceipt struct {
	Invoice        *Invoice `json:"invoice"`
	Payment        *Payment `json:"payment"`
	LeaseActivated bool     `json:"lease_activated"`
}

// GenerationOutcome tells whether GenerateRecurringInvoice created an invoice.
type GenerationOutcome string

const (
	OutcomeCreated GenerationOutcome = "created"
	OutcomeSkipped GenerationOutcome = "skipped"
)

// GenerationResult is returned by GenerateRecurringInvoice.
type GenerationResult struct {
	LeaseID      string            `json:"lease_id"`
	Outcome      GenerationOutcome `json:"outcome"`
	Reason       string            `json:"reason,omitempty"`
	Invoice      *Invoice          `json:"invoice,omitempty"`
	CyclesPassed int               `json:"cycles_passed"`
	ExpectedPaid decimal.Decimal   `json:"expected_paid"`
	TotalPaid    decimal.Decimal   `json:"total_paid"`
	NextDueDate  *time.Time        `json:"next_due_date,omitempty"`
}

// InvoiceContext is an invoice enriched with the lease, unit and property it
// belongs to, for reminder and overdue notifications.
type InvoiceContext struct {
	Invoice      *Invoice `json:"invoice"`
	UnitID       string   `json:"unit_id,omitempty"`
	UnitLabel    string   `json:"unit_label,omitempty"`
	PropertyID   string   `json:"property_id,omitempty"`
	DaysOverdue  int      `json:"days_overdue"`
	DaysUntilDue int      `json:"days_until_due"`
}

// LeaseStats summarises leases of an organization.
type LeaseStats struct {
	ByStatus map[LeaseStatus]int `json:"by_status"`
	Total    int                 `json:"total"`
	Expiring int                 `json:"expiring"`
}

// InvoiceStatusStats aggregates invoices of one status.
type InvoiceStatusStats struct {
	Count       int             `json:"count"`
	Amount      decimal.Decimal `json:"amount"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// InvoiceStats groups counts and sums by status.
type InvoiceStats struct {
	ByStatus map[InvoiceStatus]*InvoiceStatusStats `json:"by_status"`
	Totals   InvoiceStatusStats                    `json:"totals"`
}
