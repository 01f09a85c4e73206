package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/matthewbaird/rentroll/internal/billing"
)

// InvoiceHandler implements the invoice and payment routes.
type InvoiceHandler struct {
	engine *billing.Engine
	log    zerolog.Logger
}

// NewInvoiceHandler creates a new InvoiceHandler.
func NewInvoiceHandler(engine *billing.Engine, log zerolog.Logger) *InvoiceHandler {
	return &InvoiceHandler{engine: engine, log: log}
}

type createInvoiceRequest struct {
	OrganizationID string                `json:"organization_id"`
	LeaseID        *string               `json:"lease_id"`
	TenantID       string                `json:"tenant_id"`
	Type           billing.InvoiceType   `json:"type"`
	Description    string                `json:"description"`
	Amount         decimal.Decimal       `json:"amount"`
	OwnerAmount    *decimal.Decimal      `json:"owner_amount"`
	ManagementFee  *decimal.Decimal      `json:"management_fee"`
	DueDate        date                  `json:"due_date"`
	Status         billing.InvoiceStatus `json:"status"`
}

// CreateInvoice issues a manual invoice.
// POST /v1/invoices
func (h *InvoiceHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var req createInvoiceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	inv, err := h.engine.CreateInvoice(r.Context(), billing.CreateInvoiceInput{
		OrganizationID: req.OrganizationID,
		LeaseID:        req.LeaseID,
		TenantID:       req.TenantID,
		Type:           req.Type,
		Description:    req.Description,
		Amount:         req.Amount,
		OwnerAmount:    req.OwnerAmount,
		ManagementFee:  req.ManagementFee,
		DueDate:        req.DueDate.Time,
		Status:         req.Status,
	})
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// GetInvoice returns an invoice by id.
// GET /v1/invoices/{id}
func (h *InvoiceHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.engine.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// invoiceFilter reads the shared list and stats filters.
func invoiceFilter(w http.ResponseWriter, r *http.Request) (billing.InvoiceFilter, bool) {
	q := r.URL.Query()
	from, ok := queryDate(w, r, "due_from")
	if !ok {
		return billing.InvoiceFilter{}, false
	}
	to, ok := queryDate(w, r, "due_to")
	if !ok {
		return billing.InvoiceFilter{}, false
	}
	return billing.InvoiceFilter{
		OrganizationID: q.Get("organization_id"),
		LeaseID:        q.Get("lease_id"),
		TenantID:       q.Get("tenant_id"),
		Type:           billing.InvoiceType(q.Get("type")),
		Status:         billing.InvoiceStatus(q.Get("status")),
		DueFrom:        from,
		DueTo:          to,
	}, true
}

// ListInvoices returns a page of invoices.
// GET /v1/invoices?organization_id=&lease_id=&tenant_id=&type=&status=&due_from=&due_to=
func (h *InvoiceHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	f, ok := invoiceFilter(w, r)
	if !ok {
		return
	}
	p := parsePagination(r)
	f.Limit, f.Offset = p.Limit, p.Offset
	page, err := h.engine.ListInvoices(r.Context(), f)
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type updateInvoiceRequest struct {
	Type          *billing.InvoiceType   `json:"type"`
	Description   *string                `json:"description"`
	Amount        *decimal.Decimal       `json:"amount"`
	OwnerAmount   *decimal.Decimal       `json:"owner_amount"`
	ManagementFee *decimal.Decimal       `json:"management_fee"`
	DueDate       *date                  `json:"due_date"`
	Status        *billing.InvoiceStatus `json:"status"`
}

// UpdateInvoice patches the mutable fields of an invoice.
// PATCH /v1/invoices/{id}
func (h *InvoiceHandler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var req updateInvoiceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	inv, err := h.engine.UpdateInvoice(r.Context(), chi.URLParam(r, "id"), billing.UpdateInvoiceInput{
		Type:          req.Type,
		Description:   req.Description,
		Amount:        req.Amount,
		OwnerAmount:   req.OwnerAmount,
		ManagementFee: req.ManagementFee,
		DueDate:       timeOf(req.DueDate),
		Status:        req.Status,
	})
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// DeleteInvoice removes an unpaid invoice.
// DELETE /v1/invoices/{id}
func (h *InvoiceHandler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	if err := h.engine.DeleteInvoice(r.Context(), chi.URLParam(r, "id")); err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordPayment applies a payment to an invoice.
// POST /v1/invoices/{id}/payments
func (h *InvoiceHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var in billing.PaymentInput
	if !decodeBody(w, r, &in) {
		return
	}
	inv, err := h.engine.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	if err := billing.ValidatePaymentAmount(inv, in.Amount); err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	receipt, err := h.engine.RecordPayment(r.Context(), inv.ID, in, actor)
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// ListPayments returns the payments of an invoice, oldest first.
// GET /v1/invoices/{id}/payments
func (h *InvoiceHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.engine.ListPayments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

// GetOverdueInvoices lists overdue invoices with their lease context.
// GET /v1/invoices/overdue?organization_id=
func (h *InvoiceHandler) GetOverdueInvoices(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.GetOverdueInvoices(r.Context(), r.URL.Query().Get("organization_id"))
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": out})
}

// GetUpcomingInvoices lists invoices due within the next days.
// GET /v1/invoices/upcoming?organization_id=&days=7
func (h *InvoiceHandler) GetUpcomingInvoices(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "days", 7)
	if !ok {
		return
	}
	out, err := h.engine.GetUpcomingInvoices(r.Context(), r.URL.Query().Get("organization_id"), days)
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": out, "days": days})
}

// GetInvoiceStats aggregates invoices by status.
// GET /v1/invoices/stats
func (h *InvoiceHandler) GetInvoiceStats(w http.ResponseWriter, r *http.Request) {
	f, ok := invoiceFilter(w, r)
	if !ok {
		return
	}
	stats, err := h.engine.GetInvoiceStats(r.Context(), f)
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
