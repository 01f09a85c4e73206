package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/matthewbaird/rentroll/internal/billing"
)

// LeaseHandler implements the lease routes.
type LeaseHandler struct {
	engine *billing.Engine
	log    zerolog.Logger
}

// NewLeaseHandler creates a new LeaseHandler.
func NewLeaseHandler(engine *billing.Engine, log zerolog.Logger) *LeaseHandler {
	return &LeaseHandler{engine: engine, log: log}
}

type createLeaseRequest struct {
	OrganizationID string               `json:"organization_id"`
	UnitID         string               `json:"unit_id"`
	TenantID       string               `json:"tenant_id"`
	StartDate      date                 `json:"start_date"`
	EndDate        date                 `json:"end_date"`
	RentAmount     decimal.Decimal      `json:"rent_amount"`
	BillingCycle   billing.BillingCycle `json:"billing_cycle"`
	CautionDeposit decimal.Decimal      `json:"caution_deposit"`
	AgencyFee      decimal.Decimal      `json:"agency_fee"`
	LegalFee       decimal.Decimal      `json:"legal_fee"`
	Notes          string               `json:"notes"`
}

// CreateLease creates a draft lease and its seed invoice.
// POST /v1/leases
func (h *LeaseHandler) CreateLease(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createLeaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := h.engine.CreateLease(r.Context(), billing.CreateLeaseInput{
		OrganizationID: req.OrganizationID,
		UnitID:         req.UnitID,
		TenantID:       req.TenantID,
		StartDate:      req.StartDate.Time,
		EndDate:        req.EndDate.Time,
		RentAmount:     req.RentAmount,
		BillingCycle:   req.BillingCycle,
		CautionDeposit: req.CautionDeposit,
		AgencyFee:      req.AgencyFee,
		LegalFee:       req.LegalFee,
		Notes:          req.Notes,
		CreatedBy:      actor,
	})
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// GetLease returns a lease by id.
// GET /v1/leases/{id}
func (h *LeaseHandler) GetLease(w http.ResponseWriter, r *http.Request) {
	l, err := h.engine.GetLease(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// ListLeases returns a page of leases.
// GET /v1/leases?organization_id=&status=&tenant_id=&unit_id=&property_id=
func (h *LeaseHandler) ListLeases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := parsePagination(r)
	page, err := h.engine.ListLeases(r.Context(), billing.LeaseFilter{
		OrganizationID: q.Get("organization_id"),
		Status:         billing.LeaseStatus(q.Get("status")),
		TenantID:       q.Get("tenant_id"),
		UnitID:         q.Get("unit_id"),
		PropertyID:     q.Get("property_id"),
		Limit:          p.Limit,
		Offset:         p.Offset,
	})
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type updateLeaseRequest struct {
	StartDate      *date                 `json:"start_date"`
	EndDate        *date                 `json:"end_date"`
	RentAmount     *decimal.Decimal      `json:"rent_amount"`
	BillingCycle   *billing.BillingCycle `json:"billing_cycle"`
	CautionDeposit *decimal.Decimal      `json:"caution_deposit"`
	AgencyFee      *decimal.Decimal      `json:"agency_fee"`
	LegalFee       *decimal.Decimal      `json:"legal_fee"`
	Notes          *string               `json:"notes"`
}

// UpdateLease patches the mutable fields of a lease.
// PATCH /v1/leases/{id}
func (h *LeaseHandler) UpdateLease(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var req updateLeaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	l, err := h.engine.UpdateLease(r.Context(), chi.URLParam(r, "id"), billing.UpdateLeaseInput{
		StartDate:      timeOf(req.StartDate),
		EndDate:        timeOf(req.EndDate),
		RentAmount:     req.RentAmount,
		BillingCycle:   req.BillingCycle,
		CautionDeposit: req.CautionDeposit,
		AgencyFee:      req.AgencyFee,
		LegalFee:       req.LegalFee,
		Notes:          req.Notes,
	})
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type terminateLeaseRequest struct {
	TerminationDate date   `json:"termination_date"`
	Reason          string `json:"reason"`
}

// TerminateLease ends a lease early and frees its unit.
// POST /v1/leases/{id}/terminate
func (h *LeaseHandler) TerminateLease(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req terminateLeaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	l, err := h.engine.TerminateLease(r.Context(), chi.URLParam(r, "id"), billing.TerminateLeaseInput{
		TerminationDate: req.TerminationDate.Time,
		Reason:          req.Reason,
	}, actor)
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// GenerateInvoice runs recurring generation for a single lease.
// POST /v1/leases/{id}/generate-invoice
func (h *LeaseHandler) GenerateInvoice(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.GenerateRecurringInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == billing.OutcomeCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// GetLeaseStats returns lease counts by status.
// GET /v1/leases/stats?organization_id=
func (h *LeaseHandler) GetLeaseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GetLeaseStats(r.Context(), r.URL.Query().Get("organization_id"))
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
