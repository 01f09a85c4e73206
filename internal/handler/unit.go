package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/matthewbaird/rentroll/internal/billing"
)

// UnitStore is the unit directory the handler administers.
type UnitStore interface {
	CreateUnit(ctx context.Context, u *billing.Unit) error
	GetUnit(ctx context.Context, id string) (*billing.Unit, error)
	ListUnits(ctx context.Context, organizationID string) ([]*billing.Unit, error)
}

// UnitHandler implements the unit directory routes.
type UnitHandler struct {
	units UnitStore
	log   zerolog.Logger
}

// NewUnitHandler creates a new UnitHandler.
func NewUnitHandler(units UnitStore, log zerolog.Logger) *UnitHandler {
	return &UnitHandler{units: units, log: log}
}

type createUnitRequest struct {
	ID                      string           `json:"id"`
	OrganizationID          string           `json:"organization_id"`
	PropertyID              string           `json:"property_id"`
	Label                   string           `json:"label"`
	ManagementFeePercentage *decimal.Decimal `json:"management_fee_percentage"`
	ManagementFeeFixed      *decimal.Decimal `json:"management_fee_fixed"`
}

// CreateUnit registers a vacant unit. The id is generated when omitted.
// POST /v1/units
func (h *UnitHandler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var req createUnitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var missing []string
	if req.OrganizationID == "" {
		missing = append(missing, "organization_id")
	}
	if req.PropertyID == "" {
		missing = append(missing, "property_id")
	}
	if len(missing) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", strings.Join(missing, ", ")+" required")
		return
	}
	for _, d := range []*decimal.Decimal{req.ManagementFeePercentage, req.ManagementFeeFixed} {
		if d != nil && d.IsNegative() {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "management fees must not be negative")
			return
		}
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	u := &billing.Unit{
		ID:                      req.ID,
		OrganizationID:          req.OrganizationID,
		PropertyID:              req.PropertyID,
		Label:                   req.Label,
		Status:                  billing.UnitVacant,
		ManagementFeePercentage: req.ManagementFeePercentage,
		ManagementFeeFixed:      req.ManagementFeeFixed,
	}
	if err := h.units.CreateUnit(r.Context(), u); err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// GetUnit returns a unit by id.
// GET /v1/units/{id}
func (h *UnitHandler) GetUnit(w http.ResponseWriter, r *http.Request) {
	u, err := h.units.GetUnit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ListUnits returns the units of an organization.
// GET /v1/units?organization_id=
func (h *UnitHandler) ListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.units.ListUnits(r.Context(), r.URL.Query().Get("organization_id"))
	if err != nil {
		billingErrorToHTTP(w, h.log, err)
		return
	}
	if units == nil {
		units = []*billing.Unit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": units})
}
