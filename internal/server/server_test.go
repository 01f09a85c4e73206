package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/rentroll/internal/activity"
	"github.com/matthewbaird/rentroll/internal/billing"
	"github.com/matthewbaird/rentroll/internal/event"
	"github.com/matthewbaird/rentroll/internal/eventbus"
	"github.com/matthewbaird/rentroll/internal/server"
	"github.com/matthewbaird/rentroll/internal/store"
	"github.com/matthewbaird/rentroll/internal/sweep"
	"github.com/matthewbaird/rentroll/internal/types"
)

type testServer struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	bus := eventbus.New(64, zerolog.Nop())
	bus.Start(ctx)
	t.Cleanup(bus.Stop)

	feed := activity.NewSQLStore(st.Driver())
	rec := event.NewActivityRecorder(feed)
	rec.SetPublisher(bus)

	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	eng := billing.NewEngine(st, st, billing.WithClock(clock), billing.WithNotifier(rec))

	srv := httptest.NewServer(server.Router(server.Config{
		Engine:        eng,
		Units:         st,
		Sweeps:        sweep.New(eng, rec, sweep.WithClock(clock)),
		Notifications: feed,
		Bus:           bus,
		DB:            st,
		Log:           zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv}
}

// do sends a request as actor "tester" and decodes a JSON response into out
// when out is non-nil.
func (s *testServer) do(method, path string, body, out any) int {
	s.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	require.NoError(s.t, err)
	req.Header.Set("X-Actor", "tester")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) createUnit() string {
	s.t.Helper()
	var u billing.Unit
	code := s.do(http.MethodPost, "/v1/units", map[string]any{
		"organization_id":           "org-1",
		"property_id":               "prop-1",
		"label":                     "Flat 2B",
		"management_fee_percentage": "10",
	}, &u)
	require.Equal(s.t, http.StatusCreated, code)
	require.NotEmpty(s.t, u.ID)
	return u.ID
}

func leaseBody(unitID string) map[string]any {
	return map[string]any{
		"organization_id": "org-1",
		"unit_id":         unitID,
		"tenant_id":       "tenant-1",
		"start_date":      "2024-01-01",
		"end_date":        "2024-12-31",
		"rent_amount":     "1000",
		"billing_cycle":   "monthly",
		"caution_deposit": "500",
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestLeaseToPaymentFlow(t *testing.T) {
	s := newTestServer(t)
	unitID := s.createUnit()

	var created billing.LeaseWithInvoice
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/v1/leases", leaseBody(unitID), &created))
	assert.Equal(t, billing.LeaseDraft, created.Lease.Status)
	assert.True(t, created.Invoice.Amount.Equal(decimal.NewFromInt(1500)), created.Invoice.Amount.String())
	assert.Equal(t, "2024-01-01", types.FormatDate(created.Invoice.DueDate))

	var stats billing.LeaseStats
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/leases/stats?organization_id=org-1", nil, &stats))
	assert.Equal(t, 1, stats.ByStatus[billing.LeaseDraft])

	invoicePath := "/v1/invoices/" + created.Invoice.ID
	var errBody map[string]string
	assert.Equal(t, http.StatusUnprocessableEntity,
		s.do(http.MethodPost, invoicePath+"/payments", map[string]any{"amount": "2000", "method": "cash"}, &errBody))
	assert.Equal(t, "VALIDATION_ERROR", errBody["code"])

	var receipt billing.PaymentReceipt
	require.Equal(t, http.StatusCreated,
		s.do(http.MethodPost, invoicePath+"/payments", map[string]any{"amount": "1500", "method": "bank_transfer"}, &receipt))
	assert.True(t, receipt.LeaseActivated)
	assert.Equal(t, billing.InvoicePaid, receipt.Invoice.Status)

	var l billing.Lease
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/leases/"+created.Lease.ID, nil, &l))
	assert.Equal(t, billing.LeaseActive, l.Status)

	var unit billing.Unit
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/units/"+unitID, nil, &unit))
	assert.Equal(t, billing.UnitOccupied, unit.Status)

	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/v1/leases", leaseBody(unitID), nil), "unit is occupied")
	assert.Equal(t, http.StatusConflict, s.do(http.MethodDelete, invoicePath, nil, nil), "paid invoice cannot be deleted")

	var payments struct {
		Payments []billing.Payment `json:"payments"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, invoicePath+"/payments", nil, &payments))
	require.Len(t, payments.Payments, 1)
	assert.Equal(t, "tester", payments.Payments[0].RecordedBy)

	var page billing.InvoicePage
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/invoices?lease_id="+created.Lease.ID, nil, &page))
	assert.Equal(t, 1, page.Total)

	var feed struct {
		Notifications []types.Notification `json:"notifications"`
		TotalCount    int                  `json:"total_count"`
	}
	require.Equal(t, http.StatusOK,
		s.do(http.MethodGet, "/v1/notifications?organization_id=org-1&type=lease_activated,payment_received", nil, &feed))
	assert.Equal(t, 2, feed.TotalCount)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	var body map[string]string
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/leases/missing", nil, &body))
	assert.Equal(t, "NOT_FOUND", body["code"])

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/leases", "not an object", nil))
	assert.Equal(t, http.StatusBadRequest,
		s.do(http.MethodPost, "/v1/leases", map[string]any{"start_date": "01/02/2024"}, nil), "bad date layout")
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/v1/invoices/upcoming?days=-1", nil, nil))

	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/v1/leases", strings.NewReader("{}"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing X-Actor")

	unitID := s.createUnit()
	bad := leaseBody(unitID)
	bad["end_date"] = "2023-12-31"
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/v1/leases", bad, &body))
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestRecordPayment_AmountChecks(t *testing.T) {
	s := newTestServer(t)
	unitID := s.createUnit()
	var created billing.LeaseWithInvoice
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/v1/leases", leaseBody(unitID), &created))
	paymentsPath := "/v1/invoices/" + created.Invoice.ID + "/payments"

	for _, amount := range []string{"0", "-5", "1500.01"} {
		var body map[string]string
		assert.Equal(t, http.StatusUnprocessableEntity,
			s.do(http.MethodPost, paymentsPath, map[string]any{"amount": amount, "method": "cash"}, &body), amount)
		assert.Equal(t, "VALIDATION_ERROR", body["code"], amount)
	}

	var body map[string]string
	require.Equal(t, http.StatusCreated,
		s.do(http.MethodPost, paymentsPath, map[string]any{"amount": "1000", "method": "cash"}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity,
		s.do(http.MethodPost, paymentsPath, map[string]any{"amount": "600", "method": "cash"}, &body))
	assert.Contains(t, body["error"], "exceeds the outstanding balance 500.00")

	assert.Equal(t, http.StatusNotFound,
		s.do(http.MethodPost, "/v1/invoices/missing/payments", map[string]any{"amount": "10", "method": "cash"}, nil))

	var payments struct {
		Payments []billing.Payment `json:"payments"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, paymentsPath, nil, &payments))
	assert.Len(t, payments.Payments, 1, "rejected amounts write no payment")
}

func TestRunSweep(t *testing.T) {
	s := newTestServer(t)
	var sum sweep.Summary
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/sweeps", nil, &sum))
	assert.NotEmpty(t, sum.RunID)
	assert.Len(t, sum.Stages, 5)
}

func TestNotificationStream(t *testing.T) {
	s := newTestServer(t)
	unitID := s.createUnit()
	var created billing.LeaseWithInvoice
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/v1/leases", leaseBody(unitID), &created))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/v1/notifications/stream?organization_id=org-1&type=payment_received"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/v1/invoices/"+created.Invoice.ID+"/payments",
		map[string]any{"amount": "1500", "method": "cash"}, nil))

	var n types.Notification
	require.NoError(t, wsjson.Read(ctx, conn, &n))
	assert.Equal(t, event.TypePaymentReceived, n.Type)
	assert.Equal(t, created.Invoice.ID, n.Ref("invoice"))
	conn.Close(websocket.StatusNormalClosure, "")
}
