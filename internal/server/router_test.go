package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"labdesk-backend/internal/config"
	"labdesk-backend/internal/events"
	"labdesk-backend/internal/loan"
	"labdesk-backend/internal/metrics"
	"labdesk-backend/internal/payment"
	"labdesk-backend/internal/paypal"
	"labdesk-backend/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paypalStub answers the token, create, capture and get endpoints.
func paypalStub(t *testing.T) *httptest.Server {
	var mu sync.Mutex
	seq := 0
	captured := map[string]bool{}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok"}`))
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seq++
		id := fmt.Sprintf("ORDER-%d", seq)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"id":%q,"status":"CREATED"}`, id)
	})
	mux.HandleFunc("/v2/checkout/orders/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/v2/checkout/orders/")
		id := strings.TrimSuffix(rest, "/capture")
		if strings.HasSuffix(rest, "/capture") {
			mu.Lock()
			captured[id] = true
			mu.Unlock()
			_, _ = fmt.Fprintf(w, `{"id":%q,"status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"CAP-%s"}]}}]}`, id, id)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"order not found"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	app   *fiber.App
	token string
}

func newHarness(t *testing.T, paypalCfg paypal.Config) *harness {
	db := testutil.NewDB(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := testutil.Logger()
	pub := events.NopPublisher{}

	cfg := &config.Config{ServiceName: "labdesk-test", JWTSecret: "secret", CORSOrigins: "*"}
	gw := paypal.NewClient(paypalCfg)

	app := NewApp(Deps{
		Config:   cfg,
		DB:       db,
		Loans:    loan.NewService(db, pub, m, log),
		Payments: payment.NewService(db, gw, payment.Config{Currency: "MXN"}, pub, m, log),
		Gatherer: reg,
		Log:      log,
		Events:   pub,
	})

	h := &harness{app: app}
	status, _ := h.call(t, "POST", "/api/auth/register-admin", `{"name":"Root","email":"root@lab.io","password":"supersecret"}`)
	require.Equal(t, fiber.StatusCreated, status)
	status, out := h.call(t, "POST", "/api/auth/login", `{"email":"root@lab.io","password":"supersecret"}`)
	require.Equal(t, fiber.StatusOK, status)
	h.token = out["token"].(string)
	return h
}

func (h *harness) raw(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.app.Test(req, int((5 * time.Second).Milliseconds()))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func (h *harness) call(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	status, b := h.raw(t, method, path, body)
	out := map[string]interface{}{}
	_ = json.Unmarshal(b, &out)
	return status, out
}

func id(out map[string]interface{}, key string) int {
	return int(out[key].(float64))
}

func TestLoanFlowOverHTTP(t *testing.T) {
	h := newHarness(t, paypal.Config{})

	status, material := h.call(t, "POST", "/api/materials", `{"name":"Multimeter","quantity":5}`)
	require.Equal(t, fiber.StatusCreated, status)
	status, user := h.call(t, "POST", "/api/users", `{"name":"Ana","role":"student"}`)
	require.Equal(t, fiber.StatusCreated, status)

	loanBody := fmt.Sprintf(`{"user_id":%d,"material_id":%d,"quantity":3}`, id(user, "id"), id(material, "id"))
	status, created := h.call(t, "POST", "/api/loans", loanBody)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "Active", created["status"])

	status, out := h.call(t, "POST", "/api/loans", loanBody)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, "insufficient_stock", out["code"])

	returnPath := fmt.Sprintf("/api/loans/%d/return", id(created, "id"))
	status, _ = h.call(t, "POST", returnPath, `{"notes":"ok"}`)
	assert.Equal(t, fiber.StatusOK, status)
	status, out = h.call(t, "POST", returnPath, "")
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "already_returned", out["code"])

	status, out = h.call(t, "GET", fmt.Sprintf("/api/materials/%d", id(material, "id")), "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 5, id(out, "quantity"))

	status, out = h.call(t, "POST", "/api/loans", fmt.Sprintf(`{"user_id":%d,"material_id":%d,"quantity":0}`, id(user, "id"), id(material, "id")))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_quantity", out["code"])

	status, out = h.call(t, "POST", "/api/loans/999/return", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "loan_not_found", out["code"])

	status, body := h.raw(t, "GET", "/api/loans?status=Returned", "")
	require.Equal(t, fiber.StatusOK, status)
	var loans []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &loans))
	require.Len(t, loans, 1)
	assert.Equal(t, "Ana", loans[0]["user_name"])

	status, body = h.raw(t, "GET", "/api/audit-logs?entity_type=loan", "")
	require.Equal(t, fiber.StatusOK, status)
	var logs []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &logs))
	require.Len(t, logs, 2)
	assert.Equal(t, "Root", logs[0]["operator_name"])
}

func TestPaymentFlowOverHTTP(t *testing.T) {
	srv := paypalStub(t)
	h := newHarness(t, paypal.Config{ClientID: "id", ClientSecret: "secret", BaseURL: srv.URL, Timeout: 2 * time.Second})

	_, user := h.call(t, "POST", "/api/users", `{"name":"Luis","role":"student"}`)

	status, created := h.call(t, "POST", "/api/payments/orders", fmt.Sprintf(`{"user_id":%d,"reason":"late","amount":"150"}`, id(user, "id")))
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "ORDER-1", created["external_order_id"])
	assert.Equal(t, "PENDING", created["status"])
	assert.Equal(t, "150.00", created["amount"])

	status, out := h.call(t, "POST", "/api/payments/orders/ORDER-1/capture", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, out["recorded"])
	assert.Equal(t, "CAP-ORDER-1", out["capture_id"])

	status, out = h.call(t, "POST", "/api/payments/orders/ORDER-404/capture", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, out["recorded"])
	assert.Nil(t, out["payment_id"])

	status, out = h.call(t, "POST", "/api/payments/orders/ORDER-404/reconcile", "")
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, "gateway_rejected", out["code"])
	assert.Equal(t, "order not found", out["error"])

	status, out = h.call(t, "POST", "/api/payments/orders", fmt.Sprintf(`{"user_id":%d,"reason":"rude","amount":10}`, id(user, "id")))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_reason", out["code"])

	status, body := h.raw(t, "GET", "/api/payments", "")
	require.Equal(t, fiber.StatusOK, status)
	var payments []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &payments))
	require.Len(t, payments, 1)
	assert.Equal(t, "PAID", payments[0]["status"])
	assert.Equal(t, "Luis", payments[0]["user_name"])
}

func TestPaymentsWithoutPayPalCredentials(t *testing.T) {
	h := newHarness(t, paypal.Config{})

	status, out := h.call(t, "POST", "/api/payments/orders", `{"user_id":1,"reason":"late","amount":10}`)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "paypal_not_configured", out["code"])
	assert.Equal(t, "PayPal is not configured", out["error"])
}

func TestAuthAndOperationalEndpoints(t *testing.T) {
	h := newHarness(t, paypal.Config{})

	token := h.token
	h.token = ""
	status, out := h.call(t, "GET", "/api/loans", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", out["code"])
	assert.Equal(t, false, out["ok"])

	status, out = h.call(t, "GET", "/healthz", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, false, out["paypal_configured"])

	h.token = token
	_, _ = h.call(t, "POST", "/api/materials", `{"name":"Probe","quantity":1}`)
	status, body := h.raw(t, "GET", "/metrics", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(body), "labdesk_loans_created_total")

	status, out = h.call(t, "GET", "/api/payments/config", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, out["configured"])

	status, out = h.call(t, "GET", "/api/dashboard/activity?period=monthly&count=2", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "monthly", out["period"])
	status, _ = h.call(t, "GET", "/api/dashboard/activity?period=hourly", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, out = h.call(t, "GET", "/api/nope", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "not_found", out["code"])
}
