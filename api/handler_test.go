package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tally "github.com/otimizaads/tally"
	"github.com/otimizaads/tally/api"
	"github.com/otimizaads/tally/plan"
	"github.com/otimizaads/tally/plugin"
	"github.com/otimizaads/tally/provider"
	"github.com/otimizaads/tally/reconciler"
	"github.com/otimizaads/tally/store/memory"
)

type testEnv struct {
	core *tally.Core
	mock *provider.Mock
	mux  *http.ServeMux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := memory.New()
	mock := provider.NewMock()
	core := tally.New(st, tally.WithFreePlan("free"), tally.WithProvider(mock))
	require.NoError(t, core.Start(context.Background()))
	t.Cleanup(func() { _ = core.Stop() })

	rec := reconciler.New(st, mock, plugin.NewRegistry())
	mux := http.NewServeMux()
	api.NewHandler(core, rec, nil).RegisterRoutes(mux)

	require.NoError(t, core.CreatePlan(context.Background(), &plan.Plan{
		Name: "Free",
		Slug: "free",
		Features: map[plan.FeatureKey]int64{
			plan.FeatureGenerations: 5,
		},
	}))

	return &testEnv{core: core, mock: mock, mux: mux}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&out))
	return out
}

func TestCheckEntitlement(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/entitlements/check",
		`{"user_id":"user_1","feature":"generations"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	assert.Equal(t, true, out["can_use"])
	assert.Equal(t, float64(5), out["limit"])
}

func TestCheckEntitlementUnknownFeatureDenies(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/entitlements/check",
		`{"user_id":"user_1","feature":"ai_credits"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	assert.Equal(t, false, out["can_use"])
	assert.Equal(t, float64(0), out["limit"])
}

func TestRecordUsageDefaultsQuantity(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/usage",
		`{"user_id":"user_1","feature":"generations"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = env.do(t, http.MethodPost, "/api/usage",
		`{"user_id":"user_1","feature":"generations","quantity":3}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4), decode(t, w)["count"])
}

func TestGetUsage(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/usage",
		`{"user_id":"user_1","feature":"generations","quantity":2}`, nil)

	w := env.do(t, http.MethodGet, "/api/usage?user_id=user_1&feature=generations", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["used"])

	w = env.do(t, http.MethodGet, "/api/usage?user_id=user_1", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPlans(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/plans", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])
}

func TestCreateCheckout(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/billing/checkout",
		`{"user_id":"user_1","price_id":"price_basic"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["url"])

	w = env.do(t, http.MethodPost, "/api/billing/checkout", `{"user_id":"user_1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReceiveWebhook(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now().UTC()
	env.mock.Events["sig_good"] = &provider.Event{
		ID:         "evt_1",
		Type:       provider.EventSubscriptionUpdated,
		OccurredAt: now,
		Snapshot: &provider.Snapshot{
			ProviderSubID:      "sub_1",
			ProviderCustomerID: "cus_1",
			UserID:             "user_1",
			PlanSlug:           "free",
			Status:             "active",
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   now.AddDate(0, 1, 0),
			UpdatedAt:          now,
		},
	}

	header := http.Header{"Stripe-Signature": []string{"sig_good"}}
	w := env.do(t, http.MethodPost, "/api/webhooks/billing", `{"id":"evt_1"}`, header)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	assert.Equal(t, true, out["received"])
	assert.Equal(t, "evt_1", out["event_id"])
}

func TestReceiveWebhookBadSignature(t *testing.T) {
	env := newTestEnv(t)

	header := http.Header{"Stripe-Signature": []string{"sig_forged"}}
	w := env.do(t, http.MethodPost, "/api/webhooks/billing", `{}`, header)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookRouteAbsentWithoutReconciler(t *testing.T) {
	st := memory.New()
	core := tally.New(st)
	require.NoError(t, core.Start(context.Background()))
	t.Cleanup(func() { _ = core.Stop() })

	mux := http.NewServeMux()
	api.NewHandler(core, nil, nil).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/billing", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
