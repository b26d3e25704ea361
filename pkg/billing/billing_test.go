package billing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/platinummonkey/lumen/pkg/observability"
)

func TestQuotaForPrice(t *testing.T) {
	plans := DefaultPlans("price_basic", "price_pro")

	assert.Equal(t, 50, plans.QuotaForPrice("price_basic"))
	assert.Equal(t, 200, plans.QuotaForPrice("price_pro"))
	assert.Equal(t, 50, plans.QuotaForPrice("price_unknown"))
	assert.Equal(t, 50, plans.QuotaForPrice(""))

	assert.Equal(t, PlanPro, plans.NameForPrice("price_pro"))
	assert.Empty(t, plans.NameForPrice("price_unknown"))
}

func TestByPrice_EmptyPriceNeverMatches(t *testing.T) {
	plans := DefaultPlans("", "")
	_, ok := plans.ByPrice("")
	assert.False(t, ok)
}

func TestLoadPlans_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default_quota: 10
plans:
  - name: Pro
    quota: 250
  - name: studio
    price_id: price_studio
    quota: 1000
`), 0o600))

	plans, err := LoadPlans("price_basic", "price_pro", path)
	require.NoError(t, err)

	assert.Equal(t, 250, plans.QuotaForPrice("price_pro"), "file overrides quota, keeps env price")
	assert.Equal(t, 1000, plans.QuotaForPrice("price_studio"))
	assert.Equal(t, 50, plans.QuotaForPrice("price_basic"))
	assert.Equal(t, 10, plans.QuotaForPrice("price_other"))
	assert.Len(t, plans.All(), 3)
}

func TestLoadPlans_Errors(t *testing.T) {
	_, err := LoadPlans("", "", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plans:\n  - quota: 5\n"), 0o600))
	_, err = LoadPlans("", "", path)
	assert.ErrorContains(t, err, "plan name is required")

	require.NoError(t, os.WriteFile(path, []byte("plans:\n  - name: x\n    quota: -1\n"), 0o600))
	_, err = LoadPlans("", "", path)
	assert.ErrorContains(t, err, "must not be negative")
}

type fakeProvider struct {
	configured   bool
	customerID   string
	createErr    error
	sessionErr   error
	created      int
	lastCheckout CheckoutParams
	lastReturn   string
}

func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) CreateCustomer(_ context.Context, email, userID string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	return f.customerID, nil
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, params CheckoutParams) (string, error) {
	f.lastCheckout = params
	if f.sessionErr != nil {
		return "", f.sessionErr
	}
	return "https://checkout.stripe.com/c/pay/cs_1", nil
}

func (f *fakeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	f.lastReturn = returnURL
	if f.sessionErr != nil {
		return "", f.sessionErr
	}
	return "https://billing.stripe.com/p/session/1", nil
}

type fakeCustomers struct {
	byUser   map[string]string
	err      error
	attached map[string]string
}

func (f *fakeCustomers) CustomerID(_ context.Context, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.byUser[userID], nil
}

func (f *fakeCustomers) AttachCustomer(_ context.Context, userID, customerID string) error {
	if f.attached == nil {
		f.attached = map[string]string{}
	}
	f.attached[userID] = customerID
	return nil
}

func newBridge(provider *fakeProvider, customers *fakeCustomers, publicURL string) (*Bridge, *observability.Metrics) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewBridge(provider, customers, DefaultPlans("price_basic", "price_pro"), publicURL, metrics, nil), metrics
}

func TestCheckout_CreatesCustomerOnce(t *testing.T) {
	provider := &fakeProvider{configured: true, customerID: "cus_new"}
	customers := &fakeCustomers{byUser: map[string]string{}}
	bridge, metrics := newBridge(provider, customers, "https://app.example.com/")

	url, err := bridge.Checkout(context.Background(), "user-1", "a@example.com", CheckoutRequest{Plan: "pro"})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", url)

	assert.Equal(t, map[string]string{"user-1": "cus_new"}, customers.attached)
	assert.Equal(t, CheckoutParams{
		CustomerID: "cus_new",
		PriceID:    "price_pro",
		UserID:     "user-1",
		SuccessURL: "https://app.example.com/dashboard",
		CancelURL:  "https://app.example.com/pricing",
	}, provider.lastCheckout)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CheckoutSessionTotal.WithLabelValues("checkout", "success")))

	customers.byUser["user-1"] = "cus_new"
	_, err = bridge.Checkout(context.Background(), "user-1", "a@example.com", CheckoutRequest{PriceID: "price_basic"})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.created)
	assert.Equal(t, "price_basic", provider.lastCheckout.PriceID)
}

func TestCheckout_Errors(t *testing.T) {
	persistenceDown := errors.New("persistence is not configured")

	tests := []struct {
		name      string
		provider  *fakeProvider
		customers *fakeCustomers
		publicURL string
		req       CheckoutRequest
		want      error
	}{
		{"missing price", &fakeProvider{configured: true}, &fakeCustomers{}, "https://x", CheckoutRequest{}, ErrPriceRequired},
		{"unknown price", &fakeProvider{configured: true}, &fakeCustomers{}, "https://x", CheckoutRequest{PriceID: "price_evil"}, ErrUnknownPlan},
		{"unknown plan", &fakeProvider{configured: true}, &fakeCustomers{}, "https://x", CheckoutRequest{Plan: "enterprise"}, ErrUnknownPlan},
		{"no stripe key", &fakeProvider{}, &fakeCustomers{}, "https://x", CheckoutRequest{Plan: "basic"}, ErrBillingNotConfigured},
		{"no public url", &fakeProvider{configured: true}, &fakeCustomers{}, "", CheckoutRequest{Plan: "basic"}, ErrPublicURLNotConfigured},
		{"no persistence", &fakeProvider{configured: true}, &fakeCustomers{err: persistenceDown}, "https://x", CheckoutRequest{Plan: "basic"}, persistenceDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge, _ := newBridge(tt.provider, tt.customers, tt.publicURL)
			_, err := bridge.Checkout(context.Background(), "user-1", "", tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckout_PlanWithoutPrice(t *testing.T) {
	bridge := NewBridge(&fakeProvider{configured: true}, &fakeCustomers{}, DefaultPlans("", ""), "https://x", nil, nil)
	_, err := bridge.Checkout(context.Background(), "user-1", "", CheckoutRequest{Plan: "pro"})
	assert.ErrorIs(t, err, ErrBillingNotConfigured)
}

func TestPortal(t *testing.T) {
	t.Run("existing customer", func(t *testing.T) {
		provider := &fakeProvider{configured: true}
		bridge, _ := newBridge(provider, &fakeCustomers{byUser: map[string]string{"user-1": "cus_1"}}, "https://app.example.com")

		url, err := bridge.Portal(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, "https://billing.stripe.com/p/session/1", url)
		assert.Equal(t, "https://app.example.com/dashboard", provider.lastReturn)
	})

	t.Run("no customer", func(t *testing.T) {
		bridge, _ := newBridge(&fakeProvider{configured: true}, &fakeCustomers{byUser: map[string]string{}}, "https://x")
		_, err := bridge.Portal(context.Background(), "user-1")
		assert.ErrorIs(t, err, ErrNoCustomer)
	})

	t.Run("provider error", func(t *testing.T) {
		provider := &fakeProvider{configured: true, sessionErr: &ProviderError{Message: "No configuration provided"}}
		bridge, metrics := newBridge(provider, &fakeCustomers{byUser: map[string]string{"user-1": "cus_1"}}, "https://x")

		_, err := bridge.Portal(context.Background(), "user-1")
		var perr *ProviderError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "No configuration provided", perr.Message)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CheckoutSessionTotal.WithLabelValues("portal", "error")))
	})
}

func stripeBackends(t *testing.T, handler http.HandlerFunc) *stripe.Backends {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(server.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
}

func TestStripeProvider_CheckoutSession(t *testing.T) {
	backends := stripeBackends(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "subscription", r.PostForm.Get("mode"))
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		assert.Equal(t, "price_pro", r.PostForm.Get("line_items[0][price]"))
		assert.Equal(t, "true", r.PostForm.Get("allow_promotion_codes"))
		assert.Equal(t, "user-1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "price_pro", r.PostForm.Get("metadata[price_id]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`)
	})

	provider := NewStripeProvider("sk_test_123", backends)
	url, err := provider.CreateCheckoutSession(context.Background(), CheckoutParams{
		CustomerID: "cus_1",
		PriceID:    "price_pro",
		UserID:     "user-1",
		SuccessURL: "https://x/dashboard",
		CancelURL:  "https://x/pricing",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", url)
}

func TestStripeProvider_CustomerError(t *testing.T) {
	backends := stripeBackends(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"Invalid email address: nope"}}`)
	})

	provider := NewStripeProvider("sk_test_123", backends)
	_, err := provider.CreateCustomer(context.Background(), "nope", "user-1")

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "Invalid email address: nope", perr.Message)
}

func TestStripeProvider_NotConfigured(t *testing.T) {
	provider := NewStripeProvider("", nil)
	assert.False(t, provider.Configured())

	_, err := provider.CreatePortalSession(context.Background(), "cus_1", "https://x")
	assert.ErrorIs(t, err, ErrBillingNotConfigured)
}
