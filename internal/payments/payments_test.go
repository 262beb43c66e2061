package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

func TestStaticRegistry_AlwaysListsCash(t *testing.T) {
	r := NewStaticRegistry()
	got, err := r.List(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []PaymentMethod{Cash}, got)

	r.Add("p1", PaymentMethod{ID: "pm_1", Kind: "card", Label: "VISA •••• 4242"})
	got, err = r.List(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pm_1", got[1].ID)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	r := NewStaticRegistry()
	r.Add("p1", PaymentMethod{ID: "pm_1", Kind: "card"})

	m, err := Resolve(ctx, r, "p1", "")
	require.NoError(t, err)
	assert.Equal(t, Cash, m)

	m, err = Resolve(ctx, r, "p1", "pm_1")
	require.NoError(t, err)
	assert.Equal(t, "card", m.Kind)

	_, err = Resolve(ctx, r, "p2", "pm_1")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func stripeRegistryAt(url string, customers map[string]string) *StripeRegistry {
	api := &client.API{}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(url),
		MaxNetworkRetries: stripe.Int64(0),
	})
	api.Init("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &StripeRegistry{api: api, Customers: func(pid string) (string, bool) {
		c, ok := customers[pid]
		return c, ok
	}}
}

func TestStripeRegistry_ListsCards(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_methods", r.URL.Path)
		assert.Equal(t, "cus_1", r.URL.Query().Get("customer"))
		assert.Equal(t, "card", r.URL.Query().Get("type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","url":"/v1/payment_methods","has_more":false,"data":[
			{"id":"pm_1","object":"payment_method","type":"card","card":{"brand":"visa","last4":"4242"}}]}`))
	}))
	defer srv.Close()

	reg := stripeRegistryAt(srv.URL, map[string]string{"p1": "cus_1"})
	got, err := reg.List(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Cash, got[0])
	assert.Equal(t, PaymentMethod{ID: "pm_1", Kind: "card", Label: "VISA •••• 4242"}, got[1])
}

func TestStripeRegistry_NoCustomerIsCashOnly(t *testing.T) {
	reg := stripeRegistryAt("http://127.0.0.1:1", nil)
	got, err := reg.List(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []PaymentMethod{Cash}, got)
}

func TestStripeRegistry_ErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad key"}}`))
	}))
	defer srv.Close()

	reg := stripeRegistryAt(srv.URL, map[string]string{"p1": "cus_1"})
	_, err := reg.List(context.Background(), "p1")
	assert.Error(t, err)
}
