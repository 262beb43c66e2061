// Package payments is the read-only payment-method registry consulted at
// ride-creation time. The selected method is stored as an opaque id.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

var ErrUnknownMethod = errors.New("unknown payment method")

// Registry lists a passenger's payment methods.
type Registry interface {
	List(ctx context.Context, passengerID string) ([]PaymentMethod, error)
}

// Resolve checks that id is one of the passenger's methods. An empty id
// selects cash.
func Resolve(ctx context.Context, r Registry, passengerID, id string) (PaymentMethod, error) {
	if id == "" {
		id = Cash.ID
	}
	methods, err := r.List(ctx, passengerID)
	if err != nil {
		return PaymentMethod{}, fmt.Errorf("list payment methods: %w", err)
	}
	for _, m := range methods {
		if m.ID == id {
			return m, nil
		}
	}
	return PaymentMethod{}, fmt.Errorf("%w: %s", ErrUnknownMethod, id)
}

// StripeRegistry lists the cards saved on the passenger's Stripe customer.
// Customers maps passenger ids to Stripe customer ids.
type StripeRegistry struct {
	api       *client.API
	Customers func(passengerID string) (string, bool)
}

func NewStripeRegistry(apiKey string, customers func(string) (string, bool)) *StripeRegistry {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeRegistry{api: api, Customers: customers}
}

func (s *StripeRegistry) List(ctx context.Context, passengerID string) ([]PaymentMethod, error) {
	out := []PaymentMethod{Cash}
	customerID, ok := s.Customers(passengerID)
	if !ok {
		return out, nil
	}
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Context = ctx
	it := s.api.PaymentMethods.List(params)
	for it.Next() {
		pm := it.PaymentMethod()
		out = append(out, cardMethod(pm))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("stripe list payment methods: %w", err)
	}
	return out, nil
}

func cardMethod(pm *stripe.PaymentMethod) PaymentMethod {
	label := "Card"
	if pm.Card != nil {
		label = fmt.Sprintf("%s •••• %s", strings.ToUpper(string(pm.Card.Brand)), pm.Card.Last4)
	}
	return PaymentMethod{ID: pm.ID, Kind: "card", Label: label}
}
