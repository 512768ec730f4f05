package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cgmelamed/whydatawhy/app/models"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

var errBillingNotConfigured = errors.New("billing not configured")

// SubscriptionFetcher loads a subscription from the payment processor.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, id string) (models.Subscription, error)
}

// BillingClient is the slice of the Stripe API the billing routes use.
type BillingClient interface {
	SubscriptionFetcher
	CreateCustomer(ctx context.Context, user models.User) (string, error)
	CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// StripeBilling implements BillingClient with a per-process Stripe client
// instead of the package-level key.
type StripeBilling struct {
	api *client.API
}

func NewStripeBilling(secretKey string) *StripeBilling {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeBilling{api: sc}
}

func (b *StripeBilling) GetSubscription(ctx context.Context, id string) (models.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := b.api.Subscriptions.Get(id, params)
	if err != nil {
		return models.Subscription{}, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return subscriptionFromStripe(sub), nil
}

// CreateCustomer creates a customer tagged with the account id and subject.
func (b *StripeBilling) CreateCustomer(ctx context.Context, user models.User) (string, error) {
	params := &stripe.CustomerParams{
		Metadata: map[string]string{
			"user_id":  user.ID,
			"auth_sub": user.AuthSub,
		},
	}
	if user.Email.Valid && user.Email.String != "" {
		params.Email = stripe.String(user.Email.String)
	}
	params.Context = ctx
	cust, err := b.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cust.ID, nil
}

func (b *StripeBilling) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.Context = ctx
	sess, err := b.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (b *StripeBilling) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := b.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

// subscriptionFromStripe keeps the first item's price and the current period end.
func subscriptionFromStripe(sub *stripe.Subscription) models.Subscription {
	out := models.Subscription{ID: sub.ID}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		if item := sub.Items.Data[0]; item != nil && item.Price != nil && item.Price.ID != "" {
			out.PriceID = sql.NullString{String: item.Price.ID, Valid: true}
		}
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	return out
}

// ensureStripeCustomer returns the account's Stripe customer, creating and
// storing one on first use.
func (s *Server) ensureStripeCustomer(ctx context.Context, user models.User) (string, error) {
	if user.StripeCustomerID.Valid && user.StripeCustomerID.String != "" {
		return user.StripeCustomerID.String, nil
	}
	if s.billing == nil {
		return "", errBillingNotConfigured
	}
	customerID, err := s.billing.CreateCustomer(ctx, user)
	if err != nil {
		return "", err
	}
	if err := s.store.SetStripeCustomerID(ctx, user.ID, customerID); err != nil {
		return "", fmt.Errorf("store customer id: %w", err)
	}
	return customerID, nil
}
