package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = int64(65536)

// CreateCheckoutSession starts a Pro subscription checkout for the caller.
func (s *Server) CreateCheckoutSession(c *gin.Context) {
	logger := requestLogger(c, s.logger)
	user, ok := s.loadAccount(c)
	if !ok {
		return
	}
	if s.billing == nil || !s.cfg.Stripe.BillingConfigured() {
		logger.Warn("checkout requested but billing is not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	ctx := c.Request.Context()
	customerID, err := s.ensureStripeCustomer(ctx, user)
	if err != nil {
		logger.Error("ensure stripe customer failed", zap.String("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare billing"})
		return
	}

	frontendURL := strings.TrimRight(s.cfg.Stripe.FrontendURL, "/")
	url, err := s.billing.CreateCheckoutSession(ctx,
		customerID,
		s.cfg.Stripe.PriceIDPro,
		frontendURL+"/billing/success",
		frontendURL+"/billing/cancel",
	)
	if err != nil {
		logger.Error("stripe checkout session failed", zap.String("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// CreatePortalSession opens the Stripe customer portal for the caller.
func (s *Server) CreatePortalSession(c *gin.Context) {
	logger := requestLogger(c, s.logger)
	user, ok := s.loadAccount(c)
	if !ok {
		return
	}
	if s.billing == nil || !s.cfg.Stripe.BillingConfigured() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}
	if !user.StripeCustomerID.Valid || user.StripeCustomerID.String == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stripe customer missing for user"})
		return
	}

	frontendURL := strings.TrimRight(s.cfg.Stripe.FrontendURL, "/")
	url, err := s.billing.CreatePortalSession(c.Request.Context(), user.StripeCustomerID.String, frontendURL+"/settings/billing")
	if err != nil {
		logger.Error("stripe portal session failed", zap.String("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create portal session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// StripeWebhook verifies a Stripe event and copies subscription state onto
// the matching account.
func (s *Server) StripeWebhook(c *gin.Context) {
	logger := requestLogger(c, s.logger)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		logger.Warn("stripe webhook read failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	endpointSecret := s.cfg.Stripe.WebhookSecret
	if endpointSecret == "" {
		logger.Error("stripe webhook secret missing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		body,
		c.GetHeader("Stripe-Signature"),
		endpointSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		webhookEventsTotal.WithLabelValues("unverified", "invalid_signature").Inc()
		logger.Warn("stripe webhook signature failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	eventType := string(event.Type)
	logger = logger.With(zap.String("event_id", event.ID), zap.String("event_type", eventType))

	handled, err := s.reconcile(c.Request.Context(), logger, event)
	if err != nil {
		webhookEventsTotal.WithLabelValues(eventType, "error").Inc()
		logger.Error("stripe webhook handler failed", zap.Error(err))
		reportError(c.Request.Context(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook handler failed"})
		return
	}
	if handled {
		webhookEventsTotal.WithLabelValues(eventType, "ok").Inc()
	} else {
		webhookEventsTotal.WithLabelValues(eventType, "ignored").Inc()
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// reconcile applies one verified event. It reports false for event types it
// does not act on.
func (s *Server) reconcile(ctx context.Context, logger *zap.Logger, event stripe.Event) (bool, error) {
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return true, fmt.Errorf("decode checkout session: %w", err)
		}
		if sess.Customer == nil || sess.Customer.ID == "" {
			return true, errors.New("checkout session has no customer")
		}
		if sess.Subscription == nil || sess.Subscription.ID == "" {
			logger.Info("checkout session without subscription", zap.String("customer_id", sess.Customer.ID))
			return true, nil
		}
		if s.billing == nil {
			return true, errBillingNotConfigured
		}
		sub, err := s.billing.GetSubscription(ctx, sess.Subscription.ID)
		if err != nil {
			return true, err
		}
		if err := s.store.UpdateSubscriptionByCustomer(ctx, sess.Customer.ID, sub); err != nil {
			return true, fmt.Errorf("update customer %s: %w", sess.Customer.ID, err)
		}
		logger.Info("subscription activated",
			zap.String("customer_id", sess.Customer.ID),
			zap.String("subscription_id", sub.ID),
			zap.Time("current_period_end", sub.CurrentPeriodEnd),
		)
		return true, nil

	case "customer.subscription.updated", "customer.subscription.deleted":
		var raw stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &raw); err != nil {
			return true, fmt.Errorf("decode subscription: %w", err)
		}
		if raw.ID == "" {
			return true, errors.New("subscription event has no id")
		}
		sub := subscriptionFromStripe(&raw)
		if err := s.store.UpdateSubscriptionByID(ctx, sub); err != nil {
			return true, fmt.Errorf("update subscription %s: %w", sub.ID, err)
		}
		logger.Info("subscription updated",
			zap.String("subscription_id", sub.ID),
			zap.String("status", string(raw.Status)),
			zap.Time("current_period_end", sub.CurrentPeriodEnd),
		)
		return true, nil
	}
	return false, nil
}
