// Package models defines accounts, query records and API payloads.
package models

import (
	"database/sql"
	"time"
)

type Plan string

const (
	PlanFree Plan = "FREE"
	PlanPro  Plan = "PRO"
)

// User is an account row. Subscription fields are written only by the
// billing webhook.
type User struct {
	ID                     string         `db:"id"`
	AuthSub                string         `db:"auth_sub"`
	Email                  sql.NullString `db:"email"`
	StripeCustomerID       sql.NullString `db:"stripe_customer_id"`
	StripeSubscriptionID   sql.NullString `db:"stripe_subscription_id"`
	StripePriceID          sql.NullString `db:"stripe_price_id"`
	StripeCurrentPeriodEnd sql.NullTime   `db:"stripe_current_period_end"`
	FreeQueriesUsed        int            `db:"free_queries_used"`
	TotalQueries           int            `db:"total_queries"`
	CreatedAt              time.Time      `db:"created_at"`
}

// IsPro reports whether the account has a subscription whose current period
// ends after now.
func (u User) IsPro(now time.Time) bool {
	return u.StripeSubscriptionID.Valid &&
		u.StripeSubscriptionID.String != "" &&
		u.StripeCurrentPeriodEnd.Valid &&
		u.StripeCurrentPeriodEnd.Time.After(now)
}

func (u User) Plan(now time.Time) Plan {
	if u.IsPro(now) {
		return PlanPro
	}
	return PlanFree
}

// Subscription is the billing state copied onto an account from the
// payment processor.
type Subscription struct {
	ID               string
	PriceID          sql.NullString
	CurrentPeriodEnd time.Time
}
