package app

import (
	"strings"
	"time"

	"github.com/cgmelamed/whydatawhy/app/models"
	"github.com/cgmelamed/whydatawhy/auth"
)

// emailFromClaims prefers the typed claim and falls back to the raw payload.
func emailFromClaims(claims *auth.Claims) string {
	if claims == nil {
		return ""
	}
	if claims.Email != "" {
		return claims.Email
	}
	return readStringClaim(claims.Raw, "email")
}

func readStringClaim(raw map[string]any, key string) string {
	if raw == nil {
		return ""
	}
	val, ok := raw[key]
	if !ok {
		return ""
	}
	if s, ok := val.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func accountView(u models.User, now time.Time) models.AccountView {
	d := decide(u, now)
	view := models.AccountView{
		Email:           u.Email.String,
		Plan:            u.Plan(now),
		IsPro:           d.IsPro,
		FreeQueriesUsed: u.FreeQueriesUsed,
		TotalQueries:    u.TotalQueries,
		Limit:           FreeQueryLimit,
		Remaining:       d.Remaining,
	}
	if u.StripeCurrentPeriodEnd.Valid {
		end := u.StripeCurrentPeriodEnd.Time
		view.CurrentPeriodEnd = &end
	}
	return view
}
