package app

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cgmelamed/whydatawhy/app/models"
)

const (
	// FreeQueryLimit is the lifetime number of metered queries a Free account gets.
	FreeQueryLimit = 10
	// Unlimited is the Remaining value reported for Pro accounts.
	Unlimited = -1
)

type usageStore interface {
	GetUserByID(ctx context.Context, id string) (models.User, error)
	IncrementUsage(ctx context.Context, userID string, pro bool) error
	InsertQuery(ctx context.Context, userID, question string, dataInfo sql.NullString) error
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool
	Remaining int
	IsPro     bool
}

func (d Decision) Usage() models.UsageInfo {
	return models.UsageInfo{IsPro: d.IsPro, Remaining: d.Remaining, Limit: FreeQueryLimit}
}

// UsageGate decides whether an account may run a metered query and records
// the charge afterwards. Check and Increment are separate round trips, so
// concurrent requests can overshoot the ceiling slightly.
type UsageGate struct {
	store usageStore
	now   func() time.Time
}

func NewUsageGate(store usageStore) *UsageGate {
	return &UsageGate{store: store, now: time.Now}
}

// Check returns ErrAccountNotFound when the account does not exist.
func (g *UsageGate) Check(ctx context.Context, userID string) (Decision, error) {
	user, err := g.store.GetUserByID(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	return decide(user, g.now()), nil
}

func decide(user models.User, now time.Time) Decision {
	if user.IsPro(now) {
		return Decision{Allowed: true, Remaining: Unlimited, IsPro: true}
	}
	remaining := FreeQueryLimit - user.FreeQueriesUsed
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: remaining > 0, Remaining: remaining}
}

// Increment charges one query to the account and appends a query record.
// It returns the decision as it stands after the charge.
func (g *UsageGate) Increment(ctx context.Context, userID, question string) (Decision, error) {
	user, err := g.store.GetUserByID(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	pro := user.IsPro(g.now())
	if err := g.store.IncrementUsage(ctx, userID, pro); err != nil {
		return Decision{}, err
	}

	question = strings.TrimSpace(question)
	if question == "" {
		question = models.DefaultQuestion
	}
	if err := g.store.InsertQuery(ctx, userID, question, sql.NullString{}); err != nil {
		return Decision{}, err
	}

	user.TotalQueries++
	if !pro {
		user.FreeQueriesUsed++
	}
	return decide(user, g.now()), nil
}
