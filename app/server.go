// Package app holds the HTTP handlers, persistence and billing glue of the
// analysis API.
package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/cgmelamed/whydatawhy/app/config"
	"github.com/cgmelamed/whydatawhy/app/llm"
	"github.com/cgmelamed/whydatawhy/app/models"
	"github.com/cgmelamed/whydatawhy/auth"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// AccountStore is the persistence the handlers need.
type AccountStore interface {
	Ping(ctx context.Context) error
	GetUserByID(ctx context.Context, id string) (models.User, error)
	GetUserBySub(ctx context.Context, sub string) (models.User, error)
	UpsertUser(ctx context.Context, sub, email string) (models.User, error)
	IncrementUsage(ctx context.Context, userID string, pro bool) error
	InsertQuery(ctx context.Context, userID, question string, dataInfo sql.NullString) error
	UpdateSubscriptionByCustomer(ctx context.Context, customerID string, sub models.Subscription) error
	UpdateSubscriptionByID(ctx context.Context, sub models.Subscription) error
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
}

// Deps are the process-lifetime clients a Server is built from. Limiter,
// Billing and Verifier may be nil.
type Deps struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    AccountStore
	LLM      llm.Client
	Billing  BillingClient
	Events   Publisher
	Limiter  *FixedWindowLimiter
	Verifier *auth.Verifier
}

type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    AccountStore
	gate     *UsageGate
	llm      llm.Client
	billing  BillingClient
	events   Publisher
	limiter  *FixedWindowLimiter
	verifier *auth.Verifier
	now      func() time.Time
}

func NewServer(d Deps) *Server {
	cfg := d.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	model := d.LLM
	if model == nil {
		model = llm.Unconfigured()
	}
	events := d.Events
	if events == nil {
		events = NewEventLog(logger, nil, "", cfg.Server.Environment)
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		store:    d.Store,
		gate:     NewUsageGate(d.Store),
		llm:      model,
		billing:  d.Billing,
		events:   events,
		limiter:  d.Limiter,
		verifier: d.Verifier,
		now:      time.Now,
	}
}

// publish sends an analytics event and only logs a failure.
func (s *Server) publish(ctx context.Context, event models.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", zap.String("event", event.Name), zap.Error(err))
	}
}

// reportError forwards err to Sentry using the request hub when present.
func reportError(ctx context.Context, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}
