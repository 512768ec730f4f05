package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/cgmelamed/whydatawhy/app/config"
	"github.com/cgmelamed/whydatawhy/app/llm"
	"github.com/cgmelamed/whydatawhy/auth"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// InitSentry enables error reporting when a DSN is configured. It reports
// whether Sentry is active.
func InitSentry(cfg *config.Config) (bool, error) {
	if cfg.Sentry.DSN == "" {
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		Environment:      cfg.Server.Environment,
		AttachStacktrace: true,
		TracesSampleRate: 0.2,
	})
	if err != nil {
		return false, fmt.Errorf("init sentry: %w", err)
	}
	return true, nil
}

// Bootstrap connects the process-lifetime clients described by cfg and
// returns a ready Server. The returned cleanup closes them.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, func(), error) {
	db, err := OpenDB(ctx, cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	closers := []func() error{db.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("shutdown: close failed", zap.Error(err))
			}
		}
	}

	if cfg.DB.AutoMigrate {
		if err := Migrate(db, logger); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	verifier, err := newVerifier(cfg.Auth, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var billing BillingClient
	if cfg.Stripe.SecretKey != "" {
		billing = NewStripeBilling(cfg.Stripe.SecretKey)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, billing routes disabled")
	}

	events, err := NewSQSEventLog(ctx, logger, cfg.QueueURL, cfg.Server.Environment)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var limiter *FixedWindowLimiter
	if cfg.Redis.Addr != "" {
		limiter, err = NewFixedWindowLimiter(cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, limiter.Close)
	}

	model := llm.NewClient(cfg.OpenAI)
	if !model.Configured() {
		logger.Warn("OPENAI_API_KEY not set, analysis endpoints return canned responses")
	}

	srv := NewServer(Deps{
		Config:   cfg,
		Logger:   logger,
		Store:    NewStore(db),
		LLM:      model,
		Billing:  billing,
		Events:   events,
		Limiter:  limiter,
		Verifier: verifier,
	})
	return srv, cleanup, nil
}

// newVerifier returns nil only when auth is disabled for local development.
func newVerifier(cfg config.AuthConfig, logger *zap.Logger) (*auth.Verifier, error) {
	if !cfg.Configured() {
		if auth.AuthDisabled() {
			logger.Warn("auth disabled, every request runs as local-dev")
			return nil, nil
		}
		return nil, errors.New("auth verifier: AUTH0_ISSUER and AUTH0_AUDIENCE must be set")
	}
	v, err := auth.NewVerifier(auth.Options{
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		JWKSURL:  cfg.JWKSURL,
		Leeway:   cfg.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("auth verifier: %w", err)
	}
	return v, nil
}
