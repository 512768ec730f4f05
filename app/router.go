package app

import (
	"errors"
	"time"

	"github.com/cgmelamed/whydatawhy/auth"

	"github.com/getsentry/sentry-go"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the shared HTTP router for both local and Lambda execution.
func NewRouter(s *Server) (*gin.Engine, error) {
	if s.verifier == nil && !auth.AuthDisabled() {
		return nil, errors.New("auth verifier is required unless AUTH_DISABLED is set")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(sentryHub())
	router.Use(RequestLogger(s.logger))
	router.Use(Metrics())
	router.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.Server.AllowOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Stripe-Signature"},
		MaxAge:       12 * time.Hour,
	}))

	optional := auth.Middleware(s.verifier, auth.MiddlewareConfig{
		Optional:        true,
		OnAuthenticated: tagSentryUser,
		Logger:          s.logger,
	})
	required := auth.Middleware(s.verifier, auth.MiddlewareConfig{
		OnAuthenticated:     tagSentryUser,
		MissingTokenMessage: "sign in required",
		Logger:              s.logger,
	})
	s.registerRoutes(router, optional, required)

	return router, nil
}

func (s *Server) registerRoutes(router *gin.Engine, optional, required gin.HandlerFunc) {
	router.GET("/health", s.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/api/stripe/webhook", s.StripeWebhook)

	limited := router.Group("/api")
	limited.Use(optional, AnonymousRateLimit(s.limiter, s.logger))
	limited.POST("/analyze", s.Analyze)
	limited.POST("/parse", s.ParseFile)

	// best effort, never throttled
	public := router.Group("/api")
	public.Use(optional)
	public.POST("/log-question", s.LogQuestion)

	protected := router.Group("/api")
	protected.Use(required)
	protected.POST("/analyze-viz", s.AnalyzeViz)
	protected.POST("/auth/sync", s.SyncAccount)
	protected.GET("/me", s.Me)
	protected.POST("/stripe/checkout", s.CreateCheckoutSession)
	protected.POST("/stripe/portal", s.CreatePortalSession)
}

// sentryHub gives each request its own hub unless an outer handler already did.
func sentryHub() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if sentry.GetHubFromContext(ctx) == nil {
			hub := sentry.CurrentHub().Clone()
			c.Request = c.Request.WithContext(sentry.SetHubOnContext(ctx, hub))
		}
		c.Next()
	}
}

func tagSentryUser(c *gin.Context, claims *auth.Claims) error {
	if hub := sentry.GetHubFromContext(c.Request.Context()); hub != nil {
		hub.Scope().SetUser(sentry.User{ID: claims.Subject, Email: claims.Email})
	}
	return nil
}
