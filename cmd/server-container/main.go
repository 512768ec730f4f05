package main

import (
	"context"
	"log"
	"time"

	"github.com/cgmelamed/whydatawhy/app"
	"github.com/cgmelamed/whydatawhy/app/config"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const defaultFlushTimeout = 2 * time.Second

var ginLambda *ginadapter.GinLambda

// init runs once per Lambda container (cold start)
func init() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Logs)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	if _, err := app.InitSentry(cfg); err != nil {
		logger.Warn("sentry initialization failed", zap.Error(err))
	}

	// the connection pool lives for the container, so cleanup is never run
	srv, _, err := app.Bootstrap(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize server", zap.Error(err))
	}

	router, err := app.NewRouter(srv)
	if err != nil {
		logger.Fatal("failed to initialize router", zap.Error(err))
	}

	// Wrap Gin router with Lambda adapter
	ginLambda = ginadapter.New(router)
}

// Handler is the Lambda entrypoint for API Gateway REST/HTTP API (proxy integration)
func Handler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	defer sentry.Flush(defaultFlushTimeout)
	return ginLambda.ProxyWithContext(ctx, req)
}

func main() {
	lambda.Start(Handler)
}
