package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cgmelamed/whydatawhy/app/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Publisher emits analytics events.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EventLog writes every event as a structured log line and, when a queue is
// configured, forwards it to SQS.
type EventLog struct {
	logger      *zap.Logger
	sender      sqsSender
	queueURL    string
	environment string
	now         func() time.Time
}

func NewEventLog(logger *zap.Logger, sender sqsSender, queueURL, environment string) *EventLog {
	return &EventLog{
		logger:      logger,
		sender:      sender,
		queueURL:    queueURL,
		environment: environment,
		now:         time.Now,
	}
}

// NewSQSEventLog loads the default AWS configuration and returns a publisher
// for queueURL. An empty queueURL yields a log-only publisher.
func NewSQSEventLog(ctx context.Context, logger *zap.Logger, queueURL, environment string) (*EventLog, error) {
	if queueURL == "" {
		return NewEventLog(logger, nil, "", environment), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SQS: %w", err)
	}
	return NewEventLog(logger, sqs.NewFromConfig(awsCfg), queueURL, environment), nil
}

func (p *EventLog) Publish(ctx context.Context, event models.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}
	if event.UserID == "" {
		event.UserID = "anonymous"
	}
	if event.Environment == "" {
		event.Environment = p.environment
	}

	p.logger.Info("api event",
		zap.String("event", event.Name),
		zap.String("user_id", event.UserID),
		zap.Any("properties", event.Properties),
	)

	if p.sender == nil || p.queueURL == "" {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = p.sender.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send event %s: %w", event.Name, err)
	}
	return nil
}
