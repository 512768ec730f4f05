package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cgmelamed/whydatawhy/app/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestEventLogPublishesToQueue(t *testing.T) {
	sender := &fakeSQS{}
	p := NewEventLog(zap.NewNop(), sender, "https://sqs.local/q", "test")
	p.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }

	err := p.Publish(context.Background(), models.Event{
		Name:       models.EventQuestionLogged,
		Properties: map[string]any{"dataSize": 3},
	})
	require.NoError(t, err)
	require.Len(t, sender.inputs, 1)
	assert.Equal(t, "https://sqs.local/q", aws.ToString(sender.inputs[0].QueueUrl))

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(sender.inputs[0].MessageBody)), &got))
	assert.Equal(t, "question_logged", got["event"])
	assert.Equal(t, "anonymous", got["userId"])
	assert.Equal(t, "test", got["environment"])
	assert.Equal(t, "2025-03-04T05:06:07Z", got["timestamp"])
}

func TestEventLogWithoutQueueOnlyLogs(t *testing.T) {
	sender := &fakeSQS{}
	p := NewEventLog(zap.NewNop(), sender, "", "test")
	require.NoError(t, p.Publish(context.Background(), models.Event{Name: models.EventUsageCharged}))
	assert.Empty(t, sender.inputs)
}

func TestEventLogSendError(t *testing.T) {
	sender := &fakeSQS{err: errors.New("throttled")}
	p := NewEventLog(zap.NewNop(), sender, "https://sqs.local/q", "test")
	err := p.Publish(context.Background(), models.Event{Name: models.EventQuestionLogged})
	assert.ErrorContains(t, err, "throttled")
}
