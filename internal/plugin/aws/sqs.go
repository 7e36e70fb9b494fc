package aws

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/yairfalse/vigil/internal/plugin"
	"github.com/yairfalse/vigil/telemetry"
)

const (
	sqsWaitSeconds = 20
	sqsBatchSize   = 10
)

// SQSSource long-polls an SQS queue whose message bodies are JSON events.
type SQSSource struct {
	client   SQSAPI
	queueURL string
	backoff  time.Duration
	logger   *telemetry.Logger
}

// NewSQSSource creates an SQS source.
func NewSQSSource(client SQSAPI, queueURL string) *SQSSource {
	return &SQSSource{
		client:   client,
		queueURL: queueURL,
		backoff:  time.Second,
		logger:   telemetry.NewLogger("sqs-source"),
	}
}

// Name implements plugin.Source.
func (s *SQSSource) Name() string { return "sqs" }

// Run implements plugin.Source. Messages are deleted once handled or when
// they fail the event schema; a handler error leaves the message for
// redelivery.
func (s *SQSSource) Run(ctx context.Context, handle plugin.Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.queueURL),
			MaxNumberOfMessages: sqsBatchSize,
			WaitTimeSeconds:     sqsWaitSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WithContext(ctx).Error().Err(err).Str("queue_url", s.queueURL).Msg("failed to receive messages")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.backoff):
				continue
			}
		}

		for _, msg := range out.Messages {
			s.handleMessage(ctx, msg, handle)
		}
	}
}

func (s *SQSSource) handleMessage(ctx context.Context, msg sqstypes.Message, handle plugin.Handler) {
	logger := s.logger.WithContext(ctx)
	id := aws.ToString(msg.MessageId)

	in, err := plugin.Decode([]byte(aws.ToString(msg.Body)))
	if err != nil {
		logger.Warn().Err(err).Str("message_id", id).Msg("dropping invalid event message")
		s.delete(ctx, msg)
		return
	}

	if err := handle(ctx, in); err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Str("message_id", id).Msg("event not accepted, leaving for redelivery")
		}
		return
	}
	s.delete(ctx, msg)
}

func (s *SQSSource) delete(ctx context.Context, msg sqstypes.Message) {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		s.logger.WithContext(ctx).Warn().Err(err).Str("message_id", aws.ToString(msg.MessageId)).Msg("failed to delete message")
	}
}
