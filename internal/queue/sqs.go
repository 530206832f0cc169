package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSService implements Service on top of AWS SQS.
type SQSService struct {
	client *sqs.Client
	logger *slog.Logger
}

var _ Service = (*SQSService)(nil)

// NewSQSService creates an SQS-backed queue service.
func NewSQSService(cfg aws.Config, logger *slog.Logger) *SQSService {
	return &SQSService{
		client: sqs.NewFromConfig(cfg),
		logger: logger,
	}
}

// Resolve looks up the queue URL for name.
func (s *SQSService) Resolve(ctx context.Context, name string) (Handle, error) {
	out, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		var notFound *types.QueueDoesNotExist
		if errors.As(err, &notFound) {
			return Handle{}, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
		}
		return Handle{}, fmt.Errorf("resolve queue %s: %w", name, err)
	}

	s.logger.Debug("queue resolved", "name", name, "url", *out.QueueUrl)
	return Handle{Name: name, URL: *out.QueueUrl}, nil
}

// Submit sends one message to the queue.
func (s *SQSService) Submit(ctx context.Context, h Handle, body string, attrs map[string]string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(h.URL),
		MessageBody: aws.String(body),
	}
	if len(attrs) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attrs))
		for k, v := range attrs {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}

	if _, err := s.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("submit to %s: %w", h.Name, err)
	}
	return nil
}
