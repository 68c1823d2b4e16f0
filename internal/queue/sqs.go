package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"gradi/internal/logging"
	"gradi/internal/services"
)

const (
	defaultGroupID          = "default"
	dlqRetentionSeconds     = 1209600
	dlqVisibilityTimeoutSec = 300
)

// ErrPurgeInProgress is returned when SQS rejects a purge issued within 60s
// of the previous one.
var ErrPurgeInProgress = errors.New("purge already in progress")

// SQSAPI is the subset of the SDK client used by the SQS backend.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	SetQueueAttributes(ctx context.Context, in *sqs.SetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error)
	CreateQueue(ctx context.Context, in *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	PurgeQueue(ctx context.Context, in *sqs.PurgeQueueInput, optFns ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error)
}

// SQS is one queue URL on an SQS client.
type SQS struct {
	client SQSAPI
	url    string
	fifo   bool
	logger *slog.Logger
}

// NewSQS binds url on client.
func NewSQS(client SQSAPI, url string, logger *slog.Logger) *SQS {
	return &SQS{
		client: client,
		url:    url,
		fifo:   IsFIFO(url),
		logger: logging.NewComponentLogger(logger, "queue"),
	}
}

// URL returns the queue URL.
func (q *SQS) URL() string { return q.url }

func (q *SQS) Name() string { return QueueName(q.url) }

func (q *SQS) FIFO() bool { return q.fifo }

func (q *SQS) Send(ctx context.Context, body []byte, opts SendOptions) error {
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
	}
	if q.fifo {
		group := opts.GroupID
		if group == "" {
			group = defaultGroupID
		}
		dedup := opts.DeduplicationID
		if dedup == "" {
			dedup = uuid.NewString()
		}
		in.MessageGroupId = aws.String(group)
		in.MessageDeduplicationId = aws.String(dedup)
	}
	out, err := q.client.SendMessage(ctx, in)
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", "send", q.Name(), err)
	}
	q.logger.Debug("message sent",
		logging.String(logging.FieldMessageID, aws.ToString(out.MessageId)),
		logging.String("queue", q.Name()),
	)
	return nil
}

func (q *SQS) Receive(ctx context.Context, opts ReceiveOptions) ([]Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: int32(min(max(opts.MaxMessages, 1), 10)),
		WaitTimeSeconds:     int32(opts.Wait / time.Second),
		VisibilityTimeout:   int32(opts.Visibility / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameMessageGroupId,
			types.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrTransient, "queue", "receive", q.Name(), err)
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := Message{
			ID:            aws.ToString(m.MessageId),
			Body:          []byte(aws.ToString(m.Body)),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			GroupID:       m.Attributes[string(types.MessageSystemAttributeNameMessageGroupId)],
		}
		if n, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
			msg.ReceiveCount = n
		}
		if ms, err := strconv.ParseInt(m.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)], 10, 64); err == nil {
			msg.SentAt = time.UnixMilli(ms)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (q *SQS) Delete(ctx context.Context, msg Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", "delete", msg.ID, err)
	}
	return nil
}

func (q *SQS) attributes(ctx context.Context, names ...types.QueueAttributeName) (map[string]string, error) {
	if len(names) == 0 {
		names = []types.QueueAttributeName{types.QueueAttributeNameAll}
	}
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.url),
		AttributeNames: names,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "attributes", q.Name(), err)
	}
	return out.Attributes, nil
}

func (q *SQS) Stats(ctx context.Context) (Stats, error) {
	attrs, err := q.attributes(ctx)
	if err != nil {
		return Stats{}, err
	}
	parse := func(name types.QueueAttributeName) int64 {
		n, _ := strconv.ParseInt(attrs[string(name)], 10, 64)
		return n
	}
	stats := Stats{
		Visible:  parse(types.QueueAttributeNameApproximateNumberOfMessages),
		InFlight: parse(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible),
		Delayed:  parse(types.QueueAttributeNameApproximateNumberOfMessagesDelayed),
	}
	if ts := parse(types.QueueAttributeNameCreatedTimestamp); ts > 0 {
		stats.CreatedAt = time.Unix(ts, 0)
	}
	if ts := parse(types.QueueAttributeNameLastModifiedTimestamp); ts > 0 {
		stats.ModifiedAt = time.Unix(ts, 0)
	}
	return stats, nil
}

func (q *SQS) Purge(ctx context.Context) error {
	_, err := q.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: aws.String(q.url)})
	if err != nil {
		var inProgress *types.PurgeQueueInProgress
		if errors.As(err, &inProgress) {
			return fmt.Errorf("%w: %s", ErrPurgeInProgress, q.Name())
		}
		return services.Wrap(services.ErrTransient, "queue", "purge", q.Name(), err)
	}
	return nil
}

// ARN returns the queue ARN.
func (q *SQS) ARN(ctx context.Context) (string, error) {
	attrs, err := q.attributes(ctx, types.QueueAttributeNameQueueArn)
	if err != nil {
		return "", err
	}
	arn := attrs[string(types.QueueAttributeNameQueueArn)]
	if arn == "" {
		return "", services.Wrap(services.ErrNotFound, "queue", "attributes", "queue has no ARN", nil)
	}
	return arn, nil
}

// RedrivePolicy returns the configured dead-letter ARN and receive budget, if any.
func (q *SQS) RedrivePolicy(ctx context.Context) (string, int, error) {
	attrs, err := q.attributes(ctx, types.QueueAttributeNameRedrivePolicy)
	if err != nil {
		return "", 0, err
	}
	raw := attrs[string(types.QueueAttributeNameRedrivePolicy)]
	if raw == "" {
		return "", 0, nil
	}
	var policy struct {
		DeadLetterTargetArn string      `json:"deadLetterTargetArn"`
		MaxReceiveCount     json.Number `json:"maxReceiveCount"`
	}
	if err := json.Unmarshal([]byte(raw), &policy); err != nil {
		return "", 0, fmt.Errorf("decode redrive policy: %w", err)
	}
	n, _ := policy.MaxReceiveCount.Int64()
	return policy.DeadLetterTargetArn, int(n), nil
}

// EnsureDeadLetter creates dlqName (idempotent in SQS) with a 14 day retention
// and points this queue's redrive policy at it.
func (q *SQS) EnsureDeadLetter(ctx context.Context, dlqName string, maxReceiveCount int) (string, error) {
	attrs := map[string]string{
		string(types.QueueAttributeNameMessageRetentionPeriod): strconv.Itoa(dlqRetentionSeconds),
		string(types.QueueAttributeNameVisibilityTimeout):      strconv.Itoa(dlqVisibilityTimeoutSec),
	}
	if q.fifo {
		attrs[string(types.QueueAttributeNameFifoQueue)] = "true"
		attrs[string(types.QueueAttributeNameContentBasedDeduplication)] = "false"
	}
	created, err := q.client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(dlqName),
		Attributes: attrs,
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "queue", "create dlq", dlqName, err)
	}
	dlqURL := aws.ToString(created.QueueUrl)

	dlqARN, err := NewSQS(q.client, dlqURL, q.logger).ARN(ctx)
	if err != nil {
		return "", err
	}
	policy, err := json.Marshal(map[string]string{
		"deadLetterTargetArn": dlqARN,
		"maxReceiveCount":     strconv.Itoa(maxReceiveCount),
	})
	if err != nil {
		return "", fmt.Errorf("encode redrive policy: %w", err)
	}
	_, err = q.client.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl:   aws.String(q.url),
		Attributes: map[string]string{string(types.QueueAttributeNameRedrivePolicy): string(policy)},
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "queue", "set redrive policy", q.Name(), err)
	}
	q.logger.Info("dead-letter queue configured",
		logging.String("dlq_url", dlqURL),
		logging.Int("max_receive_count", maxReceiveCount),
	)
	return dlqURL, nil
}
