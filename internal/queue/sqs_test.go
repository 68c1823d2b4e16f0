package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"gradi/internal/config"
	"gradi/internal/logging"
)

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	receive  *sqs.ReceiveMessageInput
	deleted  []string
	attrs    map[string]map[string]string
	created  *sqs.CreateQueueInput
	setAttrs *sqs.SetQueueAttributesInput
	purgeErr error
	messages []types.Message
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.receive = in
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) GetQueueAttributes(_ context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return &sqs.GetQueueAttributesOutput{Attributes: f.attrs[aws.ToString(in.QueueUrl)]}, nil
}

func (f *fakeSQS) SetQueueAttributes(_ context.Context, in *sqs.SetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error) {
	f.setAttrs = in
	return &sqs.SetQueueAttributesOutput{}, nil
}

func (f *fakeSQS) CreateQueue(_ context.Context, in *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	f.created = in
	return &sqs.CreateQueueOutput{QueueUrl: aws.String("https://sqs.local/1/" + aws.ToString(in.QueueName))}, nil
}

func (f *fakeSQS) PurgeQueue(context.Context, *sqs.PurgeQueueInput, ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error) {
	if f.purgeErr != nil {
		return nil, f.purgeErr
	}
	return &sqs.PurgeQueueOutput{}, nil
}

func TestSQSFIFOSendSetsGroupAndDedup(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQS(fake, "https://sqs.local/1/results.fifo", logging.NewNop())

	if err := q.Send(context.Background(), []byte("{}"), SendOptions{GroupID: "MID2024"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	in := fake.sent[0]
	if aws.ToString(in.MessageGroupId) != "MID2024" {
		t.Fatalf("expected exam code group id, got %q", aws.ToString(in.MessageGroupId))
	}
	if aws.ToString(in.MessageDeduplicationId) == "" {
		t.Fatal("expected generated deduplication id")
	}

	_ = q.Send(context.Background(), []byte("{}"), SendOptions{})
	if aws.ToString(fake.sent[1].MessageGroupId) != defaultGroupID {
		t.Fatalf("expected default group, got %q", aws.ToString(fake.sent[1].MessageGroupId))
	}
	if aws.ToString(fake.sent[0].MessageDeduplicationId) == aws.ToString(fake.sent[1].MessageDeduplicationId) {
		t.Fatal("expected a fresh deduplication id per send")
	}
}

func TestSQSStandardSendOmitsFIFOFields(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQS(fake, "https://sqs.local/1/results", logging.NewNop())
	_ = q.Send(context.Background(), []byte("{}"), SendOptions{GroupID: "E1", DeduplicationID: "x"})
	if fake.sent[0].MessageGroupId != nil || fake.sent[0].MessageDeduplicationId != nil {
		t.Fatal("standard queues must not carry FIFO fields")
	}
}

func TestSQSReceiveMapsAttributes(t *testing.T) {
	fake := &fakeSQS{messages: []types.Message{{
		MessageId:     aws.String("id-1"),
		Body:          aws.String(`{"eventType":"STUDENT_ID_RECOGNITION"}`),
		ReceiptHandle: aws.String("rh-1"),
		Attributes: map[string]string{
			"ApproximateReceiveCount": "3",
			"MessageGroupId":          "E1",
			"SentTimestamp":           "1700000000000",
		},
	}}}
	q := NewSQS(fake, "https://sqs.local/1/input.fifo", logging.NewNop())

	msgs, err := q.Receive(context.Background(), ReceiveOptions{MaxMessages: 1, Wait: 20 * time.Second, Visibility: 300 * time.Second})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if fake.receive.WaitTimeSeconds != 20 || fake.receive.VisibilityTimeout != 300 || fake.receive.MaxNumberOfMessages != 1 {
		t.Fatalf("unexpected receive input %+v", fake.receive)
	}
	msg := msgs[0]
	if msg.ReceiveCount != 3 || msg.GroupID != "E1" || msg.ReceiptHandle != "rh-1" || msg.SentAt.Unix() != 1700000000 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if err := q.Delete(context.Background(), msg); err != nil || fake.deleted[0] != "rh-1" {
		t.Fatalf("Delete: %v %v", err, fake.deleted)
	}
}

func TestSQSStatsAndPurge(t *testing.T) {
	url := "https://sqs.local/1/input"
	fake := &fakeSQS{attrs: map[string]map[string]string{url: {
		"ApproximateNumberOfMessages":           "4",
		"ApproximateNumberOfMessagesNotVisible": "1",
		"ApproximateNumberOfMessagesDelayed":    "0",
		"CreatedTimestamp":                      "1700000000",
	}}}
	q := NewSQS(fake, url, logging.NewNop())
	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Visible != 4 || stats.InFlight != 1 || stats.Total() != 5 || stats.CreatedAt.Unix() != 1700000000 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	fake.purgeErr = &types.PurgeQueueInProgress{}
	if err := q.Purge(context.Background()); !errors.Is(err, ErrPurgeInProgress) {
		t.Fatalf("expected ErrPurgeInProgress, got %v", err)
	}
}

func TestSQSEnsureDeadLetterFIFO(t *testing.T) {
	source := "https://sqs.local/1/input.fifo"
	dlqURL := "https://sqs.local/1/input-dlq.fifo"
	fake := &fakeSQS{attrs: map[string]map[string]string{
		dlqURL: {"QueueArn": "arn:aws:sqs:ap-northeast-2:1:input-dlq.fifo"},
	}}
	q := NewSQS(fake, source, logging.NewNop())

	got, err := q.EnsureDeadLetter(context.Background(), QueueName(InferDLQURL(source)), 3)
	if err != nil {
		t.Fatalf("EnsureDeadLetter: %v", err)
	}
	if got != dlqURL {
		t.Fatalf("unexpected dlq url %q", got)
	}
	if fake.created.Attributes["FifoQueue"] != "true" || fake.created.Attributes["MessageRetentionPeriod"] != "1209600" {
		t.Fatalf("unexpected create attributes %v", fake.created.Attributes)
	}
	var policy map[string]string
	if err := json.Unmarshal([]byte(fake.setAttrs.Attributes["RedrivePolicy"]), &policy); err != nil {
		t.Fatalf("decode policy: %v", err)
	}
	if policy["maxReceiveCount"] != "3" || policy["deadLetterTargetArn"] == "" {
		t.Fatalf("unexpected policy %v", policy)
	}
	if aws.ToString(fake.setAttrs.QueueUrl) != source {
		t.Fatalf("policy attached to wrong queue %q", aws.ToString(fake.setAttrs.QueueUrl))
	}
}

func TestNewSQSTopologyInfersDeadLetter(t *testing.T) {
	cfg := config.Default()
	cfg.Queue.InputURL = "https://sqs.local/1/input.fifo"
	cfg.Queue.OutputURL = "https://sqs.local/1/output.fifo"

	topo := NewSQSTopology(&fakeSQS{}, &cfg, logging.NewNop())
	if topo.Fallback != nil {
		t.Fatal("expected no fallback queue when unset")
	}
	dlq, ok := topo.DeadLetter.(*SQS)
	if !ok || dlq.URL() != "https://sqs.local/1/input-dlq.fifo" {
		t.Fatalf("unexpected dead-letter queue %+v", topo.DeadLetter)
	}
}
