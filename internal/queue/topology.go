package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"gradi/internal/awsclient"
	"gradi/internal/config"
	"gradi/internal/services"
)

// Default queue names for the redis and memory backends.
const (
	DefaultInputName    = "input"
	DefaultOutputName   = "output"
	DefaultFallbackName = "fallback"
)

// Topology is the set of queues one worker uses.
type Topology struct {
	Input      Inspector
	Output     Queue
	Fallback   Queue
	DeadLetter Inspector

	closers []func() error
}

// Close releases backend connections.
func (t *Topology) Close() error {
	var first error
	for _, fn := range t.closers {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open builds the topology for the configured backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Topology, error) {
	switch cfg.Queue.Backend {
	case config.QueueSQS:
		return openSQS(ctx, cfg, logger)
	case config.QueueRedis:
		return openRedis(cfg, logger)
	case config.QueueMemory:
		return NewMemoryTopology(cfg.Queue.DLQMaxReceiveCount), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "queue", "open", fmt.Sprintf("unsupported backend %q", cfg.Queue.Backend), nil)
	}
}

func openSQS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Topology, error) {
	if err := cfg.RequireQueues(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "queue", "open", "", err)
	}
	awsCfg, err := awsclient.Load(ctx, cfg.Queue.Region, cfg.Queue.Endpoint)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "queue", "open", "load aws config", err)
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint := awsclient.Endpoint(cfg.Queue.Endpoint); endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
	return NewSQSTopology(client, cfg, logger), nil
}

// NewSQSTopology binds the configured queue URLs on client.
func NewSQSTopology(client SQSAPI, cfg *config.Config, logger *slog.Logger) *Topology {
	t := &Topology{
		Input:  NewSQS(client, cfg.Queue.InputURL, logger),
		Output: NewSQS(client, cfg.Queue.OutputURL, logger),
	}
	if url := strings.TrimSpace(cfg.Queue.FallbackURL); url != "" {
		t.Fallback = NewSQS(client, url, logger)
	}
	dlqURL := strings.TrimSpace(cfg.Queue.DLQURL)
	if dlqURL == "" {
		dlqURL = InferDLQURL(cfg.Queue.InputURL)
	}
	if dlqURL != "" {
		t.DeadLetter = NewSQS(client, dlqURL, logger)
	}
	return t
}

func nameOr(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return QueueName(value)
	}
	return fallback
}

func openRedis(cfg *config.Config, logger *slog.Logger) (*Topology, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	t, err := NewRedisTopology(rdb, cfg, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	t.closers = append(t.closers, rdb.Close)
	return t, nil
}

// NewRedisTopology binds queue names under the configured namespace.
func NewRedisTopology(rdb *redis.Client, cfg *config.Config, logger *slog.Logger) (*Topology, error) {
	ns := cfg.Redis.Namespace
	inputName := nameOr(cfg.Queue.InputURL, DefaultInputName)
	input, err := NewRedis(rdb, ns, inputName, logger)
	if err != nil {
		return nil, err
	}
	output, err := NewRedis(rdb, ns, nameOr(cfg.Queue.OutputURL, DefaultOutputName), logger)
	if err != nil {
		return nil, err
	}
	dlq, err := NewRedis(rdb, ns, nameOr(cfg.Queue.DLQURL, InferDLQURL(inputName)), logger)
	if err != nil {
		return nil, err
	}
	input.WithDeadLetter(dlq, cfg.Queue.DLQMaxReceiveCount)
	t := &Topology{Input: input, Output: output, DeadLetter: dlq}
	if strings.TrimSpace(cfg.Queue.FallbackURL) != "" {
		fallback, err := NewRedis(rdb, ns, nameOr(cfg.Queue.FallbackURL, DefaultFallbackName), logger)
		if err != nil {
			return nil, err
		}
		t.Fallback = fallback
	}
	return t, nil
}

// NewMemoryTopology returns in-process queues wired with a dead-letter queue.
func NewMemoryTopology(maxReceive int) *Topology {
	dlq := NewMemory(InferDLQURL(DefaultInputName))
	input := NewMemory(DefaultInputName).WithDeadLetter(dlq, maxReceive)
	return &Topology{
		Input:      input,
		Output:     NewMemory(DefaultOutputName),
		Fallback:   NewMemory(DefaultFallbackName),
		DeadLetter: dlq,
	}
}
