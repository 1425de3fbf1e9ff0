// Package snssink adapts the worker's generic publish contract to AWS SNS's
// PublishBatch API, which already returns per-entry successful/failed lists
// keyed by a batch-local id — a structural match for the sink contract in
// spec.md §6, so this package is a thin adapter rather than a reimplementation.
package snssink

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// MaxBatchSize is the maximum number of entries SNS accepts in a single
// PublishBatch call.
const MaxBatchSize = 10

// Entry is one message to publish, carrying the batch-local id used to
// correlate it with the corresponding successful/failed result.
type Entry struct {
	ID      string
	Message string
}

// SuccessResult identifies one successfully published entry.
type SuccessResult struct {
	ID        string
	MessageID string
}

// FailureResult identifies one entry SNS rejected.
type FailureResult struct {
	ID      string
	Code    string
	Message string
}

// Result is the outcome of a PublishBatch call.
type Result struct {
	Successful []SuccessResult
	Failed     []FailureResult
}

// Sink is the contract the worker publishes through. Implementations must be
// safe for concurrent use.
type Sink interface {
	PublishBatch(ctx context.Context, topic string, entries []Entry) (Result, error)
}

// Config configures a real SNS-backed Sink.
type Config struct {
	Region    string
	Endpoint  string // non-empty selects a non-AWS-compatible endpoint, e.g. LocalStack
	AccessKey string
	SecretKey string
}

type snsSink struct {
	client *sns.Client
}

// New constructs a Sink backed by the real AWS SNS PublishBatch API.
func New(ctx context.Context, cfg Config) (Sink, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("snssink: failed to load AWS config: %w", err)
	}

	var snsOpts []func(*sns.Options)
	if cfg.Endpoint != "" {
		snsOpts = append(snsOpts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &snsSink{client: sns.NewFromConfig(awsCfg, snsOpts...)}, nil
}

// NewFromClient wraps an already-constructed SNS client, e.g. one built by a
// caller that needs non-default options this package does not expose.
func NewFromClient(client *sns.Client) Sink {
	return &snsSink{client: client}
}

func (s *snsSink) PublishBatch(ctx context.Context, topic string, entries []Entry) (Result, error) {
	if len(entries) == 0 {
		return Result{}, nil
	}
	if len(entries) > MaxBatchSize {
		return Result{}, fmt.Errorf("snssink: batch of %d entries exceeds max %d", len(entries), MaxBatchSize)
	}

	reqEntries := make([]types.PublishBatchRequestEntry, len(entries))
	for i, e := range entries {
		reqEntries[i] = types.PublishBatchRequestEntry{
			Id:      aws.String(e.ID),
			Message: aws.String(e.Message),
		}
	}

	out, err := s.client.PublishBatch(ctx, &sns.PublishBatchInput{
		TopicArn:                   aws.String(topic),
		PublishBatchRequestEntries: reqEntries,
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Successful: make([]SuccessResult, len(out.Successful)),
		Failed:     make([]FailureResult, len(out.Failed)),
	}
	for i, s := range out.Successful {
		result.Successful[i] = SuccessResult{
			ID:        aws.ToString(s.Id),
			MessageID: aws.ToString(s.MessageId),
		}
	}
	for i, f := range out.Failed {
		result.Failed[i] = FailureResult{
			ID:      aws.ToString(f.Id),
			Code:    aws.ToString(f.Code),
			Message: aws.ToString(f.Message),
		}
	}
	return result, nil
}
