// Package queue hands repository ingestion jobs to the indexing pipeline.
// The gate only enqueues; parsing and graph construction run elsewhere.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// IngestJob asks the pipeline to (re)index one repository for a tenant.
type IngestJob struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	RepoID    string    `json:"repo_id"`
	RepoURL   string    `json:"repo_url"`
	Branch    string    `json:"branch,omitempty"`
	Full      bool      `json:"full"` // full reindex vs incremental
	CreatedAt time.Time `json:"created_at"`
}

type Queue interface {
	Enqueue(ctx context.Context, job IngestJob) error
	Receive(ctx context.Context, maxMessages int) ([]IngestJob, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSQueue(ctx context.Context, region, queueURL string) (*SQSQueue, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SQSQueue{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}, nil
}

func NewSQSQueueWithConfig(cfg aws.Config, queueURL string) *SQSQueue {
	return &SQSQueue{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

func (q *SQSQueue) Enqueue(ctx context.Context, job IngestJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal ingest job: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"TenantID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(job.TenantID),
			},
			"JobID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(job.ID),
			},
		},
	}

	_, err = q.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int) ([]IngestJob, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.queueURL),
		MaxNumberOfMessages:   int32(maxMessages),
		WaitTimeSeconds:       20,
		MessageAttributeNames: []string{"All"},
	}

	result, err := q.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	jobs := make([]IngestJob, 0, len(result.Messages))
	for _, msg := range result.Messages {
		var job IngestJob
		if err := json.Unmarshal([]byte(*msg.Body), &job); err != nil {
			slog.Warn("failed to unmarshal ingest job", "error", err)
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	_, err := q.client.DeleteMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

type InMemoryQueue struct {
	mu   sync.Mutex
	jobs []IngestJob
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		jobs: make([]IngestJob, 0),
	}
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, job IngestJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *InMemoryQueue) Receive(ctx context.Context, maxMessages int) ([]IngestJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := maxMessages
	if count > len(q.jobs) {
		count = len(q.jobs)
	}

	result := make([]IngestJob, count)
	copy(result, q.jobs[:count])
	q.jobs = q.jobs[count:]

	return result, nil
}

func (q *InMemoryQueue) Delete(ctx context.Context, receiptHandle string) error {
	return nil
}

// Pending returns a snapshot of queued jobs without consuming them.
func (q *InMemoryQueue) Pending() []IngestJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]IngestJob, len(q.jobs))
	copy(result, q.jobs)
	return result
}
