package summary

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

const jobTTL = 7 * 24 * time.Hour

// JobStatus is the lifecycle of one summary request.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is the latest summary request for a session. Summary text is not kept
// here; it lives on the session record.
type Job struct {
	SessionID   string    `dynamodbav:"sessionId" json:"session_id"`
	Status      JobStatus `dynamodbav:"status" json:"status"`
	RequestedBy string    `dynamodbav:"requestedBy" json:"requested_by"`
	Model       string    `dynamodbav:"model,omitempty" json:"model,omitempty"`
	Flags       []Flag    `dynamodbav:"flags,omitempty" json:"flags,omitempty"`
	Warnings    []string  `dynamodbav:"warnings,omitempty" json:"warnings,omitempty"`
	ErrorCode   string    `dynamodbav:"errorCode,omitempty" json:"error_code,omitempty"`
	CreatedAt   string    `dynamodbav:"createdAt" json:"created_at"`
	UpdatedAt   string    `dynamodbav:"updatedAt" json:"updated_at"`
	ExpiresAt   int64     `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// JobStore records summary job status keyed by session id.
type JobStore interface {
	PutPending(ctx context.Context, sessionID, requestedBy string) error
	MarkCompleted(ctx context.Context, sessionID string, res *Result) error
	MarkFailed(ctx context.Context, sessionID, errorCode string) error
	Get(ctx context.Context, sessionID string) (*Job, error)
}

// MemoryJobStore keeps jobs in process.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
	now  func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]Job), now: time.Now}
}

func (s *MemoryJobStore) PutPending(ctx context.Context, sessionID, requestedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UTC().Format(time.RFC3339Nano)
	s.jobs[sessionID] = Job{SessionID: sessionID, Status: JobStatusPending, RequestedBy: requestedBy, CreatedAt: ts, UpdatedAt: ts}
	return nil
}

func (s *MemoryJobStore) MarkCompleted(ctx context.Context, sessionID string, res *Result) error {
	return s.update(sessionID, func(j *Job) {
		j.Status = JobStatusCompleted
		j.ErrorCode = ""
		if res != nil {
			j.Model = res.Model
			j.Flags = append([]Flag(nil), res.Flags...)
			j.Warnings = append([]string(nil), res.Warnings...)
		}
	})
}

func (s *MemoryJobStore) MarkFailed(ctx context.Context, sessionID, errorCode string) error {
	return s.update(sessionID, func(j *Job) {
		j.Status = JobStatusFailed
		j.ErrorCode = errorCode
	})
}

func (s *MemoryJobStore) Get(ctx context.Context, sessionID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[sessionID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (s *MemoryJobStore) update(sessionID string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[sessionID]
	if !ok {
		return ErrJobNotFound
	}
	fn(&job)
	job.UpdatedAt = s.now().UTC().Format(time.RFC3339Nano)
	s.jobs[sessionID] = job
	return nil
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoJobStore persists jobs to a DynamoDB table with partition key sessionId.
type DynamoJobStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
	now       func() time.Time
}

var _ JobStore = (*DynamoJobStore)(nil)

func NewDynamoJobStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoJobStore {
	if client == nil {
		panic("summary: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("summary: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoJobStore{client: client, tableName: tableName, logger: logger, now: time.Now}
}

// PutPending replaces any earlier job for the session.
func (s *DynamoJobStore) PutPending(ctx context.Context, sessionID, requestedBy string) error {
	now := s.now().UTC()
	job := Job{
		SessionID:   sessionID,
		Status:      JobStatusPending,
		RequestedBy: requestedBy,
		CreatedAt:   now.Format(time.RFC3339Nano),
		UpdatedAt:   now.Format(time.RFC3339Nano),
		ExpiresAt:   now.Add(jobTTL).Unix(),
	}
	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("summary: failed to marshal job: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("summary: failed to persist job: %w", err)
	}
	return nil
}

func (s *DynamoJobStore) MarkCompleted(ctx context.Context, sessionID string, res *Result) error {
	if res == nil {
		res = &Result{}
	}
	flags, err := attributevalue.Marshal(res.Flags)
	if err != nil {
		return fmt.Errorf("summary: failed to marshal flags: %w", err)
	}
	warnings, err := attributevalue.Marshal(res.Warnings)
	if err != nil {
		return fmt.Errorf("summary: failed to marshal warnings: %w", err)
	}
	return s.updateJob(ctx, sessionID,
		map[string]types.AttributeValue{
			":status":   &types.AttributeValueMemberS{Value: string(JobStatusCompleted)},
			":model":    &types.AttributeValueMemberS{Value: res.Model},
			":flags":    flags,
			":warnings": warnings,
			":error":    &types.AttributeValueMemberS{Value: ""},
			":updated":  &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
		},
		"SET #status = :status, model = :model, flags = :flags, warnings = :warnings, errorCode = :error, updatedAt = :updated",
	)
}

func (s *DynamoJobStore) MarkFailed(ctx context.Context, sessionID, errorCode string) error {
	return s.updateJob(ctx, sessionID,
		map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(JobStatusFailed)},
			":error":   &types.AttributeValueMemberS{Value: errorCode},
			":updated": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
		},
		"SET #status = :status, errorCode = :error, updatedAt = :updated",
	)
}

func (s *DynamoJobStore) Get(ctx context.Context, sessionID string) (*Job, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("summary: failed to fetch job: %w", err)
	}
	if out.Item == nil {
		return nil, ErrJobNotFound
	}
	var job Job
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("summary: failed to decode job: %w", err)
	}
	return &job, nil
}

func (s *DynamoJobStore) updateJob(ctx context.Context, sessionID string, values map[string]types.AttributeValue, expr string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(sessionId)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrJobNotFound
		}
		return fmt.Errorf("summary: failed to update job: %w", err)
	}
	return nil
}
