package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/wolfman30/medspa-telehealth/internal/observability/metrics"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

// WriteBack is a summary that was generated but not saved to its session.
type WriteBack struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Text        string    `json:"text"`
	GeneratedAt time.Time `json:"generated_at"`
	Attempt     int       `json:"attempt"`
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Queue carries write-back messages between the generator and the retry worker.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// RetryQueue enqueues failed write-backs.
type RetryQueue struct {
	queue Queue
}

func NewRetryQueue(q Queue) *RetryQueue {
	return &RetryQueue{queue: q}
}

func (r *RetryQueue) Enqueue(ctx context.Context, wb WriteBack) error {
	if wb.ID == "" {
		wb.ID = uuid.NewString()
	}
	body, err := json.Marshal(wb)
	if err != nil {
		return fmt.Errorf("summary: failed to encode write-back: %w", err)
	}
	return r.queue.Send(ctx, string(body))
}

// MemoryQueue is a Queue backed by a buffered channel.
type MemoryQueue struct {
	ch chan queueMessage
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{ch: make(chan queueMessage, buffer)}
}

func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	msg := queueMessage{ID: uuid.NewString(), Body: body, ReceiptHandle: uuid.NewString()}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	wait := time.Duration(waitSeconds) * time.Second
	if wait <= 0 {
		wait = time.Second
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg := <-q.ch:
		out := []queueMessage{msg}
		for len(out) < maxMessages {
			select {
			case next := <-q.ch:
				out = append(out, next)
			default:
				return out, nil
			}
		}
		return out, nil
	}
}

// Delete is a no-op for the in-memory queue.
func (q *MemoryQueue) Delete(context.Context, string) error { return nil }

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue is a Queue backed by AWS or LocalStack SQS.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
}

func NewSQSQueue(client sqsAPI, queueURL string) *SQSQueue {
	if client == nil {
		panic("summary: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("summary: SQS queueURL cannot be empty")
	}
	return &SQSQueue{client: client, queueURL: queueURL}
}

func (q *SQSQueue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("summary: failed to send SQS message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	output, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("summary: failed to receive SQS messages: %w", err)
	}
	messages := make([]queueMessage, 0, len(output.Messages))
	for _, msg := range output.Messages {
		messages = append(messages, queueMessage{
			ID:            aws.ToString(msg.MessageId),
			Body:          aws.ToString(msg.Body),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}
	return messages, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("summary: failed to delete SQS message: %w", err)
	}
	return nil
}

// SummaryWriter is the session store surface the worker writes through.
type SummaryWriter interface {
	SaveSummary(ctx context.Context, id, text string, at time.Time) error
}

const (
	defaultRetryWaitSeconds = 10
	defaultRetryBatchSize   = 5
	deleteTimeout           = 5 * time.Second
)

// RetryWorker drains the write-back queue into the session store.
type RetryWorker struct {
	queue       Queue
	writer      SummaryWriter
	maxAttempts int
	metrics     *metrics.TelehealthMetrics
	logger      *logging.Logger
	wg          sync.WaitGroup
}

func NewRetryWorker(queue Queue, writer SummaryWriter, maxAttempts int, logger *logging.Logger) *RetryWorker {
	if logger == nil {
		logger = logging.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &RetryWorker{queue: queue, writer: writer, maxAttempts: maxAttempts, logger: logger}
}

func (w *RetryWorker) WithMetrics(m *metrics.TelehealthMetrics) *RetryWorker {
	w.metrics = m
	return w
}

// Start launches the receive loop.
func (w *RetryWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Wait blocks until the receive loop exits.
func (w *RetryWorker) Wait() {
	w.wg.Wait()
}

func (w *RetryWorker) run(ctx context.Context) {
	defer w.wg.Done()
	w.logger.Debug("summary retry worker started")

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("summary retry worker stopping")
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, defaultRetryBatchSize, defaultRetryWaitSeconds)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive summary write-backs", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handle(ctx, msg)
		}
	}
}

func (w *RetryWorker) handle(ctx context.Context, msg queueMessage) {
	defer w.deleteMessage(msg.ReceiptHandle)

	var wb WriteBack
	if err := json.Unmarshal([]byte(msg.Body), &wb); err != nil {
		w.logger.Error("failed to decode summary write-back", "error", err, "msg_id", msg.ID)
		return
	}

	err := w.writer.SaveSummary(ctx, wb.SessionID, wb.Text, wb.GeneratedAt)
	if err == nil {
		w.logger.Info("summary write-back succeeded", "session_id", wb.SessionID, "attempt", wb.Attempt)
		return
	}

	wb.Attempt++
	if wb.Attempt >= w.maxAttempts {
		w.metrics.ObserveSideEffectFailure("summary_writeback_exhausted")
		w.logger.Error("summary write-back abandoned", "error", err, "session_id", wb.SessionID, "attempts", wb.Attempt)
		return
	}
	w.logger.Warn("summary write-back failed, requeueing", "error", err, "session_id", wb.SessionID, "attempt", wb.Attempt)
	body, _ := json.Marshal(wb)
	if sendErr := w.queue.Send(ctx, string(body)); sendErr != nil {
		w.metrics.ObserveSideEffectFailure("summary_writeback_requeue")
		w.logger.Error("failed to requeue summary write-back", "error", sendErr, "session_id", wb.SessionID)
	}
}

func (w *RetryWorker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete summary write-back", "error", err)
	}
}
