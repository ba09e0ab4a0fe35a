package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Archiver keeps an immutable copy of every generated summary.
type Archiver interface {
	Archive(ctx context.Context, sessionID string, res *Result) (string, error)
}

type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes summaries to s3://bucket/prefix/<session>/<generated_at>.json.
type S3Archiver struct {
	client s3PutAPI
	bucket string
	prefix string
}

func NewS3Archiver(client s3PutAPI, bucket, prefix string) *S3Archiver {
	if client == nil {
		panic("summary: s3 client cannot be nil")
	}
	if prefix == "" {
		prefix = "telehealth-summaries"
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

type archivedSummary struct {
	SessionID   string   `json:"session_id"`
	Text        string   `json:"text"`
	Model       string   `json:"model"`
	GeneratedAt string   `json:"generated_at"`
	Flags       []Flag   `json:"flags,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

func (a *S3Archiver) Archive(ctx context.Context, sessionID string, res *Result) (string, error) {
	body, err := json.Marshal(archivedSummary{
		SessionID:   sessionID,
		Text:        res.Text,
		Model:       res.Model,
		GeneratedAt: res.GeneratedAt.UTC().Format("2006-01-02T15:04:05.000000Z"),
		Flags:       res.Flags,
		Warnings:    res.Warnings,
	})
	if err != nil {
		return "", fmt.Errorf("summary: failed to encode archive: %w", err)
	}
	key := fmt.Sprintf("%s/%s/%s.json", a.prefix, sessionID, res.GeneratedAt.UTC().Format("20060102T150405.000000Z"))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("summary: failed to archive to s3: %w", err)
	}
	return key, nil
}
