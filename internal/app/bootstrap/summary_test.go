package bootstrap

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"

	appconfig "github.com/wolfman30/medspa-telehealth/internal/config"
	"github.com/wolfman30/medspa-telehealth/internal/summary"
)

func TestBuildSummaryInfraInMemory(t *testing.T) {
	infra := BuildSummaryInfra(&appconfig.Config{
		SummaryJobsTable:     "jobs",
		SummaryRetryQueueURL: "https://sqs.example.com/queue",
	}, nil, testLogger())

	assert.IsType(t, &summary.MemoryJobStore{}, infra.Jobs)
	assert.IsType(t, &summary.MemoryQueue{}, infra.Queue)
	assert.True(t, infra.InlineQueue)
	assert.Nil(t, infra.Archiver)
}

func TestBuildSummaryInfraAWS(t *testing.T) {
	infra := BuildSummaryInfra(&appconfig.Config{
		SummaryJobsTable:     "jobs",
		SummaryRetryQueueURL: "https://sqs.example.com/queue",
		SummaryArchiveBucket: "archive",
	}, &aws.Config{Region: "us-east-1"}, testLogger())

	assert.IsType(t, &summary.DynamoJobStore{}, infra.Jobs)
	assert.IsType(t, &summary.SQSQueue{}, infra.Queue)
	assert.False(t, infra.InlineQueue)
	assert.IsType(t, &summary.S3Archiver{}, infra.Archiver)
}

func TestBuildSummaryInfraMemoryQueueOverride(t *testing.T) {
	infra := BuildSummaryInfra(&appconfig.Config{
		SummaryRetryQueueURL: "https://sqs.example.com/queue",
		UseMemoryQueue:       true,
	}, &aws.Config{Region: "us-east-1"}, testLogger())

	assert.IsType(t, &summary.MemoryQueue{}, infra.Queue)
	assert.True(t, infra.InlineQueue)
}
