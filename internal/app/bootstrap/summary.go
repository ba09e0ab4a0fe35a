package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/medspa-telehealth/internal/config"
	"github.com/wolfman30/medspa-telehealth/internal/summary"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

// SummaryInfra holds the stores behind summary generation.
type SummaryInfra struct {
	Jobs  summary.JobStore
	Queue summary.Queue
	// InlineQueue is true when the retry queue lives in this process and the
	// API must run the retry worker itself.
	InlineQueue bool
	// Archiver is nil when no archive bucket is configured.
	Archiver summary.Archiver
}

// BuildSummaryInfra picks AWS-backed stores when they are configured and an
// AWS config is available, in-memory ones otherwise.
func BuildSummaryInfra(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) SummaryInfra {
	if logger == nil {
		logger = logging.Default()
	}
	infra := SummaryInfra{}

	if cfg.SummaryJobsTable != "" && awsCfg != nil {
		infra.Jobs = summary.NewDynamoJobStore(dynamodb.NewFromConfig(*awsCfg), cfg.SummaryJobsTable, logger)
	} else {
		infra.Jobs = summary.NewMemoryJobStore()
	}

	if cfg.UseMemoryQueue || cfg.SummaryRetryQueueURL == "" || awsCfg == nil {
		infra.Queue = summary.NewMemoryQueue(64)
		infra.InlineQueue = true
	} else {
		infra.Queue = summary.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.SummaryRetryQueueURL)
	}

	if cfg.SummaryArchiveBucket != "" && awsCfg != nil {
		infra.Archiver = summary.NewS3Archiver(s3.NewFromConfig(*awsCfg), cfg.SummaryArchiveBucket, "")
	}

	logger.Info("summary infrastructure configured",
		"jobs", storeKind(cfg.SummaryJobsTable != "" && awsCfg != nil, "dynamodb"),
		"retry_queue", storeKind(!infra.InlineQueue, "sqs"),
		"archive", infra.Archiver != nil,
	)
	return infra
}

func storeKind(remote bool, name string) string {
	if remote {
		return name
	}
	return "memory"
}
