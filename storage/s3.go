package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"

	"autolist/config"
	"autolist/models"
)

// RunArchiver stores the JSON report of a finished run.
type RunArchiver interface {
	Archive(ctx context.Context, run *models.EngineRun, report any) error
}

// NoOpArchiver is used when S3 is not configured.
type NoOpArchiver struct{}

func (NoOpArchiver) Archive(ctx context.Context, run *models.EngineRun, report any) error {
	return nil
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads run reports to S3-compatible storage
type S3Archiver struct {
	client putObjectAPI
	bucket string
}

// NewS3Archiver creates an archiver. A custom endpoint (DO Spaces, R2, MinIO)
// switches to path-style addressing.
func NewS3Archiver(ctx context.Context, cfg config.S3Config) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, eris.Wrap(err, "s3: load aws config")
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Archive writes report as runs/<kind>/<yyyy>/<mm>/<dd>/<run-id>.json
func (a *S3Archiver) Archive(ctx context.Context, run *models.EngineRun, report any) error {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return eris.Wrap(err, "s3: marshal run report")
	}

	key := RunReportKey(run)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return eris.Wrapf(err, "s3: put object %s", key)
	}
	return nil
}

func RunReportKey(run *models.EngineRun) string {
	t := run.StartedAt.UTC()
	return fmt.Sprintf("runs/%s/%04d/%02d/%02d/%s.json", run.Kind, t.Year(), int(t.Month()), t.Day(), run.ID)
}
