package storage

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	S3                *s3.Client
	AttachmentsBucket string
)

// InitializeS3 builds the S3 client for message attachments.
func InitializeS3() {
	AttachmentsBucket = os.Getenv("S3_ATTACHMENTS_BUCKET")
	if AttachmentsBucket == "" {
		log.Panic("S3_ATTACHMENTS_BUCKET environment variable is required")
	}

	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Panic("error loading aws config: " + err.Error())
	}
	S3 = s3.NewFromConfig(cfg)
}
