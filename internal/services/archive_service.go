// internal/services/archive_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/farmlink/farmlink-backend/internal/config"
	"github.com/farmlink/farmlink-backend/internal/models"
)

// ArchiveService copies raw webhook payloads to S3 for long-term audit. The
// database row keeps the verbatim payload either way; the S3 copy survives
// row pruning. Without AWS credentials the service degrades to log-only.
type ArchiveService struct {
	s3Client *s3.S3
	config   *config.Config
}

func NewArchiveService(cfg *config.Config) (*ArchiveService, error) {
	if cfg.AWS.AccessKeyID == "" {
		// No credentials, archive to log only (local development)
		return &ArchiveService{config: cfg}, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWS.AccessKeyID,
			cfg.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &ArchiveService{
		s3Client: s3.New(sess),
		config:   cfg,
	}, nil
}

func (s *ArchiveService) ArchivePayload(ctx context.Context, transactionID uuid.UUID, payload models.JSONB) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize payload: %w", err)
	}

	if s.s3Client == nil {
		logrus.WithField("transaction_id", transactionID).Debug("S3 not configured; payload kept in database only")
		return nil
	}

	key := fmt.Sprintf("webhooks/%s/%d.json", transactionID, time.Now().UnixNano())

	_, err = s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.AWS.S3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload payload: %w", err)
	}

	return nil
}
