package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"audio-converter/config"
	"audio-converter/models"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

const artifactContentType = "text/plain; charset=utf-8"

type S3Service struct {
	session   *session.Session
	client    *s3.S3
	bucket    string
	publicURL string
	uploader  *s3manager.Uploader
}

func NewS3Service(cfg *config.Config) *S3Service {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWSS3AccessKey,
			cfg.AWSS3SecretKey,
			"",
		),
	}

	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}

	if cfg.S3UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess := session.Must(session.NewSession(awsCfg))

	return &S3Service{
		session:   sess,
		client:    s3.New(sess),
		bucket:    cfg.S3Bucket,
		publicURL: strings.TrimRight(cfg.S3PublicURL, "/"),
		uploader:  s3manager.NewUploader(sess),
	}
}

// Publish uploads the artifact as a single object and returns its URL. The
// object is only visible once the upload has fully succeeded.
func (s *S3Service) Publish(ctx context.Context, artifact Artifact) (string, error) {
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(artifact.Key),
		Body:        bytes.NewReader(artifact.Body),
		ContentType: aws.String(artifactContentType),
		Metadata: map[string]*string{
			"file-name": aws.String(artifact.Name),
			"slug":      aws.String(artifact.Slug),
		},
	})
	if err != nil {
		return "", models.StageErrorf(models.KindPublish, "failed to upload %s to S3: %w", artifact.Key, err)
	}

	if s.publicURL != "" {
		return s.publicURL + "/" + strings.TrimLeft(artifact.Key, "/"), nil
	}
	return out.Location, nil
}

// Get reads an object fully into memory, used for s3:// audio locators.
func (s *S3Service) Get(ctx context.Context, bucket, key string) (Audio, error) {
	obj, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Audio{}, fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}

	return Audio{
		Data:        data,
		ContentType: strings.ToLower(aws.StringValue(obj.ContentType)),
	}, nil
}
