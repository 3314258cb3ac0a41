package recovery

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// indirections for tests
var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// S3Settings configures the object-storage backend for recovery files.
// BaseEndpoint supports S3-compatible stores (MinIO).
type S3Settings struct {
	RootUser     string
	RootPassword string
	Bucket       string
	Region       string
	BaseEndpoint string
}

// Delivery uploads recovery files to object storage and hands out
// time-limited download links. Mail/QR delivery channels live in the
// collaborating service; this is the file channel.
type Delivery struct {
	settings S3Settings
}

// NewDelivery builds a Delivery for the given storage settings.
func NewDelivery(settings S3Settings) *Delivery {
	return &Delivery{settings: settings}
}

func (d *Delivery) client() (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		config.WithRegion(d.settings.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			d.settings.RootUser,
			d.settings.RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(d.settings.BaseEndpoint)
	}), nil
}

// storageKey namespaces recovery files per user.
func storageKey(userID string) string {
	return fmt.Sprintf("recovery/%s/%s", userID, FileName)
}

// Upload stores the recovery file for userID and returns its storage key.
func (d *Delivery) Upload(ctx context.Context, userID string, code string) (string, error) {
	client, err := d.client()
	if err != nil {
		return "", err
	}

	key := storageKey(userID)
	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket: &d.settings.Bucket,
		Key:    &key,
		Body:   bytes.NewReader(FileBytes(code)),
	})
	if err != nil {
		return "", fmt.Errorf("recovery file upload error: %w", err)
	}
	return key, nil
}

// PresignDownload returns a time-limited GET URL for the user's stored
// recovery file.
func (d *Delivery) PresignDownload(ctx context.Context, userID string) (string, error) {
	client, err := d.client()
	if err != nil {
		return "", err
	}

	key := storageKey(userID)
	req, err := presignGetObject(s3.NewPresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: &d.settings.Bucket,
		Key:    &key,
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
