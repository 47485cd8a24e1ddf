package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	sc "github.com/dmitrijs2005/gophsync/internal/server/config"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/google/uuid"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

const archiveLinkValidity = time.Hour

// Archiver keeps a copy of a user's records before they are wiped and
// returns a link to download it.
type Archiver interface {
	Archive(ctx context.Context, userID string, records []models.BSO) (string, error)
}

// S3Archiver writes archives to an S3-compatible bucket.
type S3Archiver struct {
	config *sc.Config
	now    func() time.Time
}

func NewS3Archiver(cfg *sc.Config) *S3Archiver {
	return &S3Archiver{config: cfg, now: time.Now}
}

func (a *S3Archiver) archiveKey(userID string) string {
	d := a.now().UTC()
	return fmt.Sprintf("archives/%s/%d/%d/%d/%v.json", userID, d.Year(), d.Month(), d.Day(), uuid.New())
}

func (a *S3Archiver) clients(ctx context.Context) (*s3.Client, *s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(a.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			a.config.S3RootUser,
			a.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(a.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})
	return client, newS3PresignClient(client), nil
}

type archiveDocument struct {
	UserID  string          `json:"user_id"`
	Created time.Time       `json:"created"`
	Records []archiveRecord `json:"records"`
}

type archiveRecord struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Payload    string `json:"payload"`
	Modified   int64  `json:"modified"`
}

// Archive uploads the records as one JSON document. Payloads stay as the
// client encrypted them.
func (a *S3Archiver) Archive(ctx context.Context, userID string, records []models.BSO) (string, error) {
	doc := archiveDocument{UserID: userID, Created: a.now().UTC(), Records: make([]archiveRecord, 0, len(records))}
	for _, r := range records {
		doc.Records = append(doc.Records, archiveRecord{Collection: r.Collection, ID: r.ID, Payload: r.Payload, Modified: r.Modified})
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}

	client, presignClient, err := a.clients(ctx)
	if err != nil {
		return "", fmt.Errorf("s3 config error: %w", err)
	}

	bucket := a.config.S3Bucket
	key := a.archiveKey(userID)

	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive upload error: %w", err)
	}

	req, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(archiveLinkValidity))
	if err != nil {
		return "", fmt.Errorf("archive presign error: %w", err)
	}
	return req.URL, nil
}
