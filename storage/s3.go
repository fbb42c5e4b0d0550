package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"listing_canon/config"
	"listing_canon/models"
)

// S3Archive keeps the raw content of every fetched page so a batch can be
// replayed without refetching.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archive creates an archive for S3 or any S3-compatible endpoint.
func NewS3Archive(ctx context.Context, cfg config.S3Config) (*S3Archive, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
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

	return &S3Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Upload uploads data to S3 with the given key
func (a *S3Archive) Upload(ctx context.Context, key string, data io.Reader, contentType string, meta map[string]string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// ArchivePage stores the page content and returns its key.
func (a *S3Archive) ArchivePage(ctx context.Context, page *models.FetchedPage) (string, error) {
	key := ArchiveKey(a.prefix, page)
	contentType := "text/html; charset=utf-8"
	if page.ContentType == models.ContentJSON {
		contentType = "application/json"
	}
	meta := map[string]string{
		"source-id":    page.SourceID,
		"source-url":   page.SourceURL,
		"crawl-method": string(page.CrawlMethod),
		"fetched-at":   page.FetchedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if err := a.Upload(ctx, key, strings.NewReader(page.Content), contentType, meta); err != nil {
		return "", fmt.Errorf("archive %s: %w", page.SourceURL, err)
	}
	return key, nil
}

// ArchiveKey is prefix/source/yyyy/mm/dd/<sha1 of url>.<ext>. The same page
// fetched on the same day maps to the same key.
func ArchiveKey(prefix string, page *models.FetchedPage) string {
	sum := sha1.Sum([]byte(page.SourceURL))
	ext := ".html"
	if page.ContentType == models.ContentJSON {
		ext = ".json"
	}
	source := page.SourceID
	if source == "" {
		source = "unknown"
	}
	return path.Join(prefix, source, page.FetchedAt.UTC().Format("2006/01/02"), hex.EncodeToString(sum[:])+ext)
}
