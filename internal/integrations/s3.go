package integrations

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Evidence scopes. Each scope is a key prefix.
const (
	ScopeReceipt     = "receipts"
	ScopeIDDocument  = "id-documents"
	ScopeGnplPayment = "gnpl-payments"
)

const presignTTL = 15 * time.Minute

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// S3Client stores payment evidence and identity documents.
type S3Client struct {
	bucket        string
	publicPresign *s3.PresignClient
	now           func() time.Time
}

func NewS3(_ context.Context, cfg config.S3Config) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	endpoint := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	publicEndpoint := normalizeEndpoint(cfg.PublicEndpoint, cfg.UseSSL)

	options := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if endpoint != "" {
		options.BaseEndpoint = aws.String(endpoint)
	}
	client := s3.New(options)
	presign := s3.NewPresignClient(client)
	publicPresign := presign
	if publicEndpoint != "" && publicEndpoint != endpoint {
		publicOptions := options
		publicOptions.BaseEndpoint = aws.String(publicEndpoint)
		publicPresign = s3.NewPresignClient(s3.New(publicOptions))
	}

	return &S3Client{
		bucket:        cfg.Bucket,
		publicPresign: publicPresign,
		now:           time.Now,
	}, nil
}

// PresignUpload returns a PUT URL the mini app uploads to and the object
// key it later submits with the receipt or application.
func (s *S3Client) PresignUpload(ctx context.Context, scope string, customerID int64, fileName, contentType string) (string, string, error) {
	if !validScope(scope) {
		return "", "", fmt.Errorf("unknown evidence scope %q", scope)
	}
	key := s.objectKey(scope, customerID, fileName)
	resp, err := s.publicPresign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = presignTTL
	})
	if err != nil {
		return "", "", err
	}
	return resp.URL, key, nil
}

// PresignView returns a short-lived GET URL for admins reviewing evidence.
func (s *S3Client) PresignView(ctx context.Context, key string) (string, error) {
	resp, err := s.publicPresign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = presignTTL
	})
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (s *S3Client) objectKey(scope string, customerID int64, fileName string) string {
	now := s.now().UTC()
	name := unsafeName.ReplaceAllString(strings.TrimSpace(path.Base(fileName)), "-")
	if name == "" || name == "." || name == "/" {
		name = "upload"
	}
	return fmt.Sprintf("evidence/%s/%d/%04d/%02d/%s-%s", scope, customerID, now.Year(), now.Month(), uuid.NewString(), name)
}

// KeyOwnedBy reports whether key was issued to customerID under scope.
// Customers may only attach evidence they uploaded themselves.
func KeyOwnedBy(key, scope string, customerID int64) bool {
	prefix := "evidence/" + scope + "/" + strconv.FormatInt(customerID, 10) + "/"
	return strings.HasPrefix(key, prefix) && !strings.Contains(key, "..")
}

func validScope(scope string) bool {
	switch scope {
	case ScopeReceipt, ScopeIDDocument, ScopeGnplPayment:
		return true
	}
	return false
}

func normalizeEndpoint(endpoint string, useSSL bool) string {
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http") {
		return endpoint
	}
	scheme := "https"
	if !useSSL {
		scheme = "http"
	}
	return scheme + "://" + endpoint
}
