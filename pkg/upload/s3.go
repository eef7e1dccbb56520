package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/forcelab/eoltester/pkg/sequence"
	"github.com/sirupsen/logrus"
)

// Config parameterizes the S3 target.
type Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	EndpointURL     string `yaml:"endpoint_url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	StorageClass    string `yaml:"storage_class"`
	ACL             string `yaml:"acl"`
}

// Validate checks the target description.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Bucket == "" {
		return fmt.Errorf("upload enabled but bucket is empty")
	}

	return nil
}

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log    logrus.FieldLogger
	cfg    Config
	client *s3.Client
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates an uploader from the given configuration.
// Without static keys the default AWS credential chain is used.
func NewS3Uploader(log logrus.FieldLogger, cfg Config) (Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var defaultProvider aws.CredentialsProvider

	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading default aws config: %w", err)
		}

		defaultProvider = awsCfg.Credentials
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			} else if defaultProvider != nil {
				o.Credentials = defaultProvider
			}
		},
	}

	return &s3Uploader{
		log:    log.WithField("component", "s3-uploader"),
		cfg:    cfg,
		client: s3.New(s3.Options{}, opts...),
	}, nil
}

// Preflight verifies S3 connectivity by writing a small test object.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("eoltester write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(".eoltester-write-test"),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.Bucket, err)
	}

	return nil
}

// Upload writes the result record as JSON under the configured prefix.
func (u *s3Uploader) Upload(ctx context.Context, result *sequence.TestResult) error {
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	key := u.resolveKey(result)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	}

	if u.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(u.cfg.StorageClass)
	}

	if u.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(u.cfg.ACL)
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject %s: %w", key, err)
	}

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
	}).Info("Result uploaded")

	return nil
}

// resolveKey builds the object key for a result: one JSON document per
// execution, bucketed by start date.
func (u *s3Uploader) resolveKey(result *sequence.TestResult) string {
	prefix := u.cfg.Prefix
	if prefix == "" {
		prefix = "results"
	}

	return fmt.Sprintf("%s/%s/%s.json",
		strings.TrimRight(prefix, "/"),
		result.StartedAt.UTC().Format("2006-01-02"),
		result.ExecutionID,
	)
}
