package cloudformation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stackmason/stackmason/pkg/blueprint"
	"github.com/stackmason/stackmason/pkg/engine"
	"github.com/stackmason/stackmason/pkg/telemetry"
)

// InlineLimit is the largest template body CloudFormation accepts inline.
// Bigger templates must be submitted by URL.
const InlineLimit = 51200

// S3API is the S3 surface the publisher uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// PublisherConfig holds template publisher configuration.
type PublisherConfig struct {
	// Bucket is the S3 bucket templates are pushed to. Empty means
	// inline-only submission.
	Bucket string

	// Prefix is the key prefix inside the bucket.
	Prefix string

	// Region is the bucket's region, used to build retrieval URLs.
	Region string
}

// Publisher pushes rendered templates to S3 when a bucket is configured or
// the body exceeds the inline limit; small templates without a bucket are
// passed through inline.
type Publisher struct {
	api    S3API
	cfg    PublisherConfig
	logger *telemetry.Logger
}

// NewPublisher builds a publisher from the ambient AWS credential chain.
func NewPublisher(ctx context.Context, cfg PublisherConfig, logger *telemetry.Logger) (*Publisher, error) {
	if cfg.Bucket == "" {
		return NewPublisherWithAPI(nil, cfg, logger), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, engine.NewPermanentError("loading AWS configuration", err).
			WithCode(engine.ErrCodeProviderFailed)
	}
	return NewPublisherWithAPI(s3.NewFromConfig(awsCfg), cfg, logger), nil
}

// NewPublisherWithAPI builds a publisher around an existing S3 client. The
// client may be nil when no bucket is configured.
func NewPublisherWithAPI(api S3API, cfg PublisherConfig, logger *telemetry.Logger) *Publisher {
	return &Publisher{
		api:    api,
		cfg:    cfg,
		logger: logger.NewComponentLogger("publisher"),
	}
}

// Push publishes the blueprint's template body for the named stack.
func (p *Publisher) Push(ctx context.Context, bp *blueprint.Blueprint, fqn string) (engine.TemplateLocation, error) {
	body := bp.Body()

	if p.cfg.Bucket == "" {
		if len(body) > InlineLimit {
			return engine.TemplateLocation{}, engine.NewPermanentError(
				fmt.Sprintf("template is %d bytes, over the %d byte inline limit, and no mason_bucket is configured", len(body), InlineLimit), nil).
				WithStack(fqn).WithCode(engine.ErrCodeTemplateInvalid)
		}
		return engine.TemplateLocation{Body: string(body)}, nil
	}

	key := p.objectKey(fqn, body)
	started := time.Now()
	_, err := p.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-yaml"),
	})
	if err != nil {
		return engine.TemplateLocation{}, classify(err).WithStack(fqn).WithOperation("publish")
	}

	url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.cfg.Bucket, p.cfg.Region, key)
	p.logger.WithStack(fqn).
		WithField("key", key).
		WithField("duration", time.Since(started)).
		Debug("Template pushed")
	return engine.TemplateLocation{URL: url}, nil
}

// objectKey names the object by stack and content digest so republishing
// an unchanged template is idempotent and revisions never collide.
func (p *Publisher) objectKey(fqn string, body []byte) string {
	digest := sha256.Sum256(body)
	key := fmt.Sprintf("%s-%x.yaml", fqn, digest[:8])
	if p.cfg.Prefix != "" {
		key = strings.TrimSuffix(p.cfg.Prefix, "/") + "/" + key
	}
	return key
}
