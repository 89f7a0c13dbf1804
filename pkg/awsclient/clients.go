package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type clientConfig struct {
	RoleARN   string
	Region    string
	Endpoint  string
	PathStyle bool
}

// ClientOption is a functional option for GetS3 and GetSQS.
type ClientOption func(*clientConfig)

// WithRole sets the IAM Role ARN to assume (empty = no assume).
func WithRole(roleARN string) ClientOption {
	return func(c *clientConfig) {
		c.RoleARN = roleARN
	}
}

// WithRegion overrides the AWS region for this client.
func WithRegion(region string) ClientOption {
	return func(c *clientConfig) {
		if region != "" {
			c.Region = region
		}
	}
}

// WithEndpoint forces a custom endpoint (LocalStack, MinIO).
func WithEndpoint(url string) ClientOption {
	return func(c *clientConfig) {
		c.Endpoint = url
	}
}

// WithPathStyle uses path-style S3 addressing. Ignored for SQS.
func WithPathStyle() ClientOption {
	return func(c *clientConfig) {
		c.PathStyle = true
	}
}

func (m *Manager) resolve(opts []ClientOption) clientConfig {
	cc := clientConfig{Region: m.baseCfg.Region}
	for _, o := range opts {
		o(&cc)
	}
	return cc
}

// GetS3 returns an S3 client for the requested region and role.
func (m *Manager) GetS3(_ context.Context, opts ...ClientOption) *s3.Client {
	cc := m.resolve(opts)
	return s3.NewFromConfig(m.configFor(cc), func(o *s3.Options) {
		if cc.Endpoint != "" {
			o.BaseEndpoint = aws.String(cc.Endpoint)
		}
		o.UsePathStyle = cc.PathStyle
	})
}

// GetSQS returns an SQS client for the requested region and role.
func (m *Manager) GetSQS(_ context.Context, opts ...ClientOption) *sqs.Client {
	cc := m.resolve(opts)
	return sqs.NewFromConfig(m.configFor(cc), func(o *sqs.Options) {
		if cc.Endpoint != "" {
			o.BaseEndpoint = aws.String(cc.Endpoint)
		}
	})
}
