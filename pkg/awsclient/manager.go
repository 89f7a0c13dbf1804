// Package awsclient builds SQS and S3 clients from one shared AWS configuration,
// caching an assume-role credentials provider per (region, role).
package awsclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

type roleKey struct {
	Region  string
	RoleARN string
}

// Manager owns the base AWS config and a single STS client.
type Manager struct {
	baseCfg     aws.Config
	stsClient   *sts.Client
	sessionName string

	mu        sync.RWMutex
	providers map[roleKey]aws.CredentialsProvider
}

type managerConfig struct {
	sessionName string
	loadOptions []func(*config.LoadOptions) error
}

// ManagerOption configures NewManager.
type ManagerOption func(*managerConfig)

// WithAssumeRoleSessionName sets the session name used for assumed roles.
func WithAssumeRoleSessionName(name string) ManagerOption {
	return func(c *managerConfig) {
		c.sessionName = name
	}
}

// WithDefaultRegion sets the region used when a client does not override it.
func WithDefaultRegion(region string) ManagerOption {
	return func(c *managerConfig) {
		if region != "" {
			c.loadOptions = append(c.loadOptions, config.WithRegion(region))
		}
	}
}

// WithStaticCredentials replaces the default credential chain, e.g. for LocalStack.
func WithStaticCredentials(accessKeyID, secretAccessKey, sessionToken string) ManagerOption {
	return func(c *managerConfig) {
		c.loadOptions = append(c.loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken),
		))
	}
}

// NewManager loads the default AWS config chain.
func NewManager(ctx context.Context, opts ...ManagerOption) (*Manager, error) {
	mc := managerConfig{sessionName: "trailflow"}
	for _, opt := range opts {
		opt(&mc)
	}

	cfg, err := config.LoadDefaultConfig(ctx, mc.loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Manager{
		baseCfg:     cfg,
		stsClient:   sts.NewFromConfig(cfg),
		sessionName: mc.sessionName,
		providers:   make(map[roleKey]aws.CredentialsProvider),
	}, nil
}

// Region returns the default region.
func (m *Manager) Region() string {
	return m.baseCfg.Region
}

// credentialsFor returns the cached provider for key, creating it on first use.
func (m *Manager) credentialsFor(key roleKey) aws.CredentialsProvider {
	m.mu.RLock()
	provider, ok := m.providers[key]
	m.mu.RUnlock()
	if ok {
		return provider
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if provider, ok = m.providers[key]; ok {
		return provider
	}
	if key.RoleARN == "" {
		provider = m.baseCfg.Credentials
	} else {
		p := stscreds.NewAssumeRoleProvider(m.stsClient, key.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = m.sessionName
		})
		provider = aws.NewCredentialsCache(p)
	}
	m.providers[key] = provider
	return provider
}

// configFor copies the base config with the region and credentials for the call.
func (m *Manager) configFor(cc clientConfig) aws.Config {
	cfg := m.baseCfg.Copy()
	cfg.Region = cc.Region
	cfg.Credentials = m.credentialsFor(roleKey{Region: cc.Region, RoleARN: cc.RoleARN})
	return cfg
}
