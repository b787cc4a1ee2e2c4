// Package session provides AWS session management and DynamoDB client configuration
package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/pay-theory/docorm/internal/logging"
)

// configLoadFunc is a variable to allow mocking config.LoadDefaultConfig in tests
var configLoadFunc = config.LoadDefaultConfig

// Config holds the AWS settings for the DynamoDB backend
type Config struct {
	Region   string
	Endpoint string

	// Static credentials; when empty the default provider chain is used
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// RoleARN, when set, is assumed through STS on top of the base credentials
	RoleARN         string
	ExternalID      string
	SessionDuration time.Duration

	MaxRetries       int
	AWSConfigOptions []func(*config.LoadOptions) error
	DynamoDBOptions  []func(*dynamodb.Options)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Region:     "us-east-1",
		MaxRetries: 3,
	}
}

// Session manages the AWS session and DynamoDB client
type Session struct {
	config    *Config
	client    *dynamodb.Client
	awsConfig aws.Config
}

// NewSession creates a new session with the given configuration
func NewSession(ctx context.Context, cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	options := make([]func(*config.LoadOptions) error, 0, len(cfg.AWSConfigOptions)+5)

	if cfg.Region != "" {
		options = append(options, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3 // Default
	}
	options = append(options, config.WithRetryMode(aws.RetryModeStandard))
	options = append(options, config.WithRetryMaxAttempts(maxAttempts))

	options = append(options, config.WithHTTPClient(&http.Client{}))

	options = append(options, cfg.AWSConfigOptions...)

	awsConfig, err := configLoadFunc(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if awsConfig.Retryer == nil {
		awsConfig.Retryer = func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = maxAttempts
			})
		}
	}

	if cfg.RoleARN != "" {
		awsConfig.Credentials = assumeRole(awsConfig, cfg)
		logging.Info().Str("role_arn", cfg.RoleARN).Msg("assuming role for dynamodb access")
	}

	clientOptions := []func(*dynamodb.Options){
		func(o *dynamodb.Options) {
			o.Region = awsConfig.Region

			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			if o.Retryer == nil {
				o.Retryer = awsConfig.Retryer()
			}
			if o.HTTPClient == nil {
				o.HTTPClient = &http.Client{}
			}
		},
	}
	clientOptions = append(clientOptions, cfg.DynamoDBOptions...)

	client := dynamodb.NewFromConfig(awsConfig, clientOptions...)

	return &Session{
		config:    cfg,
		awsConfig: awsConfig,
		client:    client,
	}, nil
}

// assumeRole returns cached credentials for cfg.RoleARN, obtained with the
// base credentials in awsConfig
func assumeRole(awsConfig aws.Config, cfg *Config) aws.CredentialsProvider {
	duration := cfg.SessionDuration
	if duration == 0 {
		duration = time.Hour
	}

	stsClient := sts.NewFromConfig(awsConfig)
	provider := stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
		if cfg.ExternalID != "" {
			o.ExternalID = aws.String(cfg.ExternalID)
		}
		o.RoleSessionName = "docorm"
		o.Duration = duration
	})
	return aws.NewCredentialsCache(provider)
}

// Client returns the DynamoDB client
func (s *Session) Client() (*dynamodb.Client, error) {
	if s == nil {
		return nil, fmt.Errorf("session is nil")
	}
	if s.client == nil {
		return nil, fmt.Errorf("DynamoDB client is nil")
	}
	return s.client, nil
}

// Config returns the session configuration
func (s *Session) Config() *Config {
	return s.config
}

// AWSConfig returns the AWS configuration
func (s *Session) AWSConfig() aws.Config {
	return s.awsConfig
}
