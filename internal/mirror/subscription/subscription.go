// Package subscription manages the pub/sub control plane: subscribing the
// ingress endpoint to the bucket's notification topic, confirming the
// subscription when the challenge arrives, and unsubscribing on shutdown.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/dmitrijs2005/s3mirror/internal/logging"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newSNSClientFromConfig = func(cfg aws.Config, optFns ...func(*sns.Options)) *sns.Client {
		return sns.NewFromConfig(cfg, optFns...)
	}
)

// api is the subset of the SNS client the manager consumes.
type api interface {
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	ConfirmSubscription(ctx context.Context, params *sns.ConfirmSubscriptionInput, optFns ...func(*sns.Options)) (*sns.ConfirmSubscriptionOutput, error)
	Unsubscribe(ctx context.Context, params *sns.UnsubscribeInput, optFns ...func(*sns.Options)) (*sns.UnsubscribeOutput, error)
}

// Options configures the manager.
type Options struct {
	TopicARN     string
	Endpoint     string // public URL of the ingress, scheme selects protocol
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
	Logger       logging.Logger
}

// Manager holds the subscription state for one topic/endpoint pair.
// The state moves None → Requested → Confirmed → Unsubscribed; the stored
// subscription ARN is written by Subscribe/Confirm and read on shutdown.
type Manager struct {
	api      api
	topicARN string
	endpoint string
	log      logging.Logger

	mu              sync.Mutex
	subscriptionARN string
}

func New(ctx context.Context, opts Options) (*Manager, error) {
	if opts.TopicARN == "" || opts.Endpoint == "" {
		return nil, errors.New("subscription: topic arn and endpoint are required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newSNSClientFromConfig(cfg, func(o *sns.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
		}
	})

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewForLevel("NONE")
	}

	return &Manager{
		api:      client,
		topicARN: opts.TopicARN,
		endpoint: opts.Endpoint,
		log:      logger.With("module", "subscription"),
	}, nil
}

// Protocol derives the SNS delivery protocol from the endpoint URL.
func Protocol(endpoint string) string {
	if strings.HasPrefix(endpoint, "https://") {
		return "https"
	}
	return "http"
}

// Subscribe issues the Subscribe call. The returned identifier is usually
// "pending confirmation" until the topic delivers its challenge; an actual
// ARN (FIFO-less topics with ReturnSubscriptionArn) is stored right away.
func (m *Manager) Subscribe(ctx context.Context) error {
	out, err := m.api.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn:              aws.String(m.topicARN),
		Protocol:              aws.String(Protocol(m.endpoint)),
		Endpoint:              aws.String(m.endpoint),
		ReturnSubscriptionArn: true,
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", m.topicARN, err)
	}

	if out.SubscriptionArn != nil {
		m.setARN(*out.SubscriptionArn)
	}
	m.log.Info(ctx, "subscription requested", "topic_arn", m.topicARN, "endpoint", m.endpoint)
	return nil
}

// Confirm answers a SubscriptionConfirmation challenge.
func (m *Manager) Confirm(ctx context.Context, token string) error {
	out, err := m.api.ConfirmSubscription(ctx, &sns.ConfirmSubscriptionInput{
		TopicArn: aws.String(m.topicARN),
		Token:    aws.String(token),
	})
	if err != nil {
		return fmt.Errorf("confirm subscription: %w", err)
	}

	if out.SubscriptionArn != nil {
		m.setARN(*out.SubscriptionArn)
	}
	m.log.Info(ctx, "subscription confirmed", "topic_arn", m.topicARN)
	return nil
}

// Unsubscribe tears the subscription down. Without a usable ARN (never
// confirmed) it is a no-op.
func (m *Manager) Unsubscribe(ctx context.Context) error {
	arn := m.ARN()
	if !strings.HasPrefix(arn, "arn:") {
		m.log.Warn(ctx, "no subscription arn stored, skipping unsubscribe")
		return nil
	}

	if _, err := m.api.Unsubscribe(ctx, &sns.UnsubscribeInput{SubscriptionArn: aws.String(arn)}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", arn, err)
	}
	m.log.Info(ctx, "unsubscribed", "subscription_arn", arn)
	return nil
}

func (m *Manager) setARN(arn string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptionARN = arn
}

// ARN returns the stored subscription identifier, empty until known.
func (m *Manager) ARN() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptionARN
}
