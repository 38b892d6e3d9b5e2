package translator

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// loadAWSConfig resolves an aws.Config from cfg. Static keys win over the
// default credential chain.
func loadAWSConfig(ctx context.Context, cfg ServiceConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}

// clientCache builds one SDK client per region and access key and reuses it
// for every later call with the same credentials.
type clientCache[T any] struct {
	mu      sync.Mutex
	clients map[string]T
	build   func(aws.Config) T
}

func newClientCache[T any](build func(aws.Config) T) *clientCache[T] {
	return &clientCache[T]{clients: make(map[string]T), build: build}
}

func (c *clientCache[T]) get(ctx context.Context, cfg ServiceConfig) (T, error) {
	key := cfg.Region + "|" + cfg.AccessKeyID

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[key]; ok {
		return client, nil
	}
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		var zero T
		return zero, err
	}
	client := c.build(awsCfg)
	c.clients[key] = client
	return client, nil
}
