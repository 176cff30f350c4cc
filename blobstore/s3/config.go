package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func loadConfig(ctx context.Context, o options) (aws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if o.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("s3: load aws config: %w", err)
	}
	return cfg, nil
}

func newClient(cfg aws.Config, o options) *s3.Client {
	return s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
			so.UsePathStyle = true
		}
	})
}

// New creates a Store from the default AWS configuration chain
// (environment, shared config, instance role).
func New(ctx context.Context, bucket string, opts ...Option) (*Store, error) {
	o := applyOptions(opts)
	cfg, err := loadConfig(ctx, o)
	if err != nil {
		return nil, err
	}
	return NewStore(newClient(cfg, o), bucket, o.prefix, opts...), nil
}

// NewWithCommits creates a DDBCommitStore from the default AWS configuration
// chain. Commit pointers are kept in the DynamoDB table tableName.
func NewWithCommits(ctx context.Context, bucket, tableName string, opts ...Option) (*DDBCommitStore, error) {
	o := applyOptions(opts)
	cfg, err := loadConfig(ctx, o)
	if err != nil {
		return nil, err
	}
	store := NewStore(newClient(cfg, o), bucket, o.prefix, opts...)
	baseURI := "s3://" + bucket + "/" + o.prefix
	return NewDDBCommitStore(store, dynamodb.NewFromConfig(cfg), tableName, baseURI), nil
}
