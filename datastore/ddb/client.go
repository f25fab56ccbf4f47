/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Client is the part of the DynamoDB API the store uses. *dynamodb.Client
// satisfies it.
type Client interface {
	GetItem(ctx context.Context, in *sdk.GetItemInput, opts ...func(*sdk.Options)) (*sdk.GetItemOutput, error)
	PutItem(ctx context.Context, in *sdk.PutItemInput, opts ...func(*sdk.Options)) (*sdk.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *sdk.DeleteItemInput, opts ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, in *sdk.BatchWriteItemInput, opts ...func(*sdk.Options)) (*sdk.BatchWriteItemOutput, error)
	Query(ctx context.Context, in *sdk.QueryInput, opts ...func(*sdk.Options)) (*sdk.QueryOutput, error)
	Scan(ctx context.Context, in *sdk.ScanInput, opts ...func(*sdk.Options)) (*sdk.ScanOutput, error)
	DescribeTable(ctx context.Context, in *sdk.DescribeTableInput, opts ...func(*sdk.Options)) (*sdk.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *sdk.CreateTableInput, opts ...func(*sdk.Options)) (*sdk.CreateTableOutput, error)
}

var _ Client = (*sdk.Client)(nil)

// ClientOptions configures NewClient.
type ClientOptions struct {
	Region string
	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local.
	Endpoint string
	// AccessKey and SecretKey select static credentials. When empty the
	// default credential chain is used.
	AccessKey string
	SecretKey string
	// MaxRetries sets the SDK retryer's attempt limit when positive.
	MaxRetries int
}

// NewClient initializes a DynamoDB client.
func NewClient(ctx context.Context, opts ClientOptions) (*sdk.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	if opts.MaxRetries > 0 {
		loadOpts = append(loadOpts, awsconfig.WithRetryMaxAttempts(opts.MaxRetries))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return sdk.NewFromConfig(cfg, func(o *sdk.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}
