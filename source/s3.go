// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	docengine "github.com/sassoftware/viya-doc-engine"
	"github.com/sassoftware/viya-doc-engine/logger"
)

// DefaultMaxObjectSize caps how much of an object S3 sources read.
const DefaultMaxObjectSize int64 = 512 << 20

// ObjectGetter is the part of *s3.Client a source needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds a client from the default AWS credential chain. An empty
// region keeps whatever the environment configures.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// S3 is a document stored as an S3 object.
type S3 struct {
	Client ObjectGetter
	Bucket string
	Key    string
	// MaxSize bounds the object size; 0 means DefaultMaxObjectSize.
	MaxSize int64
}

func (o *S3) Load(ctx context.Context) ([]byte, error) {
	limit := o.MaxSize
	if limit <= 0 {
		limit = DefaultMaxObjectSize
	}
	logger.Debug("Downloading document", "bucket", o.Bucket, "key", o.Key)

	out, err := o.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.Bucket),
		Key:    aws.String(o.Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nsb *types.NoSuchBucket
		if errors.As(err, &nsk) || errors.As(err, &nsb) {
			return nil, docengine.Errorf(docengine.KindNotFound, "%s: %w", o.String(), err)
		}
		return nil, fmt.Errorf("failed to download %s: %w", o.String(), err)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > limit {
		return nil, docengine.Errorf(docengine.KindInvalidContent, "%s is %d bytes, limit %d", o.String(), *out.ContentLength, limit)
	}
	data, err := io.ReadAll(io.LimitReader(out.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", o.String(), err)
	}
	if int64(len(data)) > limit {
		return nil, docengine.Errorf(docengine.KindInvalidContent, "%s exceeds %d bytes", o.String(), limit)
	}
	if len(data) == 0 {
		return nil, docengine.Errorf(docengine.KindInvalidContent, "%s is empty", o.String())
	}
	return data, nil
}

func (o *S3) String() string { return "s3://" + o.Bucket + "/" + o.Key }
