package evidence

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tracelight-io/tracelight/pkg/canonicalize"
	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// S3API is the slice of the S3 client the archiver needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver ships generated evidence packs to an object store bucket for
// long-term retention. Objects are keyed by decision id and content
// hash, so re-archiving an unchanged pack overwrites with identical
// bytes.
type Archiver struct {
	client S3API
	bucket string
	prefix string
}

// NewArchiver creates an archiver over an existing client.
func NewArchiver(client S3API, bucket, prefix string) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: prefix}
}

// NewArchiverFromEnv builds the S3 client from the ambient AWS
// configuration chain.
func NewArchiverFromEnv(ctx context.Context, bucket, prefix string) (*Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewArchiver(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// Archive verifies the pack and uploads its canonical JSON rendering.
// Returns the object key.
func (a *Archiver) Archive(ctx context.Context, pack *contracts.EvidencePack) (string, error) {
	if err := Verify(pack); err != nil {
		return "", err
	}
	body, err := canonicalize.JCS(pack)
	if err != nil {
		return "", err
	}

	key := path.Join(a.prefix, pack.DecisionID, pack.ContentHash+".json")
	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return "", fmt.Errorf("archive evidence pack %s: %w", pack.ID, err)
	}
	return key, nil
}
