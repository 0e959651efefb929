// Package storage serves the presentation files attached to a meeting at
// creation time, backed by an S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"net/url"
	"path"
	"time"

	"roombroker/internal/bbb"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PresignTTL time.Duration
}

// PresentationStore lists a room's slides as presigned URLs the
// conferencing server can fetch without credentials.
type PresentationStore struct {
	cfg     S3Config
	s3      *s3.Client
	presign *s3.PresignClient
}

func NewPresentationStore(ctx context.Context, cfg S3Config) (*PresentationStore, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}
	if cfg.PresignTTL == 0 {
		cfg.PresignTTL = 6 * time.Hour
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if parsed, err := url.Parse(endpoint); err == nil {
			endpoint = parsed.String()
		}
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				if service == s3.ServiceID {
					return aws.Endpoint{URL: endpoint, SigningRegion: cfg.Region}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			}),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	return &PresentationStore{
		cfg:     cfg,
		s3:      s3Client,
		presign: s3.NewPresignClient(s3Client),
	}, nil
}

// RoomDocuments lists the room's presentation objects in key order and
// presigns a GET for each, so the first object is the default slide deck.
func (p *PresentationStore) RoomDocuments(ctx context.Context, roomID uuid.UUID) ([]bbb.Document, error) {
	prefix := "presentations/" + roomID.String() + "/"
	out, err := p.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, err
	}

	var documents []bbb.Document
	for _, object := range out.Contents {
		key := aws.ToString(object.Key)
		if key == prefix {
			continue
		}
		signed, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(p.cfg.Bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(p.cfg.PresignTTL))
		if err != nil {
			return nil, err
		}
		documents = append(documents, bbb.Document{
			URL:      signed.URL,
			Filename: path.Base(key),
		})
	}
	return documents, nil
}
