// Package s3store reads demo assets and project metadata from S3.
//
// Layout (both prefixes optional):
//
//	s3://{bucket}/{assets-prefix}/{project}/{path...}
//	s3://{bucket}/{metadata-prefix}/{project}.json
package s3store

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/linnemanlabs-demos/internal/store"
	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

// maxMetadataBytes bounds a metadata document read, real ones are a few hundred bytes
const maxMetadataBytes = 64 << 10

// API is the subset of *s3.Client used here, extracted so tests can fake it.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Options configures a store. Bucket is required.
type Options struct {
	Client API
	Bucket string
	Prefix string
}

func (o Options) validate() error {
	if o.Client == nil {
		return xerrors.New("s3store: Client is required")
	}
	if o.Bucket == "" {
		return xerrors.New("s3store: Bucket is required")
	}
	return nil
}

func joinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// isNotFound maps the ways S3 reports a missing key onto store.ErrNotFound.
// GetObject returns NoSuchKey, HEAD-style calls and some S3-compatible
// backends only give a bare 404.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}

func getObject(ctx context.Context, o Options, key string) (*s3.GetObjectOutput, error) {
	full := joinKey(o.Prefix, key)
	out, err := o.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.Bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", o.Bucket, full)
	}
	return out, nil
}

func ping(ctx context.Context, o Options) error {
	if _, err := o.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(o.Bucket)}); err != nil {
		return xerrors.Wrapf(err, "head S3 bucket %s", o.Bucket)
	}
	return nil
}

// Objects is a store.ObjectStore backed by S3.
type Objects struct {
	opts Options
}

func NewObjects(opts Options) (*Objects, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Objects{opts: opts}, nil
}

func (s *Objects) Get(ctx context.Context, key string) (*store.Object, error) {
	out, err := getObject(ctx, s.opts, key)
	if err != nil {
		return nil, err
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &store.Object{
		Body:         out.Body,
		Size:         size,
		ETag:         aws.ToString(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (s *Objects) Ping(ctx context.Context) error { return ping(ctx, s.opts) }

// Metadata is a store.MetadataStore backed by JSON documents in S3.
type Metadata struct {
	opts Options
}

func NewMetadata(opts Options) (*Metadata, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Metadata{opts: opts}, nil
}

func (s *Metadata) Get(ctx context.Context, name string) (*store.ProjectMetadata, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, store.ErrNotFound
	}
	out, err := getObject(ctx, s.opts, name+".json")
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxMetadataBytes+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read metadata %q", name)
	}
	if len(data) > maxMetadataBytes {
		return nil, xerrors.Newf("metadata %q exceeds %d bytes", name, maxMetadataBytes)
	}
	return store.DecodeMetadata(name, data)
}

func (s *Metadata) List(ctx context.Context) ([]string, error) {
	prefix := joinKey(s.opts.Prefix, "")
	p := s3.NewListObjectsV2Paginator(s.opts.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.opts.Bucket),
		Prefix: aws.String(prefix),
	})

	var names []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, xerrors.Wrapf(err, "list S3 metadata s3://%s/%s", s.opts.Bucket, prefix)
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			// only direct children named <project>.json
			if strings.Contains(rel, "/") || !strings.HasSuffix(rel, ".json") {
				continue
			}
			if name := strings.TrimSuffix(rel, ".json"); name != "" {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Metadata) Ping(ctx context.Context) error { return ping(ctx, s.opts) }
