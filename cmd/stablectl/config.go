package main

import (
	"context"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/stablestate/archive"
	"github.com/hupe1980/stablestate/blobstore"
	"github.com/hupe1980/stablestate/blobstore/minio"
	"github.com/hupe1980/stablestate/blobstore/s3"
	"github.com/hupe1980/stablestate/internal/cache"
	"github.com/hupe1980/stablestate/internal/resource"
)

// archiveConfig is the YAML file passed with --config.
//
//	target: s3
//	compression: zstd
//	chunk_size: 1048576
//	max_transfers: 4
//	s3:
//	  bucket: backups
//	  prefix: canister-a
//	  commit_table: stablestate-commits
type archiveConfig struct {
	Target        string       `yaml:"target"`
	Compression   string       `yaml:"compression"`
	ChunkSize     int          `yaml:"chunk_size"`
	MaxTransfers  int64        `yaml:"max_transfers"`
	IOBytesPerSec int64        `yaml:"io_bytes_per_sec"`
	Keep          int          `yaml:"keep"`
	CacheBytes    int64        `yaml:"cache_bytes"`
	Local         localConfig  `yaml:"local"`
	S3            s3Config     `yaml:"s3"`
	MinIO         minio.Config `yaml:"minio"`
}

type localConfig struct {
	Root string `yaml:"root"`
}

type s3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	// CommitTable, when set, keeps the CURRENT pointer in DynamoDB.
	CommitTable string `yaml:"commit_table"`
}

func loadArchiveConfig(path string) (*archiveConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &archiveConfig{Target: "local", Compression: "zstd"}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return cfg, nil
}

func (c *archiveConfig) store(ctx context.Context) (blobstore.BlobStore, error) {
	switch c.Target {
	case "local":
		if c.Local.Root == "" {
			return nil, errors.New("local.root is required")
		}
		return blobstore.NewLocalStore(c.Local.Root), nil
	case "minio":
		st, err := minio.Dial(c.MinIO)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "s3":
		return c.s3Store(ctx)
	default:
		return nil, errors.Newf("unknown archive target %q", c.Target)
	}
}

func (c *archiveConfig) s3Store(ctx context.Context) (blobstore.BlobStore, error) {
	if c.S3.Bucket == "" {
		return nil, errors.New("s3.bucket is required")
	}
	opts := []s3.Option{s3.WithPrefix(c.S3.Prefix)}
	if c.S3.Region != "" {
		opts = append(opts, s3.WithRegion(c.S3.Region))
	}
	if c.S3.Endpoint != "" {
		opts = append(opts, s3.WithEndpoint(c.S3.Endpoint))
	}
	st, err := s3.New(ctx, c.S3.Bucket, opts...)
	if err != nil {
		return nil, err
	}
	if c.S3.CommitTable == "" {
		return st, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if c.S3.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(c.S3.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	baseURI := "s3://" + c.S3.Bucket + "/" + c.S3.Prefix
	return s3.NewDDBCommitStore(st, dynamodb.NewFromConfig(awsCfg), c.S3.CommitTable, baseURI), nil
}

func (c *archiveConfig) archiver(ctx context.Context) (*archive.Archiver, error) {
	st, err := c.store(ctx)
	if err != nil {
		return nil, err
	}
	rc := resource.NewController(resource.Config{
		MaxTransfers:  c.MaxTransfers,
		IOBytesPerSec: c.IOBytesPerSec,
	})
	if c.CacheBytes > 0 {
		st = blobstore.NewCachingStore(st, cache.NewLRU[string](c.CacheBytes, rc))
	}
	comp, err := archive.ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	opts := []archive.Option{
		archive.WithCompression(comp),
		archive.WithResourceController(rc),
	}
	if c.ChunkSize > 0 {
		opts = append(opts, archive.WithChunkSize(c.ChunkSize))
	}
	if l, err := logger(); err == nil {
		opts = append(opts, archive.WithLogger(l.WithComponent("archive").Logger))
	}
	return archive.New(st, opts...), nil
}
