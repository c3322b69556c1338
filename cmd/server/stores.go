package main

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-demos/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-demos/internal/health"
	"github.com/keithlinneman/linnemanlabs-demos/internal/log"
	"github.com/keithlinneman/linnemanlabs-demos/internal/store"
	"github.com/keithlinneman/linnemanlabs-demos/internal/store/memstore"
	"github.com/keithlinneman/linnemanlabs-demos/internal/store/redisstore"
	"github.com/keithlinneman/linnemanlabs-demos/internal/store/s3store"
	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

// stores holds the configured backends plus anything that needs closing.
type stores struct {
	objects  store.ObjectStore
	metadata store.MetadataStore

	// probes checked by readiness, keyed by a short name
	pingers map[string]store.Pinger
	closers []func() error
}

func (s *stores) Close() {
	for _, c := range s.closers {
		_ = c()
	}
}

// readiness wraps each store ping with a timeout and a name for the 503 body.
func (s *stores) readiness() []health.Probe {
	var out []health.Probe
	for name, p := range s.pingers {
		out = append(out, health.Named(name, health.Timeout(health.CheckFunc(p.Ping), storePingTimeout)))
	}
	return out
}

func openStores(ctx context.Context, L log.Logger, conf cfg.App, awsCfg func() (aws.Config, error)) (*stores, error) {
	st := &stores{pingers: map[string]store.Pinger{}}

	var memObjs *memstore.Objects
	var memMeta *memstore.Metadata
	if conf.NeedsSeed() {
		memObjs = memstore.NewObjects()
		memMeta = memstore.NewMetadata()
		loaded, err := memstore.LoadDir(os.DirFS(conf.SeedDir), memObjs, memMeta)
		if err != nil {
			return nil, xerrors.Wrapf(err, "seed memory store from %s", conf.SeedDir)
		}
		L.Info(ctx, "seeded memory store", "seed_dir", conf.SeedDir, "projects", loaded, "objects", memObjs.Len())
	}

	var s3Client *s3.Client
	if conf.StoreBackend == cfg.BackendS3 || conf.MetadataBackend == cfg.BackendS3 {
		ac, err := awsCfg()
		if err != nil {
			return nil, xerrors.Wrap(err, "load aws config")
		}
		s3Client = s3.NewFromConfig(ac)
	}

	switch conf.StoreBackend {
	case cfg.BackendS3:
		objs, err := s3store.NewObjects(s3store.Options{
			Client: s3Client,
			Bucket: conf.AssetsS3Bucket,
			Prefix: conf.AssetsS3Prefix,
		})
		if err != nil {
			return nil, err
		}
		st.objects = objs
		st.pingers["objects"] = objs
	case cfg.BackendMemory:
		st.objects = memObjs
	default:
		return nil, xerrors.Newf("unsupported store backend %q", conf.StoreBackend)
	}

	switch conf.MetadataBackend {
	case cfg.BackendS3:
		meta, err := s3store.NewMetadata(s3store.Options{
			Client: s3Client,
			Bucket: conf.AssetsS3Bucket,
			Prefix: conf.MetadataS3Prefix,
		})
		if err != nil {
			return nil, err
		}
		st.metadata = meta
		st.pingers["metadata"] = meta
	case cfg.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr: conf.RedisAddr,
			DB:   conf.RedisDB,
		})
		st.closers = append(st.closers, rdb.Close)
		meta, err := redisstore.NewMetadata(rdb, redisstore.WithPrefix(conf.RedisPrefix))
		if err != nil {
			return nil, err
		}
		st.metadata = meta
		st.pingers["metadata"] = meta
	case cfg.BackendMemory:
		st.metadata = memMeta
		st.pingers["metadata"] = memMeta
	default:
		return nil, xerrors.Newf("unsupported metadata backend %q", conf.MetadataBackend)
	}

	return st, nil
}
