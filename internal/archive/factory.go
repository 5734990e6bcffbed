package archive

import (
	"context"
	"fmt"

	"thingsync/internal/archive/core"
	"thingsync/internal/infra/blob/fs"
	blobmemory "thingsync/internal/infra/blob/memory"
	"thingsync/internal/infra/blob/s3"
	"thingsync/internal/platform/config"
)

// Open selects an archive backend from cfg. An empty driver selects memory.
func Open(ctx context.Context, cfg config.Archive) (*Archive, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(store), nil
}

func openStore(ctx context.Context, cfg config.Archive) (core.Store, error) {
	driver := core.Driver(cfg.Driver)
	if driver == "" {
		driver = core.DriverMemory
	}
	switch driver {
	case core.DriverMemory:
		return blobmemory.New(), nil
	case core.DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case core.DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown archive driver %s", cfg.Driver)
	}
}
