package provisioning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
)

// LocalAssetProvisioner checks/creates a local filesystem prefix under BasePath.
type LocalAssetProvisioner struct {
	BasePath string
}

func NewLocalAssetProvisioner(basePath string) *LocalAssetProvisioner {
	if basePath == "" {
		panic("local asset provisioner requires basePath")
	}
	return &LocalAssetProvisioner{BasePath: basePath}
}

func (p *LocalAssetProvisioner) Ensure(ctx context.Context, prefix string) (service.AssetProvisionResult, error) {
	if prefix == "" {
		return service.AssetProvisionResult{}, fmt.Errorf("asset prefix is required")
	}
	fullPath := filepath.Join(p.BasePath, filepath.FromSlash(prefix))
	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return service.AssetProvisionResult{}, fmt.Errorf("create prefix path: %w", err)
	}
	return service.AssetProvisionResult{Ready: true, Location: fullPath}, nil
}

func (p *LocalAssetProvisioner) Check(ctx context.Context, prefix string) (service.AssetProvisionResult, error) {
	if prefix == "" {
		return service.AssetProvisionResult{}, fmt.Errorf("asset prefix is required")
	}
	fullPath := filepath.Join(p.BasePath, filepath.FromSlash(prefix))
	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return service.AssetProvisionResult{Location: fullPath}, nil
		}
		return service.AssetProvisionResult{}, err
	}
	return service.AssetProvisionResult{Ready: info.IsDir(), Location: fullPath}, nil
}

// GCSAssetProvisioner checks access to a GCS bucket/prefix. Prefixes are implicit in GCS,
// so Ensure only verifies reachability.
type GCSAssetProvisioner struct {
	Client *storage.Client
	Bucket string
}

func NewGCSAssetProvisioner(client *storage.Client, bucket string) *GCSAssetProvisioner {
	if client == nil {
		panic("gcs asset provisioner requires client")
	}
	if bucket == "" {
		panic("gcs asset provisioner requires bucket")
	}
	return &GCSAssetProvisioner{Client: client, Bucket: bucket}
}

func (p *GCSAssetProvisioner) Ensure(ctx context.Context, prefix string) (service.AssetProvisionResult, error) {
	return p.Check(ctx, prefix)
}

func (p *GCSAssetProvisioner) Check(ctx context.Context, prefix string) (service.AssetProvisionResult, error) {
	if prefix == "" {
		return service.AssetProvisionResult{}, fmt.Errorf("asset prefix is required")
	}

	bkt := p.Client.Bucket(p.Bucket)
	if _, err := bkt.Attrs(ctx); err != nil {
		return service.AssetProvisionResult{}, fmt.Errorf("bucket attrs: %w", err)
	}

	// List at most one object to validate access to the prefix; empty is fine.
	it := bkt.Objects(ctx, &storage.Query{Prefix: prefix})
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return service.AssetProvisionResult{}, fmt.Errorf("list prefix: %w", err)
	}

	return service.AssetProvisionResult{Ready: true, Location: "gs://" + p.Bucket + "/" + prefix}, nil
}

var (
	_ service.AssetProvisioner = (*LocalAssetProvisioner)(nil)
	_ service.AssetProvisioner = (*GCSAssetProvisioner)(nil)
)
