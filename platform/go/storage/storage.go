package storage

import (
	"fmt"
	"strings"

	"github.com/zenGate-Global/palmyra-worlds/platform/go/persistence"
)

// PublicRoot is the object prefix under which every world's public assets live.
const PublicRoot = "worlds"

// ObjectLocation describes where a blob should live.
type ObjectLocation struct {
	Bucket   string
	FullPath string
}

// PublicPrefix returns "worlds/<slug>/public/" for a valid world id.
func PublicPrefix(worldID string) (string, error) {
	if err := persistence.ValidateWorldID(worldID); err != nil {
		return "", err
	}
	return PublicRoot + "/" + worldID + "/public/", nil
}

// ResolveObjectLocation combines a world's public prefix and a logical key into a bucket/path pair.
//   - bucket comes from deployment configuration (STORAGE_BUCKET).
//   - logicalKey is world-relative, such as "img/map.png".
func ResolveObjectLocation(bucket, worldID, logicalKey string) (ObjectLocation, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return ObjectLocation{}, fmt.Errorf("bucket is required")
	}
	key := strings.TrimPrefix(strings.TrimSpace(logicalKey), "/")
	if key == "" {
		return ObjectLocation{}, fmt.Errorf("logical key is required")
	}
	if strings.Contains(key, "..") {
		return ObjectLocation{}, fmt.Errorf("logical key %q must not contain '..'", key)
	}

	prefix, err := PublicPrefix(worldID)
	if err != nil {
		return ObjectLocation{}, err
	}
	return ObjectLocation{Bucket: bucket, FullPath: prefix + key}, nil
}
