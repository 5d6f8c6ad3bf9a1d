// Package cache provides short-lived result caches with tag based invalidation.
package cache

import (
	"strings"
	"time"

	"github.com/cyverse/cloudgw/logging"
	"github.com/sirupsen/logrus"
)

var log = logging.GetLogger().WithFields(logrus.Fields{"package": "cache"})

// Cache stores opaque values for a limited time. Every entry may carry tags that allow groups of entries to be
// removed at once. A cold cache behaves exactly like a cache in which every lookup misses.
type Cache interface {
	// Get returns the value stored for the key, if there is one that hasn't expired.
	Get(key string) ([]byte, bool)

	// Put stores a value for the key, replacing any existing value.
	Put(key string, value []byte, ttl time.Duration, tags ...string) error

	// Invalidate removes the value stored for the key.
	Invalidate(key string) error

	// InvalidateTag removes every value carrying the tag.
	InvalidateTag(tag string) error

	// Close releases any resources held by the cache.
	Close() error
}

// Tags used to group cache entries.
const (
	TagServers = "servers"
)

// UserTag returns the tag shared by every entry cached on behalf of a principal.
func UserTag(principalID string) string {
	return "user:" + principalID
}

// ResourceTag returns the tag shared by every entry describing a resource.
func ResourceTag(resourceID string) string {
	return "resource:" + resourceID
}

// OrganizationTag returns the tag shared by every entry describing resources in an organization.
func OrganizationTag(organizationID string) string {
	return "organization:" + organizationID
}

// ListKey returns the key for a principal's resource listing.
func ListKey(principalID string) string {
	return "resources:list:" + principalID
}

// GetKey returns the key for a single resource fetched on behalf of a principal.
func GetKey(principalID, resourceID string) string {
	return strings.Join([]string{"resources:get", principalID, resourceID}, ":")
}

// MetricsKey returns the key for a resource's metrics fetched on behalf of a principal.
func MetricsKey(principalID, resourceID string) string {
	return strings.Join([]string{"resources:metrics", principalID, resourceID}, ":")
}

// Catalog keys.
const (
	ServerTypesKey = "catalog:server-types"
	LocationsKey   = "catalog:locations"
)
