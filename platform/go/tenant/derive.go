package tenant

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// IncludeDir holds the private descriptor and generated overlays of a world.
	IncludeDir = "include"
	// PublicDir holds the world's publicly served assets.
	PublicDir = "public"
	// DescriptorFile is the connection descriptor name inside IncludeDir.
	DescriptorFile = "connection.yaml"
	// OverlayFile is the generated runtime config overlay inside IncludeDir.
	OverlayFile = "config.custom.yaml"
	// EnvFile optionally marks a world as a development instance.
	EnvFile = "env.yaml"
)

var (
	hostPort   = regexp.MustCompile(`:\d+$`)
	hostPrefix = regexp.MustCompile(`(?i)^www\.`)
)

// ToSnake converts a kebab-case slug into snake_case for database names.
func ToSnake(slug string) string {
	return strings.ReplaceAll(strings.ToLower(slug), "-", "_")
}

// BuildDatabaseName returns the default tenant database name: worlds_<slug_snake>.
func BuildDatabaseName(slug string) string {
	return "worlds_" + ToSnake(slug)
}

// BaseDomain returns the host of indexURL without port and leading "www.".
// A value without scheme is treated as http. Falls back to "localhost" when no host can be parsed.
func BaseDomain(indexURL string) string {
	raw := strings.TrimSpace(indexURL)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	host := ""
	if u, err := url.Parse(raw); err == nil {
		host = u.Host
	}
	if host == "" {
		host = "localhost"
	}
	host = hostPort.ReplaceAllString(host, "")
	return hostPrefix.ReplaceAllString(host, "")
}

// GameWorldURL returns the public URL http://<slug>.<baseDomain>/.
func GameWorldURL(slug, baseDomain string) string {
	return "http://" + slug + "." + baseDomain + "/"
}

// WorldRoot returns the tenant tree path under worldsRoot.
func WorldRoot(worldsRoot, slug string) string {
	return filepath.Join(worldsRoot, slug)
}

// DescriptorPath returns the connection descriptor location inside a world tree.
func DescriptorPath(worldRoot string) string {
	return filepath.Join(worldRoot, IncludeDir, DescriptorFile)
}
