// Package descriptor renders, parses and confines the per-world connection descriptor,
// the private file holding a world's database credentials and derived runtime constants.
package descriptor

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/zenGate-Global/palmyra-worlds/platform/go/worlddb"
)

// Errors returned while locating or reading a descriptor.
var (
	ErrPathEscape        = errors.New("descriptor path escapes the worlds root")
	ErrDescriptorMissing = errors.New("connection descriptor not found")
	ErrUnresolvedToken   = errors.New("descriptor has unresolved tokens")
	ErrInvalid           = errors.New("descriptor failed schema validation")
)

//go:embed descriptor.schema.json
var schemaJSON []byte

const schemaURL = "https://palmyra.pro/schemas/connection-descriptor.json"

// Descriptor is the parsed connection descriptor.
type Descriptor struct {
	PaymentFeaturesTotallyDisabled bool          `yaml:"paymentFeaturesTotallyDisabled" json:"paymentFeaturesTotallyDisabled"`
	Title                          string        `yaml:"title" json:"title"`
	GameWorldURL                   string        `yaml:"gameWorldUrl" json:"gameWorldUrl"`
	ServerName                     string        `yaml:"serverName" json:"serverName"`
	Database                       Database      `yaml:"database" json:"database"`
	Settings                       Settings      `yaml:"settings" json:"settings"`
	Game                           Game          `yaml:"game" json:"game"`
	AutoReinstall                  AutoReinstall `yaml:"autoReinstall" json:"autoReinstall"`
}

type Database struct {
	Hostname string `yaml:"hostname" json:"hostname"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	Charset  string `yaml:"charset" json:"charset"`
}

type Settings struct {
	WorldID        string `yaml:"worldId" json:"worldId"`
	WorldUniqueID  int64  `yaml:"worldUniqueId" json:"worldUniqueId"`
	SecureHash     string `yaml:"secureHash" json:"secureHash"`
	EngineFilename string `yaml:"engineFilename" json:"engineFilename"`
}

// Game start time is a unix timestamp in seconds.
type Game struct {
	Speed       int64 `yaml:"speed" json:"speed"`
	StartTime   int64 `yaml:"startTime" json:"startTime"`
	RoundLength int   `yaml:"roundLength" json:"roundLength"`
}

type AutoReinstall struct {
	Enabled    bool  `yaml:"enabled" json:"enabled"`
	StartAfter int64 `yaml:"startAfter" json:"startAfter"`
}

// Target returns the tenant database connection target.
func (d Descriptor) Target() worlddb.Target {
	return worlddb.Target{
		Host:     d.Database.Hostname,
		User:     d.Database.Username,
		Password: d.Database.Password,
		Database: d.Database.Database,
	}
}

// Parse decodes a fully rendered descriptor and validates it against the embedded schema.
func Parse(raw []byte) (Descriptor, error) {
	if leftovers := Unresolved(string(raw)); len(leftovers) > 0 {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnresolvedToken, strings.Join(leftovers, ", "))
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	if err := validate(doc); err != nil {
		return Descriptor{}, err
	}

	var d Descriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	return d, nil
}

// Load reads and parses the descriptor at path. Callers confine the path first.
func Load(path string) (Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Descriptor{}, fmt.Errorf("%w: %s", ErrDescriptorMissing, path)
		}
		return Descriptor{}, fmt.Errorf("read descriptor: %w", err)
	}
	return Parse(raw)
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func validate(doc map[string]any) error {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			compileErr = fmt.Errorf("register descriptor schema: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile(schemaURL)
	})
	if compileErr != nil {
		return compileErr
	}

	// yaml decodes integers as int; round-trip through JSON so the validator sees json.Number-compatible values
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return fmt.Errorf("decode descriptor: %w", err)
	}
	if err := compiled.Validate(document); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Confine resolves path to its canonical absolute form and checks that it lies strictly under
// root, following symlinks on both sides. A relative path is taken relative to root.
// A path outside root yields ErrPathEscape; a confined path with no regular file behind it
// yields ErrDescriptorMissing.
func Confine(root, path string) (string, error) {
	canonicalRoot, err := canonical(root)
	if err != nil {
		return "", fmt.Errorf("resolve worlds root: %w", err)
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", ErrDescriptorMissing)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(canonicalRoot, path)
	}

	lexical := filepath.Clean(path)
	if !within(canonicalRoot, lexical) {
		if resolved, err := canonical(lexical); err != nil || !within(canonicalRoot, resolved) {
			return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
		}
	}

	dir, err := canonical(filepath.Dir(lexical))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrDescriptorMissing, path)
		}
		return "", err
	}
	if !within(canonicalRoot, dir) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Join(dir, filepath.Base(lexical)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrDescriptorMissing, path)
		}
		return "", err
	}
	if !within(canonicalRoot, resolved) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat descriptor: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrDescriptorMissing, path)
	}
	return resolved, nil
}

func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
