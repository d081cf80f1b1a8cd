package provisioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/tenant"
)

// ArchiveTimeLayout suffixes archived trees: <slug>.archived-20250101T000000Z.
const ArchiveTimeLayout = "20060102T150405Z"

// FilesystemTree manages world trees under WorldsRoot, copied from TemplateRoot.
type FilesystemTree struct {
	WorldsRoot   string
	TemplateRoot string
}

func NewFilesystemTree(worldsRoot, templateRoot string) *FilesystemTree {
	if worldsRoot == "" {
		panic("filesystem tree requires worlds root")
	}
	if templateRoot == "" {
		panic("filesystem tree requires template root")
	}
	return &FilesystemTree{WorldsRoot: worldsRoot, TemplateRoot: templateRoot}
}

func (t *FilesystemTree) root(slug string) (string, error) {
	if err := persistence.ValidateWorldID(slug); err != nil {
		return "", err
	}
	return tenant.WorldRoot(t.WorldsRoot, slug), nil
}

func (t *FilesystemTree) Exists(ctx context.Context, slug string) (bool, error) {
	root, err := t.root(slug)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// Archive renames the live tree to <slug>.archived-<timestamp>, adding -2, -3, ... on collision.
func (t *FilesystemTree) Archive(ctx context.Context, slug string, at time.Time) (string, error) {
	root, err := t.root(slug)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(root); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", err
	}

	base := root + ".archived-" + at.UTC().Format(ArchiveTimeLayout)
	target := base
	for n := 2; ; n++ {
		if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
			break
		}
		target = fmt.Sprintf("%s-%d", base, n)
	}
	if err := os.Rename(root, target); err != nil {
		return "", fmt.Errorf("archive %s: %w", root, err)
	}
	return target, nil
}

// Instantiate creates a fresh tree and copies the template into it.
func (t *FilesystemTree) Instantiate(ctx context.Context, slug string) (string, error) {
	root, err := t.root(slug)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(t.TemplateRoot)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return "", fmt.Errorf("%w: %s", service.ErrTemplateMissing, t.TemplateRoot)
	}
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(t.WorldsRoot, 0o755); err != nil {
		return "", fmt.Errorf("create worlds root: %w", err)
	}
	if err := os.Mkdir(root, 0o755); err != nil {
		return "", fmt.Errorf("create world root: %w", err)
	}
	if err := copyTree(ctx, t.TemplateRoot, root); err != nil {
		return "", fmt.Errorf("copy template: %w", err)
	}
	for _, dir := range []string{tenant.IncludeDir, tenant.PublicDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return root, nil
}

// Restore removes the tree at the slug path and moves archivedTo back. An empty archivedTo
// only removes.
func (t *FilesystemTree) Restore(ctx context.Context, slug, archivedTo string) error {
	root, err := t.root(slug)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("remove %s: %w", root, err)
	}
	if archivedTo == "" {
		return nil
	}
	if filepath.Dir(archivedTo) != filepath.Clean(t.WorldsRoot) {
		return fmt.Errorf("archived tree %s is outside %s", archivedTo, t.WorldsRoot)
	}
	if err := os.Rename(archivedTo, root); err != nil {
		return fmt.Errorf("restore %s: %w", archivedTo, err)
	}
	return nil
}

func (t *FilesystemTree) ReadFile(ctx context.Context, worldRoot, rel string) ([]byte, error) {
	p, err := t.inside(worldRoot, rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// WriteFile replaces the file through a temporary sibling and a rename.
func (t *FilesystemTree) WriteFile(ctx context.Context, worldRoot, rel string, data []byte) error {
	p, err := t.inside(worldRoot, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o640); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (t *FilesystemTree) inside(worldRoot, rel string) (string, error) {
	cleanRoot := filepath.Clean(worldRoot)
	if filepath.Dir(cleanRoot) != filepath.Clean(t.WorldsRoot) {
		return "", fmt.Errorf("world root %s is not under %s", worldRoot, t.WorldsRoot)
	}
	if filepath.IsAbs(rel) || rel == "" {
		return "", fmt.Errorf("invalid world path %q", rel)
	}
	p := filepath.Join(cleanRoot, filepath.FromSlash(rel))
	if !strings.HasPrefix(p, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("world path %q escapes %s", rel, worldRoot)
	}
	return p, nil
}

// copyTree copies regular files, directories and symlinks, preserving permission bits.
func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.Mkdir(target, info.Mode().Perm())
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

var _ service.TreeProvisioner = (*FilesystemTree)(nil)
