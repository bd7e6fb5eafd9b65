package resource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FS serves locators from a directory tree. Locators are relative to the
// root (absolute ones must lie inside it); anything resolving outside the
// root is rejected.
type FS struct {
	root string
}

// NewFS creates a provider sandboxed to root.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute sandbox root.
func (p *FS) Root() string { return p.root }

func (p *FS) IsLocator(s string) bool { return IsLocator(s) }

func (p *FS) List(ctx context.Context, loc string) ([]string, error) {
	safe, err := p.resolve(loc)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(safe)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", loc, err)
	}
	if !info.IsDir() {
		return []string{loc}, nil
	}

	var out []string
	err = filepath.WalkDir(safe, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			slog.Warn("skipping unreadable entry", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(safe, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(filepath.Join(loc, rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", loc, err)
	}
	return out, nil
}

func (p *FS) Read(_ context.Context, loc string) (string, bool) {
	safe, err := p.resolve(loc)
	if err != nil {
		slog.Warn("refusing to read", "locator", loc, "error", err)
		return "", false
	}
	data, err := os.ReadFile(safe)
	if err != nil {
		slog.Debug("read failed", "locator", loc, "error", err)
		return "", false
	}
	return string(data), true
}

func (p *FS) Exists(_ context.Context, loc string) bool {
	safe, err := p.resolve(loc)
	if err != nil {
		return false
	}
	_, err = os.Lstat(safe)
	return err == nil
}

// Write stores content at loc, creating parent directories.
func (p *FS) Write(_ context.Context, loc, content string) error {
	safe, err := p.resolve(loc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(safe), 0o755); err != nil {
		return fmt.Errorf("write %q: mkdir: %w", loc, err)
	}
	if err := os.WriteFile(safe, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %q: %w", loc, err)
	}
	return nil
}

// resolve maps loc into the sandbox and rejects traversal outside it.
func (p *FS) resolve(loc string) (string, error) {
	if loc == "" {
		return "", fmt.Errorf("empty locator")
	}
	abs := filepath.Clean(filepath.FromSlash(loc))
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(p.root, abs)
	}
	within := p.root
	if !strings.HasSuffix(within, string(filepath.Separator)) {
		within += string(filepath.Separator)
	}
	if abs != p.root && !strings.HasPrefix(abs, within) {
		return "", fmt.Errorf("path traversal detected: %q resolves outside %q", loc, p.root)
	}
	return abs, nil
}
