package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gradi/internal/fileutil"
	"gradi/internal/services"
)

// Filesystem stores objects as files under a root directory.
type Filesystem struct {
	root string
}

// NewFilesystem returns a store rooted at root, creating it when missing.
func NewFilesystem(root string) (*Filesystem, error) {
	if strings.TrimSpace(root) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "filesystem", "root is required", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "filesystem", "create root", err)
	}
	return &Filesystem{root: root}, nil
}

func (f *Filesystem) resolve(key string) (string, error) {
	cleaned := path.Clean("/" + key)
	if cleaned == "/" || strings.Contains(key, "..") {
		return "", services.Wrap(services.ErrValidation, "objectstore", "resolve", fmt.Sprintf("invalid key %q", key), nil)
	}
	return filepath.Join(f.root, filepath.FromSlash(strings.TrimPrefix(cleaned, "/"))), nil
}

func (f *Filesystem) Put(_ context.Context, key string, body []byte, _ string) error {
	target, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := fileutil.WriteAtomic(target, body, 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "objectstore", "put", key, err)
	}
	return nil
}

func (f *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	target, err := f.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound("get", key)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "objectstore", "get", key, err)
	}
	return data, nil
}

func (f *Filesystem) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), fileutil.TempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "objectstore", "list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *Filesystem) Copy(_ context.Context, srcKey, dstKey string) error {
	src, err := f.resolve(srcKey)
	if err != nil {
		return err
	}
	dst, err := f.resolve(dstKey)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return notFound("copy", srcKey)
	}
	if err := fileutil.CopyVerified(src, dst); err != nil {
		return services.Wrap(services.ErrTransient, "objectstore", "copy", fmt.Sprintf("%s -> %s", srcKey, dstKey), err)
	}
	return nil
}

func (f *Filesystem) Exists(_ context.Context, key string) (bool, error) {
	target, err := f.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, services.Wrap(services.ErrTransient, "objectstore", "stat", key, err)
	}
	return !info.IsDir(), nil
}
