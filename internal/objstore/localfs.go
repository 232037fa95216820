package objstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/logship/pkg/apperror"
)

// LocalFS stores objects as plain files under a base directory, mirroring
// the key hierarchy on disk. It is the single-node deployment target and
// has no third-party dependency: the standard library's os/path/filepath
// already provide everything a local POSIX store needs, and no library in
// the corpus offers a better local-disk primitive than os itself.
type LocalFS struct {
	baseDir string
	// mu guards the PutIfAbsent existence-check-then-write sequence; the
	// filesystem gives us no atomic create-exclusive-with-parents in one
	// syscall once intermediate directories may not exist yet.
	mu sync.Mutex
}

// NewLocalFS creates (if needed) baseDir and returns a Backend rooted there.
func NewLocalFS(baseDir string) (*LocalFS, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, apperror.Wrap(apperror.KindObjectStoreTransient, "create base dir", err)
	}
	return &LocalFS{baseDir: baseDir}, nil
}

func (l *LocalFS) path(key string) string {
	return filepath.Join(l.baseDir, filepath.FromSlash(key))
}

func (l *LocalFS) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperror.Wrap(apperror.KindObjectStoreNotFound, key, err)
		}
		return nil, apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}
	return f, nil
}

func (l *LocalFS) Put(_ context.Context, key string, body io.Reader, _ int64) error {
	dst := l.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}

	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(tmp)
		return apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}
	return nil
}

func (l *LocalFS) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.path(key)); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}

	if err := l.Put(ctx, key, body, size); err != nil {
		return false, err
	}
	return true, nil
}

func (l *LocalFS) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	root := l.baseDir
	var out []ObjectInfo

	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		out = append(out, ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, apperror.Wrap(apperror.KindObjectStoreTransient, prefix, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (l *LocalFS) Head(_ context.Context, key string) (ObjectInfo, error) {
	info, err := os.Stat(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, apperror.Wrap(apperror.KindObjectStoreNotFound, key, err)
		}
		return ObjectInfo{}, apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}
	return ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (l *LocalFS) Delete(_ context.Context, key string) error {
	err := os.Remove(l.path(key))
	if err != nil && !os.IsNotExist(err) {
		return apperror.Wrap(apperror.KindObjectStoreTransient, key, err)
	}
	return nil
}
