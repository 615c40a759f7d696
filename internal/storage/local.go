package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
)

// Local stores blobs under a directory of an afero filesystem.
type Local struct {
	fs   afero.Fs
	root string
}

// NewLocal returns a Local rooted at dir on the OS filesystem.
func NewLocal(dir string) (*Local, error) {
	return NewLocalFs(afero.NewOsFs(), dir)
}

// NewLocalFs returns a Local rooted at dir on fsys.
func NewLocalFs(fsys afero.Fs, dir string) (*Local, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "storage: create %s", dir)
	}
	return &Local{fs: fsys, root: dir}, nil
}

func (l *Local) Name() string { return "local" }

// Path returns the filesystem path for key. Used to hand files to tools that
// need a real path, such as ffprobe.
func (l *Local) Path(key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(key)), nil
}

func (l *Local) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	p, err := l.Path(key)
	if err != nil {
		return 0, err
	}
	if err := l.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, eris.Wrapf(err, "storage: mkdir for %s", key)
	}
	tmp := p + ".part"
	f, err := l.fs.Create(tmp)
	if err != nil {
		return 0, eris.Wrapf(err, "storage: create %s", key)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = l.fs.Remove(tmp)
		return n, eris.Wrapf(err, "storage: write %s", key)
	}
	if err := l.fs.Rename(tmp, p); err != nil {
		_ = l.fs.Remove(tmp)
		return n, eris.Wrapf(err, "storage: commit %s", key)
	}
	return n, nil
}

func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := l.Path(key)
	if err != nil {
		return nil, err
	}
	f, err := l.fs.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: open %s", key)
	}
	return f, nil
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	p, err := l.Path(key)
	if err != nil {
		return false, err
	}
	info, err := l.fs.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "storage: stat %s", key)
	}
	return !info.IsDir(), nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.Path(key)
	if err != nil {
		return err
	}
	err = l.fs.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotExist
	}
	return eris.Wrapf(err, "storage: delete %s", key)
}
