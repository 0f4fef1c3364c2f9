// Package fsx is the filesystem collaborator for download artifacts.
package fsx

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// FS is the subset of filesystem operations the pipeline needs.
type FS interface {
	// RemoveIfExists deletes path. A missing file is not an error; the
	// boolean reports whether something was removed.
	RemoveIfExists(path string) (bool, error)
	// Create opens a writer whose content becomes visible at path only when
	// Commit is called.
	Create(path string) (File, error)
	WriteFile(path string, data []byte) error
	Stat(path string) (fs.FileInfo, error)
}

// File is a pending write. Either Commit or Abort must be called.
type File interface {
	io.Writer
	Commit() (size int64, err error)
	Abort() error
}

// OS implements FS on the local disk, rooted at Root for relative paths.
type OS struct {
	Root string
}

func (o OS) path(p string) string {
	if o.Root == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(o.Root, p)
}

func (o OS) RemoveIfExists(path string) (bool, error) {
	err := os.Remove(o.path(path))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, errors.Wrapf(err, "remove %s", path)
	}
}

func (o OS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(o.path(path))
}

func (o OS) WriteFile(path string, data []byte) error {
	f, err := o.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Abort()
		return errors.Wrapf(err, "write %s", path)
	}
	_, err = f.Commit()
	return err
}

func (o OS) Create(path string) (File, error) {
	final := o.path(path)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, errors.Wrapf(err, "mkdir for %s", path)
	}
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	return &osFile{f: f, tmp: tmp, final: final}, nil
}

type osFile struct {
	f     *os.File
	tmp   string
	final string
	n     int64
	done  bool
}

func (w *osFile) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.n += int64(n)
	return n, err
}

func (w *osFile) Commit() (int64, error) {
	if w.done {
		return 0, errors.New("file already closed")
	}
	w.done = true
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(w.tmp)
		return 0, errors.Wrapf(err, "sync %s", w.final)
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.tmp)
		return 0, errors.Wrapf(err, "close %s", w.final)
	}
	if err := os.Rename(w.tmp, w.final); err != nil {
		_ = os.Remove(w.tmp)
		return 0, errors.Wrapf(err, "rename %s", w.final)
	}
	return w.n, nil
}

func (w *osFile) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	if err := os.Remove(w.tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "abort %s", w.final)
	}
	return nil
}
