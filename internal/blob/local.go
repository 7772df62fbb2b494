package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Local stores objects as files under a base directory.
type Local struct {
	dir string
}

// NewLocal creates the base directory if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "blob: create dir %s", dir)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) path(name string) string {
	// Object names are flat; strip any path separators defensively is not
	// needed upstream, but Base keeps a stray name from escaping the dir.
	return filepath.Join(l.dir, filepath.Base(strings.TrimSpace(name)))
}

func (l *Local) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) (string, error) {
	dst := l.path(name)
	f, err := os.Create(dst)
	if err != nil {
		return "", eris.Wrapf(err, "blob: create %s", dst)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", eris.Wrapf(err, "blob: write %s", dst)
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrapf(err, "blob: close %s", dst)
	}
	return "file://" + dst, nil
}

func (l *Local) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(name))
	if err != nil {
		return nil, eris.Wrapf(err, "blob: open %s", name)
	}
	return f, nil
}

func (l *Local) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(l.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "blob: stat %s", name)
	}
	return true, nil
}
