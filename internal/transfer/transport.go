package transfer

import (
	"io"
	"os"
	"path/filepath"
)

// Transport is the set of remote file operations an upload needs. Paths
// are slash-separated.
type Transport interface {
	MkdirAll(path string) error
	Create(path string) (io.WriteCloser, error)
	Rename(oldpath, newpath string) error
	Size(path string) (int64, error)
	Close() error
}

// LocalTransport writes below Root on the local filesystem.
type LocalTransport struct {
	Root string
}

func NewLocalTransport(root string) *LocalTransport {
	return &LocalTransport{Root: root}
}

func (l *LocalTransport) local(p string) string {
	return filepath.Join(l.Root, filepath.FromSlash(p))
}

func (l *LocalTransport) MkdirAll(p string) error {
	return os.MkdirAll(l.local(p), 0755)
}

func (l *LocalTransport) Create(p string) (io.WriteCloser, error) {
	return os.OpenFile(l.local(p), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
}

func (l *LocalTransport) Rename(oldpath, newpath string) error {
	return os.Rename(l.local(oldpath), l.local(newpath))
}

func (l *LocalTransport) Size(p string) (int64, error) {
	info, err := os.Stat(l.local(p))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (l *LocalTransport) Close() error {
	return nil
}
