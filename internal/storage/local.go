package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalBlob stores audio files in a directory on disk.
type LocalBlob struct {
	dir string
}

// NewLocalBlob creates the directory if needed.
func NewLocalBlob(dir string) (*LocalBlob, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &LocalBlob{dir: dir}, nil
}

func (l *LocalBlob) path(filename string) string {
	return filepath.Join(l.dir, filename)
}

func (l *LocalBlob) Save(ctx context.Context, filename string, data []byte) (string, error) {
	if err := os.WriteFile(l.path(filename), data, 0o644); err != nil {
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return URLPrefix + filename, nil
}

func (l *LocalBlob) Delete(ctx context.Context, audioURL string) error {
	name, ok := FilenameFromURL(audioURL)
	if !ok {
		return nil
	}
	err := os.Remove(l.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (l *LocalBlob) Exists(ctx context.Context, audioURL string) (bool, error) {
	name, ok := FilenameFromURL(audioURL)
	if !ok {
		return false, nil
	}
	_, err := os.Stat(l.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *LocalBlob) Size(ctx context.Context, filename string) (int64, error) {
	info, err := os.Stat(l.path(filename))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (l *LocalBlob) ReadRange(ctx context.Context, filename string, start, end int64) (io.ReadCloser, error) {
	f, err := os.Open(l.path(filename))
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return &limitedFile{Reader: io.LimitReader(f, end-start+1), f: f}, nil
}

type limitedFile struct {
	io.Reader
	f *os.File
}

func (l *limitedFile) Close() error { return l.f.Close() }
