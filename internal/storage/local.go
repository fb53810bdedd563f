package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// LocalConfig holds configuration for disk-backed storage.
type LocalConfig struct {
	Root          string // Base directory for stored files
	PublicURL     string // Optional: host rewrite for public URLs
	SignedURLPath string // Route prefix serving signed temporary URLs
	SigningSecret string // Empty = temporary URLs fall back to permanent URLs
}

// Local stores files on a filesystem. Production uses the OS filesystem;
// tests pass an afero.MemMapFs.
type Local struct {
	fs     afero.Fs
	cfg    LocalConfig
	secret []byte
}

// NewLocal creates a disk-backed storage rooted at cfg.Root.
func NewLocal(fs afero.Fs, cfg LocalConfig) *Local {
	if cfg.Root != "" {
		fs = afero.NewBasePathFs(fs, cfg.Root)
	}
	return &Local{
		fs:     fs,
		cfg:    cfg,
		secret: []byte(cfg.SigningSecret),
	}
}

func (l *Local) Put(ctx context.Context, src io.Reader, dir, filename string, opts PutOptions) (string, error) {
	fullpath := path.Join(dir, filename)

	if dir != "" {
		err := l.fs.MkdirAll(dir, 0755)
		if err != nil {
			return "", &WriteError{Path: fullpath, Err: err}
		}
	}

	f, err := l.fs.Create(fullpath)
	if err != nil {
		return "", &WriteError{Path: fullpath, Err: err}
	}
	defer func() { _ = f.Close() }()

	_, err = io.Copy(f, src)
	if err != nil {
		return "", &WriteError{Path: fullpath, Err: err}
	}

	return fullpath, nil
}

func (l *Local) Get(ctx context.Context, p string) ([]byte, error) {
	data, err := afero.ReadFile(l.fs, p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

func (l *Local) Exists(ctx context.Context, p string) (bool, error) {
	return afero.Exists(l.fs, p)
}

func (l *Local) Delete(ctx context.Context, p string) (bool, error) {
	exists, err := afero.Exists(l.fs, p)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	err = l.fs.Remove(p)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", p, err)
	}
	return true, nil
}

func (l *Local) URL(p string) string {
	p = strings.TrimPrefix(p, "/")
	if l.cfg.PublicURL != "" {
		return strings.TrimSuffix(l.cfg.PublicURL, "/") + "/" + p
	}
	return "/" + p
}

// TemporaryURL returns a locally signed URL served by the temporary-URL
// endpoint. Without a signing secret the permanent URL is returned.
// The serving endpoint sniffs content itself, so opts is ignored.
func (l *Local) TemporaryURL(ctx context.Context, p string, expiry time.Duration, _ URLOptions) (string, error) {
	if len(l.secret) == 0 {
		return l.URL(p), nil
	}

	token, err := SignPath(l.secret, p, expiry)
	if err != nil {
		return "", err
	}

	prefix := strings.TrimSuffix(l.cfg.SignedURLPath, "/")
	return fmt.Sprintf("%s/%s?token=%s", prefix, strings.TrimPrefix(p, "/"), url.QueryEscape(token)), nil
}
