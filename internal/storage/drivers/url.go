package drivers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sashko-guz/spacer/internal/logger"
	"github.com/sashko-guz/spacer/internal/metrics"
)

var urlLog = logger.New("URLStorage")

// URLStorage loads artifacts from http(s) URLs. It is read-only: Store and
// Delete fail with ErrUnsupported.
//
// There is no lightweight existence check, so Exists downloads the resource
// and throws it away.
type URLStorage struct {
	client *http.Client
	tmpDir string
	fs     *LocalStorage
}

func NewURLStorage(client *http.Client, tmpDir string) *URLStorage {
	if client == nil {
		client = http.DefaultClient
	}
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &URLStorage{
		client: client,
		tmpDir: tmpDir,
		fs:     NewLocalStorage(),
	}
}

func (u *URLStorage) Store(ctx context.Context, key string, data []byte) error {
	err := fmt.Errorf("store %q: %w", key, ErrUnsupported)
	observe("url", "store", err)
	return err
}

func (u *URLStorage) Load(ctx context.Context, rawURL string) (data []byte, err error) {
	defer func() { observe("url", "load", err) }()

	tmpPath, err := u.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer u.remove(tmpPath)

	data, err = u.fs.Load(ctx, tmpPath)
	if err != nil {
		return nil, err
	}
	metrics.BackendBytesLoaded.WithLabelValues("url").Add(float64(len(data)))
	return data, nil
}

func (u *URLStorage) Delete(ctx context.Context, key string) error {
	err := fmt.Errorf("delete %q: %w", key, ErrUnsupported)
	observe("url", "delete", err)
	return err
}

func (u *URLStorage) Exists(ctx context.Context, rawURL string) bool {
	tmpPath, err := u.download(ctx, rawURL)
	if err != nil {
		urlLog.Debugf("Exists check failed for %s: %v", rawURL, err)
		return false
	}
	u.remove(tmpPath)
	return true
}

// download fetches rawURL into a fresh file under tmpDir and returns its path.
// Nothing is left on disk when it fails.
func (u *URLStorage) download(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("malformed url %q: %w: %v", rawURL, ErrInput, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("unsupported url %q: %w", rawURL, ErrInput)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request for %q: %w: %v", rawURL, ErrInput, err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %q: %w: %v", rawURL, ErrInput, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %q: %w: HTTP %d", rawURL, ErrInput, resp.StatusCode)
	}

	if err := os.MkdirAll(u.tmpDir, 0755); err != nil {
		return "", fmt.Errorf("create tmp dir %s: %w", u.tmpDir, err)
	}

	tmpPath := filepath.Join(u.tmpDir, uuid.NewString()+path.Ext(parsed.Path))
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("create tmp file: %w", err)
	}

	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		u.remove(tmpPath)
		if copyErr != nil {
			return "", fmt.Errorf("download %q: %w: %v", rawURL, ErrInput, copyErr)
		}
		return "", fmt.Errorf("write tmp file: %w", closeErr)
	}

	urlLog.Debugf("Downloaded %s (%d bytes) to %s", rawURL, n, tmpPath)
	return tmpPath, nil
}

func (u *URLStorage) remove(tmpPath string) {
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		urlLog.Warnf("Failed to remove tmp file %s: %v", tmpPath, err)
	}
}
