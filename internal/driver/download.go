package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultHTTPTimeout is the default HTTP request timeout.
	DefaultHTTPTimeout = 5 * time.Minute
	// DefaultUserAgent is the User-Agent header sent with requests.
	DefaultUserAgent = "stealthdriver/1.0"

	maxDocumentSize = 32 << 20
)

// StatusError reports a non-200 HTTP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// Downloader performs HTTP GETs with optional retries.
type Downloader struct {
	client    *http.Client
	userAgent string
	retries   int
	backoff   time.Duration
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithRetries sets how many times a failed request is retried.
func WithRetries(n int) DownloaderOption {
	return func(d *Downloader) {
		if n >= 0 {
			d.retries = n
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) DownloaderOption {
	return func(d *Downloader) {
		if c != nil {
			d.client = c
		}
	}
}

// NewDownloader creates a downloader. It does not retry unless WithRetries
// is given.
func NewDownloader(opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client: &http.Client{
			Timeout: DefaultHTTPTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent: DefaultUserAgent,
		backoff:   time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DownloadToFile downloads url to destPath through a ".tmp" file that is
// renamed into place on success and removed otherwise.
func (d *Downloader) DownloadToFile(ctx context.Context, url, destPath string) error {
	return d.retry(ctx, func() error {
		return d.downloadOnce(ctx, url, destPath)
	})
}

// Get returns the body of url.
func (d *Downloader) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := d.retry(ctx, func() error {
		resp, err := d.do(ctx, url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		return nil
	})
	return body, err
}

func (d *Downloader) retry(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= d.retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s
			backoff := time.Duration(1<<uint(attempt-1)) * d.backoff
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			break
		}
	}

	if d.retries == 0 {
		return lastErr
	}
	return fmt.Errorf("download failed after %d retries: %w", d.retries, lastErr)
}

func (d *Downloader) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return resp, nil
}

func (d *Downloader) downloadOnce(ctx context.Context, url, destPath string) error {
	resp, err := d.do(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return fmt.Errorf("copy response body: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	cleanupNeeded = false
	return nil
}

// statusOf returns the HTTP status carried by err, or 0.
func statusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
