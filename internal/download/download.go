// Package download is the shared download-and-cache utility used by all
// fetchers. Files land in a store directory under a deterministic name so a
// run can be replayed against already fetched files.
package download

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "dlstats/4.0"
	defaultRetries   = 3
)

// StatusError reports a non-2xx HTTP response. Callers can inspect the code,
// e.g. to treat a 404 data slice as empty rather than failed.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download: %s: %s", e.URL, http.StatusText(e.Code))
}

type Downloader struct {
	StorePath       string
	UseExistingFile bool
	UserAgent       string
	Headers         map[string]string
	Retries         uint
	Client          *http.Client
}

func New(storePath string) *Downloader {
	return &Downloader{
		StorePath: storePath,
		Retries:   defaultRetries,
		Client:    &http.Client{Timeout: defaultTimeout},
	}
}

// Get downloads url into the store directory under filename and returns the
// local path. An empty filename derives one from the URL hash. An existing
// non-empty file is reused when UseExistingFile is set, otherwise replaced.
func (d *Downloader) Get(ctx context.Context, url, filename string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("download: url is required")
	}
	if filename == "" {
		filename = fmt.Sprintf("%x", sha256.Sum224([]byte(url)))
	}
	if err := os.MkdirAll(d.StorePath, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(d.StorePath, filename)

	if info, err := os.Stat(path); err == nil {
		if d.UseExistingFile && info.Size() > 0 {
			return path, nil
		}
		if err := os.Remove(path); err != nil {
			return "", err
		}
	}

	err := retry.Do(
		func() error { return d.fetch(ctx, url, path) },
		retry.Context(ctx),
		retry.Attempts(d.attempts()),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", err
	}
	return path, nil
}

func (d *Downloader) fetch(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	userAgent := d.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	for key, value := range d.Headers {
		req.Header.Set(key, value)
	}

	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return &StatusError{URL: url, Code: resp.StatusCode}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return retry.Unrecoverable(&StatusError{URL: url, Code: resp.StatusCode})
	}

	tmp, err := os.CreateTemp(d.StorePath, ".download-*")
	if err != nil {
		return retry.Unrecoverable(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (d *Downloader) attempts() uint {
	if d.Retries == 0 {
		return 1
	}
	return d.Retries + 1
}

// ExtractZipFirst extracts the first member of the zip archive next to it and
// returns the extracted file path. BIS full-dump archives contain exactly one
// CSV.
func ExtractZipFirst(zipPath string) (string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	if len(reader.File) == 0 {
		return "", fmt.Errorf("download: empty zip archive %s", zipPath)
	}
	member := reader.File[0]

	src, err := member.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	target := filepath.Join(filepath.Dir(zipPath), filepath.Base(member.Name))
	dst, err := os.Create(target)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return target, nil
}
