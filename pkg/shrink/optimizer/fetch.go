package optimizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// DefaultFetchTimeout bounds a single result download.
const DefaultFetchTimeout = 2 * time.Minute

// HTTPDoer abstracts HTTP transport so it can be replaced in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher copies an optimized result from its Location to an output path.
type Fetcher struct {
	client HTTPDoer
}

// NewFetcher returns a Fetcher using client. A nil client gets an
// http.Client with DefaultFetchTimeout.
func NewFetcher(client HTTPDoer) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	return &Fetcher{client: client}
}

// IsRemote reports whether location is an http or https URL.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetch writes the content at location to dest. Remote locations are
// downloaded; local ones are copied and then removed. dest is replaced
// atomically so the source itself may be the destination.
func (f *Fetcher) Fetch(ctx context.Context, location, dest string) error {
	if location == "" {
		return errors.New("empty result location")
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if IsRemote(location) {
		return f.download(ctx, location, dest)
	}

	if err := copyFile(location, dest); err != nil {
		return err
	}
	_ = os.Remove(location)
	return nil
}

func (f *Fetcher) download(ctx context.Context, location, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	return writeAtomic(dest, resp.Body)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open result: %w", err)
	}
	defer in.Close()

	return writeAtomic(dest, in)
}

func writeAtomic(dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace output: %w", err)
	}
	return nil
}
