package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Downloader fetches model files that are missing from the local directory.
type Downloader struct {
	Client *http.Client
	// Progress renders a byte counter on stderr while downloading.
	Progress bool
}

// NewDownloader returns a downloader with connection level timeouts. There is
// no overall request timeout since some weights are several gigabytes.
func NewDownloader() *Downloader {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Downloader{Client: &http.Client{Transport: t}, Progress: true}
}

// Ensure returns dir/file, downloading it from url first if it is absent.
// The body is written to a temporary file and renamed so an interrupted
// download never leaves a truncated model behind.
func (d *Downloader) Ensure(ctx context.Context, dir, file, url string) (string, error) {
	path := filepath.Join(dir, file)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model dir: %w", err)
	}

	slog.Info("downloading model", "url", url, "path", path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(dir, file+".*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var w io.Writer = tmp
	if d.Progress {
		bar := progressbar.DefaultBytes(resp.ContentLength, file)
		defer bar.Close()
		w = io.MultiWriter(tmp, bar)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to download %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return path, nil
}

// Loader resolves catalog names to opened networks.
type Loader struct {
	Catalog    *Catalog
	Dir        string
	Options    Options
	Downloader *Downloader
}

// NewLoader reads the embedded catalog and keeps models under dir.
func NewLoader(dir string, opts Options) (*Loader, error) {
	c, err := LoadCatalog()
	if err != nil {
		return nil, err
	}
	return &Loader{Catalog: c, Dir: dir, Options: opts, Downloader: NewDownloader()}, nil
}

// Fetch makes sure the weight file of name is present and returns its path.
func (l *Loader) Fetch(ctx context.Context, name string) (string, error) {
	e, err := l.Catalog.Lookup(name)
	if err != nil {
		return "", err
	}
	return l.FetchFile(ctx, e, e.Weight)
}

// FetchFile fetches a file that lives next to e's weight in the bucket.
func (l *Loader) FetchFile(ctx context.Context, e Entry, file string) (string, error) {
	return l.Downloader.Ensure(ctx, l.Dir, file, l.Catalog.URL(e, file))
}

// Load fetches and opens the model called name.
func (l *Loader) Load(ctx context.Context, name string) (*Net, error) {
	e, err := l.Catalog.Lookup(name)
	if err != nil {
		return nil, err
	}
	return l.LoadFile(ctx, e, e.Weight)
}

// LoadFile opens an alternative weight file published for e, such as the
// per-resolution variants of a detector.
func (l *Loader) LoadFile(ctx context.Context, e Entry, weight string) (*Net, error) {
	path, err := l.FetchFile(ctx, e, weight)
	if err != nil {
		return nil, err
	}
	opts := l.Options
	if len(e.Outputs) > 0 {
		opts.Outputs = e.Outputs
	}
	slog.Debug("loading model", "name", e.Name, "path", path)
	return Open(path, opts)
}
