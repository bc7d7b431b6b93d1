package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AmoditYadav/amodit-space/internal/metrics"
)

// maxRemoteBytes bounds a fetched catalog document.
const maxRemoteBytes = 1 << 20

// Fetcher retrieves a catalog document from an HTTP source.
type Fetcher struct {
	sourceURL  string
	format     string
	httpClient *http.Client

	// last is the most recently applied document. Only Sync touches it.
	last []byte
}

// NewFetcher creates a Fetcher for sourceURL. The document format is taken
// from the URL path extension and defaults to JSON.
func NewFetcher(sourceURL string) (*Fetcher, error) {
	u, err := url.Parse(sourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("catalog url must be http(s): %q", sourceURL)
	}
	return &Fetcher{
		sourceURL: sourceURL,
		format:    formatFromExt(path.Ext(u.Path)),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

func formatFromExt(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		return "yaml"
	case "toml":
		return "toml"
	default:
		return "json"
	}
}

// SourceURL returns the configured source URL.
func (f *Fetcher) SourceURL() string { return f.sourceURL }

// Format returns the document format passed to Parse.
func (f *Fetcher) Format() string { return f.format }

// Fetch performs an HTTP GET and returns the raw document.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, f.sourceURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxRemoteBytes {
		return nil, fmt.Errorf("catalog from %s exceeds %d byte limit", f.sourceURL, maxRemoteBytes)
	}

	return body, nil
}

// Snapshots keeps the last few fetched catalog documents on disk so a
// restart without network access still has bodies to serve.
type Snapshots struct {
	dir      string
	maxFiles int
}

// NewSnapshots stores files in dir and keeps at most maxFiles.
func NewSnapshots(dir string, maxFiles int) *Snapshots {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Snapshots{dir: dir, maxFiles: maxFiles}
}

// Write saves data under a timestamped name and prunes old snapshots.
func (s *Snapshots) Write(data []byte, format string, ts time.Time) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	name := fmt.Sprintf("catalog_%d.%s", ts.UnixNano(), format)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	return s.prune()
}

// LoadLatest parses the newest snapshot.
func (s *Snapshots) LoadLatest() (*Dataset, error) {
	files, err := s.list()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no catalog snapshots in %s", s.dir)
	}

	latest := files[len(files)-1]
	data, err := os.ReadFile(filepath.Join(s.dir, latest.name))
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	ds, err := Parse(bytes.NewReader(data), latest.format, "snapshot:"+latest.name)
	if err != nil {
		return nil, err
	}
	ds.LoadedAt = latest.ts.UTC()
	return ds, nil
}

type snapshotFile struct {
	name   string
	format string
	ts     time.Time
}

func (s *Snapshots) list() ([]snapshotFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing snapshot dir: %w", err)
	}

	var files []snapshotFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "catalog_") {
			continue
		}
		stem, ext, ok := strings.Cut(strings.TrimPrefix(e.Name(), "catalog_"), ".")
		if !ok {
			continue
		}
		nanos, err := strconv.ParseInt(stem, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, snapshotFile{name: e.Name(), format: formatFromExt(ext), ts: time.Unix(0, nanos)})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ts.Before(files[j].ts)
	})

	return files, nil
}

func (s *Snapshots) prune() error {
	files, err := s.list()
	if err != nil {
		return err
	}
	if len(files) <= s.maxFiles {
		return nil
	}

	for _, f := range files[:len(files)-s.maxFiles] {
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil {
			return fmt.Errorf("pruning snapshot %s: %w", f.name, err)
		}
	}
	return nil
}

// Sync fetches the remote catalog once. A new valid document replaces the
// active dataset and is written to snaps (which may be nil). Unchanged
// documents are ignored and failures leave the store untouched.
func Sync(ctx context.Context, f *Fetcher, snaps *Snapshots, store *Store, logger *slog.Logger) error {
	data, err := f.Fetch(ctx)
	if err != nil {
		metrics.IncCatalogReloads("error")
		return err
	}
	if f.last != nil && bytes.Equal(data, f.last) {
		return nil
	}

	ds, err := Parse(bytes.NewReader(data), f.Format(), f.SourceURL())
	if err != nil {
		metrics.IncCatalogReloads("error")
		return err
	}

	f.last = data
	store.Set(ds)
	metrics.IncCatalogReloads("success")
	logger.Info("catalog fetched", "url", f.SourceURL(), "bodies", len(ds.Bodies))

	if snaps != nil {
		if err := snaps.Write(data, f.Format(), ds.LoadedAt); err != nil {
			logger.Warn("failed to write catalog snapshot", "error", err)
		}
	}
	return nil
}

// Poll calls Sync every interval until ctx is cancelled. Failed fetches
// are logged and the previous dataset stays active.
func Poll(ctx context.Context, interval time.Duration, f *Fetcher, snaps *Snapshots, store *Store, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := Sync(ctx, f, snaps, store, logger); err != nil && ctx.Err() == nil {
				logger.Warn("catalog refresh failed, keeping previous dataset", "url", f.SourceURL(), "error", err)
			}
		}
	}
}
