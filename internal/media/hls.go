package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxManifestSize = 4 << 20

type ManifestFetcher interface {
	FetchManifest(ctx context.Context, url string) ([]byte, error)
}

type HTTPManifestFetcher struct {
	client *http.Client
}

func NewHTTPManifestFetcher(client *http.Client) *HTTPManifestFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &HTTPManifestFetcher{client: client}
}

func (f *HTTPManifestFetcher) FetchManifest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code: %d", ErrNetwork, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	return data, nil
}

type Manifest struct {
	Variants int
	Segments int
}

// ParseManifest checks that data is an HLS playlist with at least one variant
// stream or media segment.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest

	sc := bufio.NewScanner(bytes.NewReader(data))
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if first {
			if !strings.HasPrefix(line, "#EXTM3U") {
				return Manifest{}, fmt.Errorf("%w: missing #EXTM3U header", ErrUnsupportedFormat)
			}
			first = false
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			m.Variants++
		case strings.HasPrefix(line, "#EXTINF"):
			m.Segments++
		}
	}
	if err := sc.Err(); err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if first {
		return Manifest{}, fmt.Errorf("%w: empty manifest", ErrUnsupportedFormat)
	}
	if m.Variants == 0 && m.Segments == 0 {
		return Manifest{}, fmt.Errorf("%w: playlist has no variants or segments", ErrDecode)
	}

	return m, nil
}

func (b *Backend) probeManifest(gen uint64, source string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ReadyWait)
	defer cancel()

	data, err := b.fetcher.FetchManifest(ctx, source)
	if err != nil {
		b.emitError("manifest", err)
		return
	}

	m, err := ParseManifest(data)
	if err != nil {
		b.emitError("manifest", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation {
		return
	}

	b.logger.Debug("manifest parsed", "source", source, "variants", m.Variants, "segments", m.Segments)
	b.manifestOK = true
	b.checkReadyLocked()
}
