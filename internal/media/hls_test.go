package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sharetube/watchsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Manifest
		wantErr error
	}{
		{
			name: "master playlist",
			data: "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000\nmid.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=2560000\nhi.m3u8\n",
			want: Manifest{Variants: 2},
		},
		{
			name: "media playlist",
			data: "\n#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:9.009,\nseg0.ts\n#EXTINF:9.009,\nseg1.ts\n#EXT-X-ENDLIST\n",
			want: Manifest{Segments: 2},
		},
		{name: "empty", data: "", wantErr: ErrUnsupportedFormat},
		{name: "not a playlist", data: "<!doctype html>", wantErr: ErrUnsupportedFormat},
		{name: "header only", data: "#EXTM3U\n#EXT-X-VERSION:3\n", wantErr: ErrDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseManifest([]byte(tt.data))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPManifestFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.m3u8" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:4,\na.ts\n"))
	}))
	defer srv.Close()

	f := NewHTTPManifestFetcher(srv.Client())

	data, err := f.FetchManifest(context.Background(), srv.URL+"/index.m3u8")
	require.NoError(t, err)
	m, err := ParseManifest(data)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Segments)

	_, err = f.FetchManifest(context.Background(), srv.URL+"/missing.m3u8")
	assert.True(t, errors.Is(err, ErrNetwork))
}

func TestSourceKindOf(t *testing.T) {
	tests := []struct {
		url  string
		want domain.SourceKind
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", domain.SourceKindEmbedded},
		{"https://youtu.be/dQw4w9WgXcQ", domain.SourceKindEmbedded},
		{"https://player.vimeo.com/video/76979871", domain.SourceKindEmbedded},
		{"https://cdn.example.com/live/master.m3u8", domain.SourceKindHLS},
		{"https://cdn.example.com/play?id=7&format=m3u8", domain.SourceKindHLS},
		{"https://cdn.example.com/movie.mp4", domain.SourceKindDirect},
		{"https://notyoutube.com/watch", domain.SourceKindDirect},
		{"::not a url", domain.SourceKindDirect},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SourceKindOf(tt.url), tt.url)
	}

	assert.Equal(t, domain.SourceKindHLS, ResolveSourceKind("https://cdn.example.com/movie.mp4", domain.SourceKindHLS))
	assert.Equal(t, domain.SourceKindEmbedded, ResolveSourceKind("https://youtu.be/x", "bogus"))
}

func TestClassifySourceUsesContentType(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		declared    domain.SourceKind
		contentType string
		want        domain.SourceKind
	}{
		{"hls mime on bare path", "https://cdn.example.com/stream/42", "", "application/vnd.apple.mpegurl", domain.SourceKindHLS},
		{"hls mime with params", "https://cdn.example.com/stream/42", "", "Application/X-MpegURL; charset=utf-8", domain.SourceKindHLS},
		{"audio playlist mime", "https://cdn.example.com/radio", "", "audio/mpegurl", domain.SourceKindHLS},
		{"video mime beats m3u8 ext", "https://cdn.example.com/odd.m3u8", "", "video/mp4", domain.SourceKindDirect},
		{"declared kind wins", "https://cdn.example.com/stream/42", domain.SourceKindEmbedded, "application/vnd.apple.mpegurl", domain.SourceKindEmbedded},
		{"useless mime falls back to url", "https://cdn.example.com/live/master.m3u8", "", "application/octet-stream", domain.SourceKindHLS},
		{"garbage mime falls back to url", "https://youtu.be/x", "", ";;", domain.SourceKindEmbedded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySource(tt.url, tt.declared, tt.contentType))
		})
	}
}
