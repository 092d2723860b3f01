package ytvideodata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVideoID(t *testing.T) {
	tests := []struct {
		url  string
		id   string
		fail bool
	}{
		{url: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", id: "dQw4w9WgXcQ"},
		{url: "https://youtu.be/dQw4w9WgXcQ", id: "dQw4w9WgXcQ"},
		{url: "https://m.youtube.com/watch?v=abc&t=10", id: "abc"},
		{url: "https://www.youtube-nocookie.com/embed/xyz", id: "xyz"},
		{url: "https://www.youtube.com/shorts/short1", id: "short1"},
		{url: "https://vimeo.com/123", fail: true},
		{url: "https://www.youtube.com/feed", fail: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			id, err := VideoID(tt.url)
			if tt.fail {
				assert.ErrorIs(t, err, ErrNotYouTube)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestGetFallsBackToPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oembed", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/page/vid", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Some video - YouTube</title>` +
			`<link itemprop="name" content="Some channel"></head></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.Client())
	c.oembedURL = srv.URL + "/oembed"
	c.pageURL = srv.URL + "/page/"

	data, err := c.Get(context.Background(), "https://youtu.be/vid")
	require.NoError(t, err)
	assert.Equal(t, "Some video", data.Title)
	assert.Equal(t, "Some channel", data.AuthorName)
}

func TestGetWithEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://www.youtube.com/watch?v=vid", r.URL.Query().Get("url"))
		w.Write([]byte(`{"title":"Embedded","author_name":"A","thumbnail_url":"t"}`))
	}))
	defer srv.Close()

	c := New(srv.Client())
	c.oembedURL = srv.URL

	data, err := c.Get(context.Background(), "https://www.youtube.com/watch?v=vid")
	require.NoError(t, err)
	assert.Equal(t, "Embedded", data.Title)

	_, err = c.Get(context.Background(), "https://example.com/video.mp4")
	assert.ErrorIs(t, err, ErrNotYouTube)
}
