package ytvideodata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrNotYouTube = errors.New("not a youtube url")

type VideoData struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailUrl string `json:"thumbnail_url"`
}

type Client struct {
	http *http.Client
	// base urls, overridable in tests
	oembedURL string
	pageURL   string
}

func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}

	return &Client{
		http:      httpClient,
		oembedURL: "https://www.youtube.com/oembed",
		pageURL:   "https://youtu.be/",
	}
}

// Get looks up display data for a youtube video url. The oembed endpoint is
// tried first, the watch page is scraped for videos that refuse embedding.
func (c *Client) Get(ctx context.Context, videoURL string) (*VideoData, error) {
	videoId, err := VideoID(videoURL)
	if err != nil {
		return nil, err
	}

	videoData, err := c.getVideoWithEmbed(ctx, videoId)
	if err != nil {
		if !errors.Is(err, ErrVideoNotEmbeddable) {
			return nil, fmt.Errorf("failed to get video data with embed: %w", err)
		}

		videoData, err = c.getFromPage(ctx, videoId)
		if err != nil {
			return nil, fmt.Errorf("failed to get video data from page: %w", err)
		}
	}

	return videoData, nil
}

// VideoID extracts the video id from the usual youtube url shapes.
func VideoID(videoURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(videoURL))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotYouTube, err)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "youtube-nocookie.com", "music.youtube.com":
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/embed/"), strings.HasPrefix(u.Path, "/shorts/"), strings.HasPrefix(u.Path, "/live/"):
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			if len(parts) == 2 {
				id = parts[1]
			}
		}
	default:
		return "", ErrNotYouTube
	}

	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: no video id in %q", ErrNotYouTube, videoURL)
	}

	return id, nil
}
