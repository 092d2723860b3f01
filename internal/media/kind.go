package media

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/sharetube/watchsync/internal/domain"
)

var embeddedHosts = []string{
	"youtube.com",
	"youtu.be",
	"youtube-nocookie.com",
	"vimeo.com",
	"twitch.tv",
	"dailymotion.com",
}

// SourceKindOf picks the backend family for a raw source url. Unparseable urls
// are treated as direct files and left for the engine to reject.
func SourceKindOf(rawURL string) domain.SourceKind {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return domain.SourceKindDirect
	}

	host := strings.ToLower(u.Hostname())
	for _, h := range embeddedHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return domain.SourceKindEmbedded
		}
	}

	switch strings.ToLower(path.Ext(u.Path)) {
	case ".m3u8", ".m3u":
		return domain.SourceKindHLS
	}

	if strings.Contains(strings.ToLower(u.RawQuery), "format=m3u8") {
		return domain.SourceKindHLS
	}

	return domain.SourceKindDirect
}

var hlsContentTypes = map[string]struct{}{
	"application/vnd.apple.mpegurl": {},
	"application/x-mpegurl":         {},
	"audio/mpegurl":                 {},
	"audio/x-mpegurl":               {},
}

// SourceKindOfContentType maps a declared MIME type to a backend family. It
// reports false when the type says nothing useful about the source.
func SourceKindOfContentType(contentType string) (domain.SourceKind, bool) {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(contentType))
	if err != nil {
		return "", false
	}

	if _, ok := hlsContentTypes[mediaType]; ok {
		return domain.SourceKindHLS, true
	}
	if strings.HasPrefix(mediaType, "video/") || strings.HasPrefix(mediaType, "audio/") {
		return domain.SourceKindDirect, true
	}

	return "", false
}

// ClassifySource resolves the kind of a source from, in order, an explicit
// kind, a declared content type and the url itself.
func ClassifySource(rawURL string, declared domain.SourceKind, contentType string) domain.SourceKind {
	if declared.Valid() {
		return declared
	}
	if kind, ok := SourceKindOfContentType(contentType); ok {
		return kind
	}

	return SourceKindOf(rawURL)
}

// ResolveSourceKind keeps a declared kind when it is valid and classifies the
// url otherwise.
func ResolveSourceKind(rawURL string, declared domain.SourceKind) domain.SourceKind {
	if declared.Valid() {
		return declared
	}

	return SourceKindOf(rawURL)
}
