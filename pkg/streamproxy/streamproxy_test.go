package streamproxy

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobara/anisource/pkg/config"
	"github.com/kurobara/anisource/pkg/logger"
)

// the proxy logs upstream failures, so the package logger has to exist
// before the first test exercises an error path.
func TestMain(m *testing.M) {
	logger.InitLogger(&config.Config{Log: config.LogConfig{Level: "error", Format: "console"}})
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newProxyRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.GET("/proxy", h.Proxy)
	return r
}

func TestIsPlaylist_BySuffix(t *testing.T) {
	assert.True(t, isPlaylist("https://cdn.example/master.m3u8", ""))
	assert.False(t, isPlaylist("https://cdn.example/video.mp4", ""))
}

func TestIsPlaylist_ByContentType(t *testing.T) {
	assert.True(t, isPlaylist("https://cdn.example/stream", "application/vnd.apple.mpegurl"))
	assert.True(t, isPlaylist("https://cdn.example/stream", "application/x-mpegurl; charset=utf-8"))
	assert.False(t, isPlaylist("https://cdn.example/stream", "video/mp4"))
}

func TestContentTypeFor_ForcesMP4UnlessHLS(t *testing.T) {
	assert.Equal(t, "video/mp4", contentTypeFor("https://cdn.example/video.mp4", "binary/octet-stream"))
	assert.Equal(t, "application/vnd.apple.mpegurl", contentTypeFor("https://cdn.example/master.m3u8", ""))
	assert.Equal(t, "application/vnd.apple.mpegurl", contentTypeFor("https://cdn.example/x", "application/vnd.apple.mpegurl"))
}

func TestAbsolutise_RelativeAgainstBase(t *testing.T) {
	base, _ := url.Parse("https://cdn.example/hls/master.m3u8")
	assert.Equal(t, "https://cdn.example/hls/720p.m3u8", absolutise(base, "720p.m3u8"))
	assert.Equal(t, "https://other.example/seg.ts", absolutise(base, "https://other.example/seg.ts"))
}

func TestRewritePlaylist_LeavesCommentsIntact(t *testing.T) {
	h := New("https://proxy.example", nil)
	base, _ := url.Parse("https://cdn.example/hls/master.m3u8")

	content := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=100\n720p.m3u8\n"
	rewritten := h.rewritePlaylist(content, base)

	assert.Contains(t, rewritten, "#EXTM3U")
	assert.Contains(t, rewritten, "#EXT-X-STREAM-INF:BANDWIDTH=100")
	assert.Contains(t, rewritten, "https://proxy.example/proxy?url=")
	assert.NotContains(t, rewritten, "\n720p.m3u8\n")
}

func TestIsDurableHost_MatchesConfiguredSuffixes(t *testing.T) {
	h := New("https://proxy.example", []string{"minio.internal", "storage.googleapis.com"})
	assert.True(t, h.isDurableHost("objects.minio.internal"))
	assert.True(t, h.isDurableHost("storage.googleapis.com"))
	assert.False(t, h.isDurableHost("streamtape.com"))
}

func TestProxy_MissingURLParamIs400(t *testing.T) {
	router := newProxyRouter(New("https://proxy.example", nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxy_RelativeURLParamIs400(t *testing.T) {
	router := newProxyRouter(New("https://proxy.example", nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape("not-absolute/video.mp4"), nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxy_ForwardsRangeAndNormalisesHeaders(t *testing.T) {
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		assert.Equal(t, "bytes=0-1023", rng)

		w.Header().Set("Content-Length", "1024")
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-1023/%d", len(payload)))
		w.Header().Set("Content-Disposition", `attachment; filename="leak.mp4"`)
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[:1024])
	}))
	defer upstream.Close()

	router := newProxyRouter(New("https://proxy.example", nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape(upstream.URL+"/video.mp4"), nil)
	req.Header.Set("Range", "bytes=0-1023")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "inline", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, fmt.Sprintf("bytes 0-1023/%d", len(payload)), rec.Header().Get("Content-Range"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Len(t, rec.Body.Bytes(), 1024)
}

func TestProxy_RewritesHLSPlaylist(t *testing.T) {
	playlist := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000\nindex-v1-a1.m3u8?t=X\n"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte(playlist))
	}))
	defer upstream.Close()

	router := newProxyRouter(New("https://proxy.example", nil))

	target := upstream.URL + "/hls/master.m3u8"
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape(target), nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "#EXT-X-STREAM-INF:BANDWIDTH=1280000", lines[1])

	wantSegment := upstream.URL + "/hls/index-v1-a1.m3u8?t=X"
	assert.Equal(t, "https://proxy.example/proxy?url="+url.QueryEscape(wantSegment), lines[2])

	// the emitted url param round-trips back to the absolute segment URL
	parsed, err := url.Parse(lines[2])
	require.NoError(t, err)
	assert.Equal(t, wantSegment, parsed.Query().Get("url"))
}

func TestProxy_UpstreamConnectFailureIs502(t *testing.T) {
	// grab a port nothing is listening on
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	router := newProxyRouter(New("https://proxy.example", nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape(deadURL+"/video.mp4"), nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
