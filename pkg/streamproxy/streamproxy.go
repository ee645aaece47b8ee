// Package streamproxy is the stream proxy (C10): a single range-forwarding
// HTTP endpoint that shields clients from the upstream CDNs and embed hosts
// an archived or live URL actually lives on, rewriting HLS playlists so
// every segment routes back through the same proxy.
package streamproxy

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kurobara/anisource/pkg/logger"
)

const upstreamTimeout = 30 * time.Second

// Handler serves the proxy and health endpoints.
type Handler struct {
	httpClient   *http.Client
	proxyBaseURL string
	durableHosts []string // hostnames that require a HEAD-redirect pre-resolution hop
}

// New builds a Handler. durableHosts names the durable-storage hostnames
// (e.g. a MinIO/GCS endpoint) whose signed URLs redirect once before
// reaching the final CDN URL.
func New(proxyBaseURL string, durableHosts []string) *Handler {
	return &Handler{
		httpClient:   &http.Client{Timeout: upstreamTimeout},
		proxyBaseURL: proxyBaseURL,
		durableHosts: durableHosts,
	}
}

// Health answers GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Proxy serves GET /proxy?url=<encoded>.
func (h *Handler) Proxy(c *gin.Context) {
	h.setCORS(c)

	raw := c.Query("url")
	target, err := url.ParseRequestURI(raw)
	if err != nil || !target.IsAbs() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid url parameter"})
		return
	}

	if isPlaylist(target.Path, "") {
		h.proxyPlaylist(c, target.String())
		return
	}

	resolved := h.resolveDurable(c, target.String())
	h.proxyMedia(c, resolved)
}

func (h *Handler) setCORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
	c.Header("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Range")
}

// resolveDurable performs the two-hop resolution a durable-store URL needs: it
// often redirects once to a time-limited CDN URL, and
// following that redirect mid-stream (rather than ahead of time) breaks
// seeking on some CDNs, so it is resolved with a HEAD before the real GET.
func (h *Handler) resolveDurable(c *gin.Context, target string) string {
	parsed, err := url.Parse(target)
	if err != nil || !h.isDurableHost(parsed.Hostname()) {
		return target
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodHead, target, nil)
	if err != nil {
		return target
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		logger.Warnf("durable-store pre-resolve HEAD failed for %s: %v", target, err)
		return target
	}
	resp.Body.Close()

	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	return target
}

func (h *Handler) isDurableHost(host string) bool {
	for _, candidate := range h.durableHosts {
		if strings.Contains(host, candidate) {
			return true
		}
	}
	return false
}

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

func (h *Handler) proxyMedia(c *gin.Context, target string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, nil)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to build upstream request"})
		return
	}
	req.Header.Set("User-Agent", browserUA)
	if rng := c.GetHeader("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		logger.Errorf(err, "proxy upstream fetch failed for %s", target)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream connection failed"})
		return
	}
	defer resp.Body.Close()

	for _, header := range []string{"Content-Length", "Content-Range"} {
		if v := resp.Header.Get(header); v != "" {
			c.Header(header, v)
		}
	}
	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Disposition", "inline")
	c.Header("Content-Type", contentTypeFor(target, resp.Header.Get("Content-Type")))

	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		logger.Warnf("proxy stream copy interrupted for %s: %v", target, err)
	}
}

// proxyPlaylist fetches an .m3u8 playlist and rewrites every non-comment
// line into a proxied URL, so the player never talks to the upstream host
// directly.
func (h *Handler) proxyPlaylist(c *gin.Context, target string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, target, nil)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to build upstream request"})
		return
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		logger.Errorf(err, "proxy playlist fetch failed for %s", target)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream connection failed"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.Status(resp.StatusCode)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to read playlist"})
		return
	}

	base, err := url.Parse(target)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to parse playlist base URL"})
		return
	}

	rewritten := h.rewritePlaylist(string(body), base)

	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.String(http.StatusOK, rewritten)
}

func (h *Handler) rewritePlaylist(content string, base *url.URL) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		absolute := absolutise(base, trimmed)
		lines[i] = fmt.Sprintf("%s/proxy?url=%s", h.proxyBaseURL, url.QueryEscape(absolute))
	}
	return strings.Join(lines, "\n")
}

func absolutise(base *url.URL, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return ref
	}
	return base.ResolveReference(refURL).String()
}

func contentTypeFor(target, upstreamContentType string) string {
	lower := strings.ToLower(upstreamContentType)
	if strings.Contains(lower, "mpegurl") || isPlaylist(pathOf(target), "") {
		return "application/vnd.apple.mpegurl"
	}
	return "video/mp4"
}

// pathOf returns target's URL path, ignoring any query string, so a
// trailing "?t=..." on a signed CDN URL doesn't defeat the ".m3u8" suffix
// check. If target doesn't parse as a URL, it's returned unchanged.
func pathOf(target string) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return target
	}
	return parsed.Path
}

func isPlaylist(path, contentType string) bool {
	if strings.HasSuffix(strings.ToLower(path), ".m3u8") {
		return true
	}
	lower := strings.ToLower(contentType)
	return strings.Contains(lower, "vnd.apple.mpegurl") || strings.Contains(lower, "x-mpegurl")
}
