package hostresolver

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/kurobara/anisource/pkg/logger"
)

var nodeIDRe = regexp.MustCompile(`[?&]p=(\d+)`)

// remoteAPIResolver handles embed hosts exposing a POST batch-command
// content-URL endpoint rather than serving an HTML page with links.
type remoteAPIResolver struct {
	httpClient *http.Client
}

func NewRemoteAPIResolver() Resolver {
	return &remoteAPIResolver{httpClient: &http.Client{}}
}

type batchCommand struct {
	A string `json:"a"`
	G int    `json:"g"`
	P int    `json:"p"`
}

type batchResult struct {
	Result []struct {
		G json.RawMessage `json:"g"`
	} `json:"result"`
}

func (r *remoteAPIResolver) Resolve(ctx context.Context, embedURL string) (string, bool) {
	parsed, err := url.Parse(embedURL)
	if err != nil {
		return "", false
	}

	nodeMatch := nodeIDRe.FindStringSubmatch(parsed.RawQuery)
	if nodeMatch == nil {
		return "", false
	}
	var node int
	fmt.Sscanf(nodeMatch[1], "%d", &node)

	payload, err := json.Marshal([]batchCommand{{A: "g", G: 1, P: node}})
	if err != nil {
		return "", false
	}

	apiURL := fmt.Sprintf("%s://%s/api?r=%s", parsed.Scheme, parsed.Host, randomHex(8))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	var result batchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false
	}
	if len(result.Result) == 0 {
		return "", false
	}

	raw := strings.TrimSpace(string(result.Result[0].G))
	var directURL string
	if err := json.Unmarshal([]byte(raw), &directURL); err == nil && directURL != "" {
		return directURL, true
	}

	var code int
	if err := json.Unmarshal([]byte(raw), &code); err == nil && code < 0 {
		logger.Warnf("remote api resolver returned error code %d for node %d", code, node)
	}
	return "", false
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}
