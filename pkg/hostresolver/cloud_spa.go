package hostresolver

import (
	"context"
	"encoding/json"
	"html"
	"io"
	"net/http"
	"regexp"
)

var dataPageRe = regexp.MustCompile(`data-page="([^"]*)"`)

// cloudSPAResolver handles embed hosts built as a server-rendered SPA that
// embeds its initial props as an HTML-entity-encoded JSON blob.
type cloudSPAResolver struct {
	httpClient *http.Client
}

func NewCloudSPAResolver() Resolver {
	return &cloudSPAResolver{httpClient: &http.Client{}}
}

type spaPage struct {
	Props struct {
		URL string `json:"url"`
	} `json:"props"`
}

func (r *cloudSPAResolver) Resolve(ctx context.Context, embedURL string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, embedURL, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false
	}

	match := dataPageRe.FindSubmatch(body)
	if match == nil {
		return "", false
	}

	decoded := html.UnescapeString(string(match[1]))
	var page spaPage
	if err := json.Unmarshal([]byte(decoded), &page); err != nil {
		return "", false
	}
	if page.Props.URL == "" {
		return "", false
	}
	return page.Props.URL, true
}
