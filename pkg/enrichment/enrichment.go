// Package enrichment implements the streaming enrichment pipeline (C7): for
// a resolved mapping and episode it scrapes every provider's embed list,
// resolves each embed to a direct URL, checks the durable store, and
// enqueues whatever is missing for archival.
package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kurobara/anisource/pkg/hostresolver"
	"github.com/kurobara/anisource/pkg/logger"
	"github.com/kurobara/anisource/pkg/mapping"
	"github.com/kurobara/anisource/pkg/providers"
	"github.com/kurobara/anisource/pkg/queue"
)

// Config carries the wiring the pipeline needs to build proxy URLs and
// reach the archival worker's webhook.
type Config struct {
	Salt             string
	ProxyBaseURL     string
	WorkerTriggerURL string // archival worker's POST /trigger endpoint
	WebhookTimeout   time.Duration
	ScrapeCacheTTL   time.Duration
}

// Server is one streaming mirror, fully enriched for client consumption.
type Server struct {
	Provider    string `json:"provider"`
	URL         string `json:"url"`
	URLResolved string `json:"url_resolved,omitempty"`
	Resolution  string `json:"resolution"`
	Stream      string `json:"stream,omitempty"`
}

// Pipeline is the streaming enrichment pipeline bound to a fixed provider
// set and host resolver dispatcher.
type Pipeline struct {
	mapping    *mapping.Store
	queue      *queue.Store
	scrapers   map[string]providers.Scraper
	dispatcher *hostresolver.Dispatcher
	cfg        Config
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// scrapedServer is one provider embed, resolved once and cached for
// cfg.ScrapeCacheTTL.
type scrapedServer struct {
	provider    string
	embedURL    string
	resolvedURL string
	resolution  string
}

type cacheEntry struct {
	servers   []scrapedServer
	expiresAt time.Time
}

// New builds a Pipeline.
func New(store *mapping.Store, q *queue.Store, scrapers map[string]providers.Scraper, dispatcher *hostresolver.Dispatcher, cfg Config) *Pipeline {
	if cfg.WebhookTimeout == 0 {
		cfg.WebhookTimeout = 5 * time.Second
	}
	if cfg.ScrapeCacheTTL == 0 {
		cfg.ScrapeCacheTTL = 20 * time.Minute
	}
	return &Pipeline{
		mapping:    store,
		queue:      q,
		scrapers:   scrapers,
		dispatcher: dispatcher,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cache:      map[string]cacheEntry{},
	}
}

// resolveConcurrency bounds how many of one provider's embeds are resolved
// at once.
const resolveConcurrency = 4

func cacheKey(malID, episode int) string {
	return fmt.Sprintf("%d:%d", malID, episode)
}

// GetStreaming is the pipeline's single operation: for the given mapping
// and episode, return every provider's enriched streaming servers, keyed by
// provider name with a nil slice for a provider that yielded nothing. A
// fresh scrape runs at most once per ScrapeCacheTTL; the durable-store
// check and archival enqueue always run, cache hit or not.
func (p *Pipeline) GetStreaming(ctx context.Context, m mapping.Mapping, episode int) (map[string][]Server, error) {
	scraped, err := p.scrapedServers(ctx, m, episode)
	if err != nil {
		return nil, err
	}

	byProvider := make(map[string][]Server, len(p.scrapers))
	for provider := range p.scrapers {
		byProvider[provider] = nil
	}

	for _, s := range scraped {
		server, err := p.enrich(ctx, m.MAL.MALID, episode, s)
		if err != nil {
			logger.Errorf(err, "enrich server provider=%s mal=%d ep=%d", s.provider, m.MAL.MALID, episode)
			continue
		}
		byProvider[s.provider] = append(byProvider[s.provider], server)
	}
	return byProvider, nil
}

func (p *Pipeline) scrapedServers(ctx context.Context, m mapping.Mapping, episode int) ([]scrapedServer, error) {
	key := cacheKey(m.MAL.MALID, episode)

	p.mu.Lock()
	entry, ok := p.cache[key]
	p.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.servers, nil
	}

	fresh, err := p.scrapeAll(ctx, m, episode)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[key] = cacheEntry{servers: fresh, expiresAt: time.Now().Add(p.cfg.ScrapeCacheTTL)}
	p.mu.Unlock()
	return fresh, nil
}

func (p *Pipeline) scrapeAll(ctx context.Context, m mapping.Mapping, episode int) ([]scrapedServer, error) {
	var mu sync.Mutex
	var all []scrapedServer

	g, gctx := errgroup.WithContext(ctx)
	for provider, scraper := range p.scrapers {
		provider, scraper := provider, scraper
		slug, ok := m.SlugFor(provider)
		if !ok {
			continue
		}

		g.Go(func() error {
			embeds, err := scraper.EpisodeServers(gctx, slug, episode)
			if err != nil {
				logger.Errorf(err, "scrape episode servers provider=%s slug=%s ep=%d", provider, slug, episode)
				return nil
			}

			// Each embed resolution can spend the host resolver's full
			// timeout, so they run concurrently within the provider too,
			// bounded so one page with many mirrors doesn't stampede the
			// embed hosts.
			local := make([]scrapedServer, len(embeds))
			eg, ectx := errgroup.WithContext(gctx)
			eg.SetLimit(resolveConcurrency)
			for i, embed := range embeds {
				i, embed := i, embed
				eg.Go(func() error {
					resolved, _ := p.dispatcher.Resolve(ectx, embed.EmbedURL)
					local[i] = scrapedServer{
						provider:    provider,
						embedURL:    embed.EmbedURL,
						resolvedURL: resolved,
						resolution:  embed.Resolution,
					}
					return nil
				})
			}
			eg.Wait()

			mu.Lock()
			all = append(all, local...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

// enrich runs the per-request store check, and if the file isn't archived
// yet, enqueues it and fires the archival webhook.
func (p *Pipeline) enrich(ctx context.Context, malID, episode int, s scrapedServer) (Server, error) {
	storeEntry, err := p.queue.FindStoreEntry(ctx, malID, episode, s.provider, s.resolution)
	if err == nil {
		return Server{
			Provider:    s.provider,
			URL:         s.embedURL,
			URLResolved: storeEntry.DirectURL,
			Resolution:  s.resolution,
			Stream:      p.proxyURL(storeEntry.DirectURL),
		}, nil
	}

	streamURL := ""
	if s.resolvedURL != "" {
		streamURL = p.proxyURL(s.resolvedURL)
	}

	inFlight, err := p.queue.HasInFlight(ctx, malID, episode, s.provider, s.resolution)
	if err != nil {
		return Server{}, fmt.Errorf("check in-flight queue entry: %w", err)
	}
	if !inFlight {
		downloadURL := s.resolvedURL
		if downloadURL == "" || hostresolver.RequiresOriginNetwork(s.embedURL) {
			downloadURL = s.embedURL
		}

		if _, err := p.queue.Enqueue(ctx, malID, episode, s.provider, downloadURL, s.resolution); err != nil {
			return Server{}, fmt.Errorf("enqueue archival job: %w", err)
		}
		go p.fireWebhook(malID, episode, s.provider, downloadURL, s.resolution)
	}

	return Server{
		Provider:    s.provider,
		URL:         s.embedURL,
		URLResolved: s.resolvedURL,
		Resolution:  s.resolution,
		Stream:      streamURL,
	}, nil
}

func (p *Pipeline) proxyURL(target string) string {
	if target == "" {
		return ""
	}
	return p.cfg.ProxyBaseURL + "/proxy?url=" + url.QueryEscape(target)
}

// webhookPayload is the POST body sent to the archival worker's trigger
// endpoint.
type webhookPayload struct {
	MALID      int    `json:"mal_id"`
	Episode    int    `json:"episode"`
	Provider   string `json:"provider"`
	VideoURL   string `json:"video_url"`
	Resolution string `json:"resolution"`
}

// fireWebhook is a best-effort notification; the worker's poll cycle is the
// durable path, so failures here are logged and swallowed.
func (p *Pipeline) fireWebhook(malID, episode int, provider, videoURL, resolution string) {
	if p.cfg.WorkerTriggerURL == "" {
		return
	}

	body, err := json.Marshal(webhookPayload{
		MALID: malID, Episode: episode, Provider: provider, VideoURL: videoURL, Resolution: resolution,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WebhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.WorkerTriggerURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.Salt)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		logger.Warnf("archival trigger webhook failed for mal=%d ep=%d provider=%s: %v", malID, episode, provider, err)
		return
	}
	resp.Body.Close()
}

// InvalidateCache drops the scrape cache entry for (malID, episode), so the
// next GetStreaming call re-scrapes instead of reusing stale embed URLs.
// Backs the privileged cache-invalidation endpoint the archival worker
// calls after a successful commit.
func (p *Pipeline) InvalidateCache(malID, episode int) {
	p.mu.Lock()
	delete(p.cache, cacheKey(malID, episode))
	p.mu.Unlock()
}
