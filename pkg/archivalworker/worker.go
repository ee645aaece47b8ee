// Package archivalworker drains the queue package's job table: for each
// claimed entry it resolves a final download URL, remuxes or downloads the
// video, pushes it to every configured storage target, and records the
// result in the durable store.
package archivalworker

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kurobara/anisource/pkg/hostresolver"
	"github.com/kurobara/anisource/pkg/logger"
	"github.com/kurobara/anisource/pkg/muxer"
	"github.com/kurobara/anisource/pkg/queue"
	"github.com/kurobara/anisource/pkg/storage"
)

// Config carries the knobs the worker loop runs under.
type Config struct {
	Salt            string
	Namespace       string // prefixes every archival object path
	PollInterval    time.Duration
	ClaimBatch      int
	Concurrency     int64
	WebhookTimeout  time.Duration
	InvalidateURL   string // API cache-invalidation endpoint pinged after each commit, empty disables it
	DownloadRetries int
	DownloadTimeout time.Duration
}

// Worker runs the archival pipeline against a shared queue store.
type Worker struct {
	queue      *queue.Store
	targets    []storage.Target
	dispatcher *hostresolver.Dispatcher
	muxer      *muxer.Muxer
	httpClient *http.Client
	cfg        Config
	sem        *semaphore.Weighted
}

// New builds a Worker. targets must have at least one entry; the first to
// successfully upload a given job becomes that job's primary URL.
func New(q *queue.Store, targets []storage.Target, dispatcher *hostresolver.Dispatcher, cfg Config) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 2
	}
	if cfg.ClaimBatch < 1 {
		cfg.ClaimBatch = int(cfg.Concurrency)
	}
	if cfg.DownloadRetries < 1 {
		cfg.DownloadRetries = 3
	}
	if cfg.DownloadTimeout == 0 {
		cfg.DownloadTimeout = 20 * time.Minute
	}
	return &Worker{
		queue:      q,
		targets:    targets,
		dispatcher: dispatcher,
		muxer:      muxer.New(),
		httpClient: &http.Client{Timeout: cfg.DownloadTimeout},
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.Concurrency),
	}
}

// Run polls the queue on cfg.PollInterval until ctx is cancelled, draining
// whatever is claimable on each tick.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.DrainOnce(ctx)
		}
	}
}

// DrainOnce claims and processes one batch of pending entries. It is safe
// to call concurrently with Run's own tick, since claiming is done with
// FOR UPDATE SKIP LOCKED at the database level; this is what the /trigger
// webhook handler calls for an out-of-band kick.
func (w *Worker) DrainOnce(ctx context.Context) {
	entries, err := w.queue.Claim(ctx, w.cfg.ClaimBatch)
	if err != nil {
		logger.Errorf(err, "claim archival batch")
		return
	}
	if len(entries) == 0 {
		return
	}

	for _, entry := range entries {
		entry := entry
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func() {
			defer w.sem.Release(1)
			w.processEntry(ctx, entry)
		}()
	}
}

func (w *Worker) processEntry(ctx context.Context, entry queue.Entry) {
	storeEntry, err := w.archive(ctx, entry)
	if err != nil {
		logger.Errorf(err, "archive job %d (mal=%d ep=%d provider=%s)", entry.ID, entry.MALID, entry.Episode, entry.Provider)
		if statusErr := w.queue.UpdateStatus(ctx, entry.ID, queue.StatusFailed, err.Error()); statusErr != nil {
			logger.Errorf(statusErr, "mark job %d failed", entry.ID)
		}
		return
	}

	if _, err := w.queue.UpsertStoreEntry(ctx, storeEntry); err != nil {
		logger.Errorf(err, "commit store entry for job %d", entry.ID)
		return
	}

	go w.pingInvalidate(entry.MALID, entry.Episode)
}

func (w *Worker) archive(ctx context.Context, entry queue.Entry) (queue.StoreEntry, error) {
	if err := w.queue.UpdateStatus(ctx, entry.ID, queue.StatusDownloading, ""); err != nil {
		return queue.StoreEntry{}, fmt.Errorf("mark downloading: %w", err)
	}

	downloadURL := entry.VideoURL
	if !isDirectVideoURL(downloadURL) {
		resolved, ok := w.dispatcher.Resolve(ctx, downloadURL)
		if !ok {
			return queue.StoreEntry{}, fmt.Errorf("could not resolve embed %s", downloadURL)
		}
		downloadURL = resolved
	}

	workDir, err := os.MkdirTemp("", "anisource-archival-*")
	if err != nil {
		return queue.StoreEntry{}, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	localPath := filepath.Join(workDir, "video.mp4")

	if strings.Contains(downloadURL, ".m3u8") {
		if err := w.muxer.RemuxHLSToMP4(ctx, downloadURL, localPath); err != nil {
			return queue.StoreEntry{}, fmt.Errorf("remux hls: %w", err)
		}
	} else if err := w.downloadWithRetries(ctx, downloadURL, localPath); err != nil {
		return queue.StoreEntry{}, fmt.Errorf("download source: %w", err)
	}

	if err := w.queue.UpdateStatus(ctx, entry.ID, queue.StatusUploading, ""); err != nil {
		return queue.StoreEntry{}, fmt.Errorf("mark uploading: %w", err)
	}

	fileKey := queue.FileKey(w.cfg.Salt, entry.MALID, entry.Episode, entry.Provider, entry.Resolution)
	storagePath := fmt.Sprintf("%s-%d/%d/ep%d/%s.mp4", w.cfg.Namespace, entry.MALID, entry.MALID, entry.Episode, fileKey)

	var primaryURL string
	var primaryAccount int
	var primaryName string
	uploaded := 0

	for i, target := range w.targets {
		if err := target.UploadFromPath(ctx, localPath, storagePath); err != nil {
			logger.Errorf(err, "upload job %d to target %s", entry.ID, target.Name())
			continue
		}
		uploaded++
		if primaryURL == "" {
			url, err := target.DirectURL(ctx, storagePath)
			if err == nil {
				primaryURL = url
				primaryAccount = i
				primaryName = target.Name()
			}
		}
	}

	if uploaded == 0 {
		return queue.StoreEntry{}, fmt.Errorf("all %d storage targets failed", len(w.targets))
	}

	return queue.StoreEntry{
		MALID:        entry.MALID,
		Episode:      entry.Episode,
		Provider:     entry.Provider,
		Resolution:   entry.Resolution,
		FileKey:      fileKey,
		AccountIndex: primaryAccount,
		RepoID:       primaryName,
		Path:         storagePath,
		DirectURL:    primaryURL,
		StreamURL:    primaryURL,
	}, nil
}

func (w *Worker) downloadWithRetries(ctx context.Context, url, localPath string) error {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.DownloadRetries; attempt++ {
		if err := w.downloadOnce(ctx, url, localPath); err != nil {
			lastErr = err
			logger.Warnf("download attempt %d/%d failed: %v", attempt, w.cfg.DownloadRetries, err)
			continue
		}
		return nil
	}
	return lastErr
}

func (w *Worker) downloadOnce(ctx context.Context, url, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.ReadFrom(resp.Body); err != nil {
		return err
	}
	return nil
}

// pingInvalidate fires a best-effort webhook so the API layer can drop its
// cached enrichment for this episode now that it is archived. Failures are
// logged, never surfaced to the caller.
func (w *Worker) pingInvalidate(malID, episode int) {
	if w.cfg.InvalidateURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WebhookTimeout)
	defer cancel()

	body := []byte(fmt.Sprintf(`{"mal_id":%d,"episode":%d,"secret":%q}`, malID, episode, w.cfg.Salt))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.InvalidateURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Warnf("cache invalidation ping failed for mal=%d ep=%d: %v", malID, episode, err)
		return
	}
	resp.Body.Close()
}

func isDirectVideoURL(url string) bool {
	return strings.Contains(url, ".mp4") || strings.Contains(url, ".m3u8")
}

// StatusSnapshot is the /status payload the worker binary exposes.
type StatusSnapshot struct {
	QueueCounts   map[string]int
	ArchivedCount int
}

// Status summarises current queue depth and total archived count.
func (w *Worker) Status(ctx context.Context) (StatusSnapshot, error) {
	counts, err := w.queue.StatusCounts(ctx)
	if err != nil {
		return StatusSnapshot{}, err
	}
	archived, err := w.queue.ArchivedCount(ctx)
	if err != nil {
		return StatusSnapshot{}, err
	}
	return StatusSnapshot{QueueCounts: counts, ArchivedCount: archived}, nil
}
