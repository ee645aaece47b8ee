// Package queue is the archival job queue: a SQL-level status machine with
// atomic claim-N semantics so multiple worker processes can safely drain it
// concurrently, plus the durable-store table the archival worker upserts
// into on success.
package queue

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusUploading   = "uploading"
	StatusReady       = "ready"
	StatusFailed      = "failed"
)

// ErrNotFound is returned when a queue lookup matches no row.
var ErrNotFound = errors.New("queue: not found")

// Entry is one video_queue row.
type Entry struct {
	ID           int64
	MALID        int
	Episode      int
	Provider     string
	VideoURL     string
	Resolution   string
	Status       string
	RetryCount   int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StoreEntry is one video_store row: a durably archived file.
type StoreEntry struct {
	ID           int64
	MALID        int
	Episode      int
	Provider     string
	Resolution   string
	FileKey      string
	AccountIndex int
	RepoID       string
	Path         string
	DirectURL    string
	StreamURL    string
	CreatedAt    time.Time
}

// Store is the Postgres-backed queue and durable-store repository.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FileKey derives the 32-hex-character obfuscated filename for an archival
// job: SHA-256(salt:mal:ep:provider:resolution), truncated to 32 hex chars.
func FileKey(salt string, malID, episode int, provider, resolution string) string {
	input := fmt.Sprintf("%s:%d:%d:%s:%s", salt, malID, episode, provider, resolution)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:32]
}

// Enqueue inserts a new queue entry, or updates an existing one on the
// unique key (mal_id, episode, provider, resolution). A ready entry is
// left untouched; a failed entry is revived to pending with the new
// video_url; any other status just refreshes updated_at.
func (s *Store) Enqueue(ctx context.Context, malID, episode int, provider, videoURL, resolution string) (Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := queryEntryForUpdate(ctx, tx, malID, episode, provider, resolution)
	switch {
	case errors.Is(err, ErrNotFound):
		var id int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO video_queue (mal_id, episode, provider, video_url, resolution, status, retry_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 0, now(), now())
			RETURNING id`,
			malID, episode, provider, videoURL, nullableResolution(resolution), StatusPending,
		).Scan(&id)
		if err != nil {
			return Entry{}, fmt.Errorf("insert queue entry: %w", err)
		}
	case err != nil:
		return Entry{}, err
	case existing.Status == StatusReady:
		// no-op
	case existing.Status == StatusFailed:
		if _, err := tx.ExecContext(ctx, `
			UPDATE video_queue SET status = $1, video_url = $2, updated_at = now() WHERE id = $3`,
			StatusPending, videoURL, existing.ID); err != nil {
			return Entry{}, fmt.Errorf("revive failed queue entry: %w", err)
		}
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE video_queue SET updated_at = now() WHERE id = $1`, existing.ID); err != nil {
			return Entry{}, fmt.Errorf("touch queue entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit enqueue tx: %w", err)
	}
	return s.FindByKey(ctx, malID, episode, provider, resolution)
}

func queryEntryForUpdate(ctx context.Context, tx *sql.Tx, malID, episode int, provider, resolution string) (Entry, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, mal_id, episode, provider, video_url, resolution, status, retry_count, COALESCE(error_message, ''), created_at, updated_at
		FROM video_queue
		WHERE mal_id = $1 AND episode = $2 AND provider = $3 AND resolution IS NOT DISTINCT FROM $4
		FOR UPDATE`, malID, episode, provider, nullableResolution(resolution))
	return scanEntry(row)
}

// FindByKey looks up a single queue entry by its unique key.
func (s *Store) FindByKey(ctx context.Context, malID, episode int, provider, resolution string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mal_id, episode, provider, video_url, resolution, status, retry_count, COALESCE(error_message, ''), created_at, updated_at
		FROM video_queue
		WHERE mal_id = $1 AND episode = $2 AND provider = $3 AND resolution IS NOT DISTINCT FROM $4`,
		malID, episode, provider, nullableResolution(resolution))
	return scanEntry(row)
}

// HasInFlight reports whether a queue entry already exists in any of the
// pending/downloading/uploading/ready states for the given key, so the
// enrichment pipeline can skip a redundant enqueue.
func (s *Store) HasInFlight(ctx context.Context, malID, episode int, provider, resolution string) (bool, error) {
	entry, err := s.FindByKey(ctx, malID, episode, provider, resolution)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return entry.Status != StatusFailed, nil
}

// Claim atomically selects up to n pending entries, skipping rows locked
// by a concurrent claim call, flips them to downloading, and returns them.
// Safe to call concurrently from multiple worker processes.
func (s *Store) Claim(ctx context.Context, n int) ([]Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, mal_id, episode, provider, video_url, resolution, status, retry_count, COALESCE(error_message, ''), created_at, updated_at
		FROM video_queue
		WHERE status = $1
		ORDER BY updated_at
		FOR UPDATE SKIP LOCKED
		LIMIT $2`, StatusPending, n)
	if err != nil {
		return nil, fmt.Errorf("select claimable entries: %w", err)
	}

	var claimed []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimable entries: %w", err)
	}
	rows.Close()

	for i := range claimed {
		if _, err := tx.ExecContext(ctx, `UPDATE video_queue SET status = $1, updated_at = now() WHERE id = $2`,
			StatusDownloading, claimed[i].ID); err != nil {
			return nil, fmt.Errorf("mark entry %d downloading: %w", claimed[i].ID, err)
		}
		claimed[i].Status = StatusDownloading
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return claimed, nil
}

// UpdateStatus transitions a queue entry's status. On failed, retry_count
// is incremented and errMsg recorded.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status string, errMsg string) error {
	if status == StatusFailed {
		_, err := s.db.ExecContext(ctx, `
			UPDATE video_queue SET status = $1, retry_count = retry_count + 1, error_message = $2, updated_at = now()
			WHERE id = $3`, status, errMsg, id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE video_queue SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	return err
}

// UpsertStoreEntry inserts or replaces a durable-store row by its unique
// key and, in the same transaction, promotes the corresponding queue entry
// to ready.
func (s *Store) UpsertStoreEntry(ctx context.Context, entry StoreEntry) (StoreEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StoreEntry{}, fmt.Errorf("begin store upsert tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO video_store (mal_id, episode, provider, resolution, file_key, account_index, repo_id, path, direct_url, stream_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (mal_id, episode, provider, resolution) DO UPDATE SET
			file_key = EXCLUDED.file_key,
			account_index = EXCLUDED.account_index,
			repo_id = EXCLUDED.repo_id,
			path = EXCLUDED.path,
			direct_url = EXCLUDED.direct_url,
			stream_url = EXCLUDED.stream_url
		RETURNING id`,
		entry.MALID, entry.Episode, entry.Provider, nullableResolution(entry.Resolution),
		entry.FileKey, entry.AccountIndex, entry.RepoID, entry.Path, entry.DirectURL, entry.StreamURL,
	).Scan(&id)
	if err != nil {
		return StoreEntry{}, fmt.Errorf("upsert store entry: %w", err)
	}
	entry.ID = id

	if _, err := tx.ExecContext(ctx, `
		UPDATE video_queue SET status = $1, updated_at = now()
		WHERE mal_id = $2 AND episode = $3 AND provider = $4 AND resolution IS NOT DISTINCT FROM $5`,
		StatusReady, entry.MALID, entry.Episode, entry.Provider, nullableResolution(entry.Resolution)); err != nil {
		return StoreEntry{}, fmt.Errorf("promote queue entry to ready: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return StoreEntry{}, fmt.Errorf("commit store upsert tx: %w", err)
	}
	return entry, nil
}

// FindStoreEntry looks up a durable-store row by its unique key.
func (s *Store) FindStoreEntry(ctx context.Context, malID, episode int, provider, resolution string) (StoreEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mal_id, episode, provider, COALESCE(resolution, ''), file_key, account_index, repo_id, path, direct_url, stream_url, created_at
		FROM video_store
		WHERE mal_id = $1 AND episode = $2 AND provider = $3 AND resolution IS NOT DISTINCT FROM $4`,
		malID, episode, provider, nullableResolution(resolution))

	var e StoreEntry
	err := row.Scan(&e.ID, &e.MALID, &e.Episode, &e.Provider, &e.Resolution, &e.FileKey, &e.AccountIndex,
		&e.RepoID, &e.Path, &e.DirectURL, &e.StreamURL, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StoreEntry{}, ErrNotFound
	}
	if err != nil {
		return StoreEntry{}, fmt.Errorf("scan store entry: %w", err)
	}
	return e, nil
}

// StatusCounts returns the number of queue entries per status, for the
// worker's /status endpoint.
func (s *Store) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM video_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// ArchivedCount returns the total number of durable-store rows.
func (s *Store) ArchivedCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM video_store`).Scan(&count)
	return count, err
}

func nullableResolution(resolution string) interface{} {
	if resolution == "" {
		return nil
	}
	return resolution
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var resolution sql.NullString
	err := row.Scan(&e.ID, &e.MALID, &e.Episode, &e.Provider, &e.VideoURL, &resolution,
		&e.Status, &e.RetryCount, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("scan queue entry: %w", err)
	}
	e.Resolution = resolution.String
	return e, nil
}
