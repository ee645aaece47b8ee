// Package mapping is the Postgres-backed store of canonical anime entries:
// one row per MyAnimeList title, carrying every per-provider slug and
// perceptual hash discovered for it.
package mapping

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kurobara/anisource/pkg/phash"
)

// ErrNotFound is returned by the Find* methods when no row matches.
var ErrNotFound = errors.New("mapping: not found")

// MALMetadata is the MyAnimeList-sourced metadata attached to a Mapping.
type MALMetadata struct {
	MALID    int
	Title    string
	Episodes int
	Year     int
	ImageURL string
}

// Mapping is one canonical anime entry: a canonical slug, its MAL metadata
// (once resolved), the slug it is known by on each provider that has been
// searched, and every perceptual hash seen for its cover art.
type Mapping struct {
	ID        int64
	Slug      string
	Slugs     map[string]string
	MAL       MALMetadata
	PHashes   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SlugFor returns the slug known for provider, and whether one is recorded.
func (m Mapping) SlugFor(provider string) (string, bool) {
	slug, ok := m.Slugs[provider]
	return slug, ok
}

// MarshalJSON flattens a Mapping into the wire shape API responses expect:
// per-provider slugs as top-level slug_<provider> keys rather than a nested
// object, so callers can address data.mapping.slug_animasu directly.
func (m Mapping) MarshalJSON() ([]byte, error) {
	raw := map[string]interface{}{
		"id":             m.ID,
		"slug":           m.Slug,
		"mal_id":         m.MAL.MALID,
		"title_main":     m.MAL.Title,
		"release_year":   m.MAL.Year,
		"total_episodes": m.MAL.Episodes,
		"image_url":      m.MAL.ImageURL,
		"created_at":     m.CreatedAt,
		"last_sync":      m.UpdatedAt,
	}

	if len(m.PHashes) > 0 {
		raw["phash_v1"] = m.PHashes[len(m.PHashes)-1]
	} else {
		raw["phash_v1"] = nil
	}

	for provider, slug := range m.Slugs {
		raw["slug_"+provider] = slug
	}

	return json.Marshal(raw)
}

// Store is the Postgres-backed mapping repository.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-connected *sql.DB.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindBySlug returns the mapping currently known by slug on provider.
func (s *Store) FindBySlug(ctx context.Context, provider, slug string) (Mapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.slug, m.mal_id, m.mal_title, m.mal_episodes, m.mal_year, m.mal_image_url, m.created_at, m.updated_at
		FROM mappings m
		JOIN mapping_slugs ms ON ms.mapping_id = m.id
		WHERE ms.provider = $1 AND ms.slug = $2`, provider, slug)
	m, err := scanMapping(row)
	if err != nil {
		return Mapping{}, err
	}
	return s.hydrate(ctx, m)
}

// FindByMALID returns the mapping already linked to a given MyAnimeList ID.
func (s *Store) FindByMALID(ctx context.Context, malID int) (Mapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, mal_id, mal_title, mal_episodes, mal_year, mal_image_url, created_at, updated_at
		FROM mappings WHERE mal_id = $1`, malID)
	m, err := scanMapping(row)
	if err != nil {
		return Mapping{}, err
	}
	return s.hydrate(ctx, m)
}

// PHashCandidate is one row of the nearest-hash search result.
type PHashCandidate struct {
	Mapping  Mapping
	Hash     string
	Distance int
}

// FindNearestPHash scans stored hashes and returns the mapping whose
// closest stored hash is strictly below threshold Hamming distance from
// target. The
// comparison happens in Go, not SQL, since Postgres has no native Hamming
// operator over arbitrary hex strings; callers should keep the mappings
// table to a size this scan comfortably handles (tens of thousands of
// rows).
func (s *Store) FindNearestPHash(ctx context.Context, target string, threshold int) (PHashCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mapping_id, hash FROM mapping_phashes`)
	if err != nil {
		return PHashCandidate{}, fmt.Errorf("query phashes: %w", err)
	}
	defer rows.Close()

	bestDistance := threshold + 1
	var bestMappingID int64
	var bestHash string
	found := false

	for rows.Next() {
		var mappingID int64
		var hash string
		if err := rows.Scan(&mappingID, &hash); err != nil {
			return PHashCandidate{}, fmt.Errorf("scan phash row: %w", err)
		}
		d := phash.Hamming(target, hash)
		if d < 0 {
			continue
		}
		if d < threshold && d < bestDistance {
			bestDistance = d
			bestMappingID = mappingID
			bestHash = hash
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return PHashCandidate{}, fmt.Errorf("iterate phash rows: %w", err)
	}
	if !found {
		return PHashCandidate{}, ErrNotFound
	}

	// Re-check the winning distance against the target hash before
	// trusting it.
	verifiedDistance := phash.Hamming(target, bestHash)
	if verifiedDistance < 0 || verifiedDistance >= threshold {
		return PHashCandidate{}, ErrNotFound
	}

	m, err := s.findByID(ctx, bestMappingID)
	if err != nil {
		return PHashCandidate{}, err
	}
	return PHashCandidate{Mapping: m, Hash: bestHash, Distance: verifiedDistance}, nil
}

func (s *Store) findByID(ctx context.Context, id int64) (Mapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, mal_id, mal_title, mal_episodes, mal_year, mal_image_url, created_at, updated_at
		FROM mappings WHERE id = $1`, id)
	m, err := scanMapping(row)
	if err != nil {
		return Mapping{}, err
	}
	return s.hydrate(ctx, m)
}

func (s *Store) hydrate(ctx context.Context, m Mapping) (Mapping, error) {
	hashes, err := s.pHashesFor(ctx, m.ID)
	if err != nil {
		return Mapping{}, err
	}
	slugs, err := s.slugsFor(ctx, m.ID)
	if err != nil {
		return Mapping{}, err
	}
	m.PHashes = hashes
	m.Slugs = slugs
	return m, nil
}

func (s *Store) pHashesFor(ctx context.Context, mappingID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hash FROM mapping_phashes WHERE mapping_id = $1`, mappingID)
	if err != nil {
		return nil, fmt.Errorf("query mapping phashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan mapping phash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (s *Store) slugsFor(ctx context.Context, mappingID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider, slug FROM mapping_slugs WHERE mapping_id = $1`, mappingID)
	if err != nil {
		return nil, fmt.Errorf("query mapping slugs: %w", err)
	}
	defer rows.Close()

	slugs := map[string]string{}
	for rows.Next() {
		var provider, slug string
		if err := rows.Scan(&provider, &slug); err != nil {
			return nil, fmt.Errorf("scan mapping slug: %w", err)
		}
		slugs[provider] = slug
	}
	return slugs, rows.Err()
}

// UpsertMapping field-wise coalesces incoming MAL data onto any existing row
// for malID (falling back to matching by canonical slug when malID is
// unknown): a non-zero/non-empty incoming field overwrites the stored
// value, a zero/empty incoming field leaves the stored value untouched. A
// new perceptual hash is appended to mapping_phashes rather than replacing
// previously recorded ones, since different providers serve different
// cover art for the same title.
func (s *Store) UpsertMapping(ctx context.Context, canonicalSlug string, mal MALMetadata, newHash string) (Mapping, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Mapping{}, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	if mal.MALID != 0 {
		err = tx.QueryRowContext(ctx, `SELECT id FROM mappings WHERE mal_id = $1 FOR UPDATE`, mal.MALID).Scan(&id)
	} else {
		err = tx.QueryRowContext(ctx, `SELECT id FROM mappings WHERE slug = $1 FOR UPDATE`, canonicalSlug).Scan(&id)
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRowContext(ctx, `
			INSERT INTO mappings (slug, mal_id, mal_title, mal_episodes, mal_year, mal_image_url, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			RETURNING id`,
			canonicalSlug, nullableInt(mal.MALID), mal.Title, nullableInt(mal.Episodes), nullableInt(mal.Year), mal.ImageURL,
		).Scan(&id)
		if err != nil {
			return Mapping{}, fmt.Errorf("insert mapping: %w", err)
		}
	case err != nil:
		return Mapping{}, fmt.Errorf("lock mapping row: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE mappings SET
				slug = COALESCE(NULLIF($2, ''), slug),
				mal_id = COALESCE(NULLIF($3, 0), mal_id),
				mal_title = COALESCE(NULLIF($4, ''), mal_title),
				mal_episodes = COALESCE(NULLIF($5, 0), mal_episodes),
				mal_year = COALESCE(NULLIF($6, 0), mal_year),
				mal_image_url = COALESCE(NULLIF($7, ''), mal_image_url),
				updated_at = now()
			WHERE id = $1`,
			id, canonicalSlug, mal.MALID, mal.Title, mal.Episodes, mal.Year, mal.ImageURL,
		); err != nil {
			return Mapping{}, fmt.Errorf("coalesce mapping: %w", err)
		}
	}

	if newHash != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mapping_phashes (mapping_id, hash)
			VALUES ($1, $2)
			ON CONFLICT (mapping_id, hash) DO NOTHING`, id, newHash); err != nil {
			return Mapping{}, fmt.Errorf("insert phash: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Mapping{}, fmt.Errorf("commit upsert tx: %w", err)
	}

	return s.findByID(ctx, id)
}

// SetSlug records the slug a mapping is known by on provider, overwriting
// any slug previously recorded for that provider.
func (s *Store) SetSlug(ctx context.Context, mappingID int64, provider, slug string) error {
	if provider == "" || slug == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mapping_slugs (mapping_id, provider, slug)
		VALUES ($1, $2, $3)
		ON CONFLICT (mapping_id, provider) DO UPDATE SET slug = EXCLUDED.slug`,
		mappingID, provider, slug)
	if err != nil {
		return fmt.Errorf("set mapping slug: %w", err)
	}
	return nil
}

func nullableInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMapping(row rowScanner) (Mapping, error) {
	var m Mapping
	var malID, malEpisodes, malYear sql.NullInt64
	var malTitle, malImageURL sql.NullString

	err := row.Scan(&m.ID, &m.Slug, &malID, &malTitle, &malEpisodes, &malYear, &malImageURL, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Mapping{}, ErrNotFound
	}
	if err != nil {
		return Mapping{}, fmt.Errorf("scan mapping: %w", err)
	}

	m.MAL = MALMetadata{
		MALID:    int(malID.Int64),
		Title:    malTitle.String,
		Episodes: int(malEpisodes.Int64),
		Year:     int(malYear.Int64),
		ImageURL: malImageURL.String,
	}
	return m, nil
}
