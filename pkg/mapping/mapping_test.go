package mapping

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobara/anisource/pkg/database/databasetest"
)

type fakeRow struct {
	values []interface{}
	err    error
}

func (f fakeRow) Scan(dest ...interface{}) error {
	if f.err != nil {
		return f.err
	}
	for i, d := range dest {
		switch dst := d.(type) {
		case *int64:
			*dst = f.values[i].(int64)
		case *string:
			*dst = f.values[i].(string)
		case *sql.NullInt64:
			*dst = f.values[i].(sql.NullInt64)
		case *sql.NullString:
			*dst = f.values[i].(sql.NullString)
		case *time.Time:
			*dst = f.values[i].(time.Time)
		}
	}
	return nil
}

func TestScanMapping_Success(t *testing.T) {
	now := time.Now()
	row := fakeRow{values: []interface{}{
		int64(1), "one-piece",
		sql.NullInt64{Int64: 21, Valid: true}, sql.NullString{String: "One Piece", Valid: true},
		sql.NullInt64{Int64: 1000, Valid: true}, sql.NullInt64{Int64: 1999, Valid: true},
		sql.NullString{String: "https://img/op.jpg", Valid: true},
		now, now,
	}}

	m, err := scanMapping(row)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.ID)
	assert.Equal(t, "one-piece", m.Slug)
	assert.Equal(t, 21, m.MAL.MALID)
	assert.Equal(t, "One Piece", m.MAL.Title)
	assert.Equal(t, 1999, m.MAL.Year)
}

func TestScanMapping_NotFound(t *testing.T) {
	row := fakeRow{err: sql.ErrNoRows}
	_, err := scanMapping(row)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestNullableInt(t *testing.T) {
	assert.Nil(t, nullableInt(0))
	assert.Equal(t, 5, nullableInt(5))
}

func TestMapping_MarshalJSON_FlattensSlugs(t *testing.T) {
	m := Mapping{
		ID:   1,
		Slug: "one-piece",
		Slugs: map[string]string{
			"animasu":    "one-piece-animasu",
			"samehadaku": "one-piece-samehadaku",
		},
		MAL:     MALMetadata{MALID: 21, Title: "One Piece", Episodes: 1000, Year: 1999},
		PHashes: []string{"aaaa", "bbbb"},
	}

	raw, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.EqualValues(t, 21, decoded["mal_id"])
	assert.Equal(t, "One Piece", decoded["title_main"])
	assert.Equal(t, "one-piece-animasu", decoded["slug_animasu"])
	assert.Equal(t, "one-piece-samehadaku", decoded["slug_samehadaku"])
	assert.Equal(t, "bbbb", decoded["phash_v1"])
	assert.NotContains(t, decoded, "slugs")
}

func TestMapping_MarshalJSON_NoPHash(t *testing.T) {
	m := Mapping{ID: 2, Slug: "bare", MAL: MALMetadata{MALID: 5}}

	raw, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Nil(t, decoded["phash_v1"])
}

func TestUpsertMapping_CoalescesFieldsAndAppendsHashes(t *testing.T) {
	s := NewStore(databasetest.New(t))
	ctx := context.Background()

	first, err := s.UpsertMapping(ctx, "jigokuraku", MALMetadata{
		MALID:    55825,
		Title:    "Jigokuraku",
		Episodes: 13,
		Year:     2023,
		ImageURL: "https://img.test/a.jpg",
	}, strings.Repeat("a", 64))
	require.NoError(t, err)
	assert.Equal(t, 55825, first.MAL.MALID)
	assert.Len(t, first.PHashes, 1)

	// a partial later write: zero-valued fields preserve what is stored, a
	// new hash appends instead of replacing
	second, err := s.UpsertMapping(ctx, "", MALMetadata{MALID: 55825}, strings.Repeat("b", 64))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "jigokuraku", second.Slug)
	assert.Equal(t, "Jigokuraku", second.MAL.Title)
	assert.Equal(t, 13, second.MAL.Episodes)
	assert.Equal(t, 2023, second.MAL.Year)
	assert.Equal(t, "https://img.test/a.jpg", second.MAL.ImageURL)
	assert.Len(t, second.PHashes, 2)
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt), "last_sync always advances")

	// re-inserting a hash already recorded stays a single row
	third, err := s.UpsertMapping(ctx, "", MALMetadata{MALID: 55825}, strings.Repeat("a", 64))
	require.NoError(t, err)
	assert.Len(t, third.PHashes, 2)
}

func TestSetSlug_RoundTripsThroughFindBySlug(t *testing.T) {
	s := NewStore(databasetest.New(t))
	ctx := context.Background()

	m, err := s.UpsertMapping(ctx, "jigokuraku", MALMetadata{MALID: 55825, Title: "Jigokuraku"}, "")
	require.NoError(t, err)

	require.NoError(t, s.SetSlug(ctx, m.ID, "animasu", "jigokuraku-s2"))
	require.NoError(t, s.SetSlug(ctx, m.ID, "samehadaku", "jigokuraku-season-2"))

	found, err := s.FindBySlug(ctx, "animasu", "jigokuraku-s2")
	require.NoError(t, err)
	assert.Equal(t, m.ID, found.ID)
	assert.Equal(t, "jigokuraku-season-2", found.Slugs["samehadaku"])

	// re-recording a provider slug overwrites rather than duplicating
	require.NoError(t, s.SetSlug(ctx, m.ID, "animasu", "jigokuraku-part-2"))
	_, err = s.FindBySlug(ctx, "animasu", "jigokuraku-s2")
	assert.ErrorIs(t, err, ErrNotFound)
	found, err = s.FindBySlug(ctx, "animasu", "jigokuraku-part-2")
	require.NoError(t, err)
	assert.Equal(t, m.ID, found.ID)
}

func TestFindByMALID(t *testing.T) {
	s := NewStore(databasetest.New(t))
	ctx := context.Background()

	m, err := s.UpsertMapping(ctx, "jigokuraku", MALMetadata{MALID: 55825, Title: "Jigokuraku"}, "")
	require.NoError(t, err)

	found, err := s.FindByMALID(ctx, 55825)
	require.NoError(t, err)
	assert.Equal(t, m.ID, found.ID)

	_, err = s.FindByMALID(ctx, 99999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindNearestPHash(t *testing.T) {
	s := NewStore(databasetest.New(t))
	ctx := context.Background()

	stored := strings.Repeat("0", 64)
	m, err := s.UpsertMapping(ctx, "jigokuraku", MALMetadata{MALID: 55825, Title: "Jigokuraku"}, stored)
	require.NoError(t, err)

	// two bits flipped: within the default threshold
	near := strings.Repeat("0", 63) + "3"
	hit, err := s.FindNearestPHash(ctx, near, 5)
	require.NoError(t, err)
	assert.Equal(t, m.ID, hit.Mapping.ID)
	assert.Equal(t, stored, hit.Hash)
	assert.Equal(t, 2, hit.Distance)

	// maximally distant hash misses
	_, err = s.FindNearestPHash(ctx, strings.Repeat("f", 64), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}
